//go:build windows

package eventlog

import (
	"errors"
	"fmt"
)

const nextBatch = 64

type wevtReader struct {
	channel string
	query   string

	bookmark evtHandle
	// fromStart is set while the bookmark points at nothing, which happens
	// when the log was empty at SeekEnd.
	fromStart bool

	sysCtx  evtHandle
	userCtx evtHandle

	publishers map[string]evtHandle // 0 when the publisher has no metadata
	values     []uint64
	text       []uint16
	closed     bool
}

// Open creates a reader over an event log channel such as "Application".
// The bookmark starts before the oldest entry.
func Open(channel, query string) (Reader, error) {
	if err := modwevtapi.Load(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if query == "" {
		query = DefaultQuery
	}
	r := &wevtReader{
		channel:    channel,
		query:      query,
		fromStart:  true,
		publishers: make(map[string]evtHandle),
		values:     make([]uint64, 512),
		text:       make([]uint16, 1024),
	}
	var err error
	if r.bookmark, err = evtCreateBookmark(); err != nil {
		return nil, fmt.Errorf("create bookmark: %w", err)
	}
	if r.sysCtx, err = evtCreateRenderContext(evtRenderContextSystem); err != nil {
		r.Close()
		return nil, fmt.Errorf("create system render context: %w", err)
	}
	if r.userCtx, err = evtCreateRenderContext(evtRenderContextUser); err != nil {
		r.Close()
		return nil, fmt.Errorf("create user render context: %w", err)
	}
	// Fail early on a bad channel or query.
	rs, err := evtQuery(channel, query, evtQueryChannelPath|evtQueryForwardDirection)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("query %s: %w", channel, err)
	}
	evtClose(rs)
	return r, nil
}

func (r *wevtReader) SeekEnd() error {
	if r.closed {
		return ErrClosed
	}
	rs, err := evtQuery(r.channel, r.query,
		evtQueryChannelPath|evtQueryReverseDirection|evtQueryTolerateQueryErrors)
	if err != nil {
		return fmt.Errorf("query %s: %w", r.channel, err)
	}
	defer evtClose(rs)

	var newest [1]evtHandle
	n, err := evtNext(rs, newest[:], 0)
	if err != nil {
		return fmt.Errorf("read newest %s entry: %w", r.channel, err)
	}
	if n == 0 {
		r.fromStart = true
		return nil
	}
	defer evtClose(newest[0])
	if err := evtUpdateBookmark(r.bookmark, newest[0]); err != nil {
		return fmt.Errorf("update bookmark: %w", err)
	}
	r.fromStart = false
	return nil
}

func (r *wevtReader) Next(max int) ([]Entry, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if max <= 0 {
		max = nextBatch
	}
	rs, err := evtQuery(r.channel, r.query,
		evtQueryChannelPath|evtQueryForwardDirection|evtQueryTolerateQueryErrors)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.channel, err)
	}
	defer evtClose(rs)

	if !r.fromStart {
		if err := evtSeek(rs, 1, r.bookmark, evtSeekRelativeToBookmark); err != nil {
			if !errors.Is(err, errorEvtQueryResultInvalidPosition) && !errors.Is(err, errorEvtQueryResultStale) {
				return nil, fmt.Errorf("seek %s: %w", r.channel, err)
			}
			// nothing after the bookmark yet
			return nil, nil
		}
	}

	var (
		out     []Entry
		handles [nextBatch]evtHandle
	)
	for len(out) < max {
		n, err := evtNext(rs, handles[:min(nextBatch, max-len(out))], 0)
		if err != nil {
			return out, fmt.Errorf("read %s: %w", r.channel, err)
		}
		if n == 0 {
			break
		}
		for _, h := range handles[:n] {
			out = append(out, r.entry(h))
			if err := evtUpdateBookmark(r.bookmark, h); err == nil {
				r.fromStart = false
			}
			evtClose(h)
		}
	}
	return out, nil
}

// entry renders one event. Errors end up in FormatErr so that every raw
// entry yields exactly one Entry.
func (r *wevtReader) entry(h evtHandle) Entry {
	var e Entry
	sys, err := evtRenderValues(r.sysCtx, h, &r.values)
	if err != nil {
		e.FormatErr = fmt.Errorf("render system values: %w", err)
		return e
	}
	if len(sys) > evtSystemThreadID {
		e.Provider = sys[evtSystemProviderName].String()
		e.EventID = uint32(sys[evtSystemEventID].uint())
		e.Level = uint8(sys[evtSystemLevel].uint())
		e.Time = sys[evtSystemTimeCreated].time()
		e.RecordID = sys[evtSystemEventRecordID].uint()
		e.PID = uint32(sys[evtSystemProcessID].uint())
		e.TID = uint32(sys[evtSystemThreadID].uint())
	}

	e.Message, e.FormatErr = r.format(e.Provider, h)
	if e.FormatErr == nil {
		return e
	}
	user, err := evtRenderValues(r.userCtx, h, &r.values)
	if err != nil {
		return e
	}
	e.Values = make([]string, len(user))
	for i := range user {
		e.Values[i] = user[i].String()
	}
	return e
}

func (r *wevtReader) format(provider string, h evtHandle) (string, error) {
	pub, ok := r.publishers[provider]
	if !ok {
		var err error
		pub, err = evtOpenPublisherMetadata(provider)
		if err != nil {
			pub = 0
		}
		r.publishers[provider] = pub
	}
	if pub == 0 {
		return "", fmt.Errorf("%w: %s", errorEvtPublisherMetadataNotFound, provider)
	}
	return evtFormatEvent(pub, h, &r.text)
}

func (r *wevtReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	for _, p := range r.publishers {
		evtClose(p)
	}
	r.publishers = nil
	evtClose(r.userCtx)
	evtClose(r.sysCtx)
	evtClose(r.bookmark)
	return nil
}
