//go:build windows

package collect

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/tekert/goetw/etw"
	"golang.org/x/sys/windows"
)

type etwLiveSource struct{}

// NewLiveSource returns a real-time session source for the PSF provider.
func NewLiveSource() LiveSource { return etwLiveSource{} }

func (etwLiveSource) Run(ctx context.Context, session string, fn func(LiveEvent) error) error {
	prov, err := etw.ParseProvider(LiveProviderGUID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	prov.Name = LiveProviderName

	s := etw.NewRealTimeSession(session)
	if err := s.EnableProvider(prov); err != nil {
		// a previous run may have left the provider enabled; retry once
		_ = s.Stop()
		s = etw.NewRealTimeSession(session)
		if err := s.EnableProvider(prov); err != nil {
			return fmt.Errorf("%w: enable %s: %v", ErrSourceUnavailable, LiveProviderName, err)
		}
	}
	defer s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once   sync.Once
		runErr error
	)
	c := etw.NewConsumer(ctx).FromSessions(s)
	c.EventPreparedCallback = func(h *etw.EventRecordHelper) error {
		h.Skip()
		if ctx.Err() != nil {
			return nil
		}
		if err := fn(&etwLiveEvent{h: h}); err != nil {
			once.Do(func() {
				runErr = err
				cancel()
			})
		}
		return nil
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("live consumer: %w", err)
	}
	<-ctx.Done()
	if err := c.Stop(); err != nil {
		collog.Debug().Err(err).Msg("live consumer stop")
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return c.LastError()
}

type etwLiveEvent struct {
	h *etw.EventRecordHelper
}

func (e *etwLiveEvent) PID() uint32      { return e.h.EventRec.EventHeader.ProcessId }
func (e *etwLiveEvent) TID() uint32      { return e.h.EventRec.EventHeader.ThreadId }
func (e *etwLiveEvent) Time() time.Time  { return e.h.Timestamp() }
func (e *etwLiveEvent) Provider() string { return e.h.Provider() }

func (e *etwLiveEvent) String(name string) (string, error) {
	s, err := e.h.GetPropertyString(name)
	return s, propErr(err)
}

func (e *etwLiveEvent) Int(name string) (int64, error) {
	v, err := e.h.GetPropertyInt(name)
	return v, propErr(err)
}

// processImageName returns the executable name of a running process, or ""
// when the process is gone or not accessible.
func processImageName(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return filepath.Base(windows.UTF16ToString(buf[:size]))
}
