package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tekert/psfmonitor/monitor"
)

func liveRecord(i uint64, name, result string) *monitor.Record {
	return &monitor.Record{
		Index:     i,
		Timestamp: time.Unix(1700000000, 0),
		Start:     time.Unix(1700000000, 0).Add(-time.Millisecond),
		End:       time.Unix(1700000000, 0),
		PID:       4242,
		Source:    "Microsoft-Windows-PSFTraceFixup",
		Name:      name,
		Inputs:    monitor.Fields{{Name: "Path", Value: `C:\app\config.ini`}},
		Result:    result,
	}
}

func TestLineWriter(t *testing.T) {
	model := monitor.NewModel()
	var buf bytes.Buffer
	lw := newLineWriter(&buf)

	model.Drain(monitor.Batch{Records: []*monitor.Record{
		liveRecord(1, "CreateFile", "Success"),
		liveRecord(2, "RegOpenKeyEx", "Failure"),
	}})
	require.NoError(t, lw.write(model.Snapshot()))
	stale := model.Snapshot()

	model.Drain(monitor.Batch{Records: []*monitor.Record{liveRecord(3, "CopyFile", "Success")}})
	require.NoError(t, lw.write(model.Snapshot()))
	require.NoError(t, lw.write(stale))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, "RegOpenKeyEx", got["name"])
	assert.Equal(t, "unknown(4242)", got["processName"])
	assert.Equal(t, "Path=\tC:\\app\\config.ini", got["inputs"])
	assert.Equal(t, "Failure", got["class"])
	assert.Equal(t, "Registry", got["category"])
	assert.EqualValues(t, time.Millisecond, got["durationNs"])

	model.Clear()
	model.Drain(monitor.Batch{Records: []*monitor.Record{liveRecord(4, "CreateFile", "Success")}})
	require.NoError(t, lw.write(model.Snapshot()))
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 4)
}

func writtenIndices(t *testing.T, buf *bytes.Buffer) []uint64 {
	t.Helper()
	var out []uint64
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var got struct {
			Index uint64 `json:"index"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &got))
		out = append(out, got.Index)
	}
	return out
}

func TestLineWriterFilterChange(t *testing.T) {
	pidRecord := func(i uint64, pid uint32) *monitor.Record {
		r := liveRecord(i, "CreateFile", "Success")
		r.PID = pid
		return r
	}
	model := monitor.NewModel()
	var buf bytes.Buffer
	lw := newLineWriter(&buf)

	model.Drain(monitor.Batch{Records: []*monitor.Record{pidRecord(1, 1), pidRecord(2, 1), pidRecord(3, 2)}})
	require.NoError(t, lw.write(model.Snapshot()))

	// the filter change and the next drain reach the writer as one snapshot
	// whose view has the length already written
	model.SetProcessFilter(1)
	model.Drain(monitor.Batch{Records: []*monitor.Record{pidRecord(4, 1)}})
	require.Len(t, model.Snapshot().View, 3)
	require.NoError(t, lw.write(model.Snapshot()))
	assert.Equal(t, []uint64{1, 2, 3, 4}, writtenIndices(t, &buf))

	// a shrinking view does not print earlier records again
	model.SetProcessFilter(2)
	require.NoError(t, lw.write(model.Snapshot()))
	model.Drain(monitor.Batch{Records: []*monitor.Record{pidRecord(5, 2)}})
	require.NoError(t, lw.write(model.Snapshot()))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, writtenIndices(t, &buf))
}
