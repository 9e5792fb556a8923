package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func currentIndex(t *testing.T, s *Snapshot) uint64 {
	t.Helper()
	var found []uint64
	for _, r := range s.View {
		if r.CurrentMatch {
			found = append(found, r.Index)
		}
	}
	require.Len(t, found, 1, "exactly one current match")
	return found[0]
}

func searchModel() *Model {
	m := NewModel()
	m.Drain(Batch{Records: []*Record{
		{Index: 1, PID: 10, Name: "CreateFile", Inputs: Fields{{Name: "Path", Value: `C:\app\config.json`}}, Result: "Success"},
		{Index: 2, PID: 10, Name: "RegOpenKey", Result: "Failure"},
		{Index: 3, PID: 20, Name: "CreateFile", Inputs: Fields{{Name: "Path", Value: `C:\app\data.bin`}}, Result: "Success"},
		{Index: 4, PID: 10, Name: "LoadLibrary", Outputs: Fields{{Name: "Module", Value: "CONFIG.dll"}}, Result: "Success"},
	}})
	return m
}

func TestSearchCyclesAndWraps(t *testing.T) {
	m := searchModel()

	res := m.Search("config", true)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Ordinal)
	assert.Equal(t, 0, res.Position)
	assert.Equal(t, "1 of 2", res.String())
	assert.Equal(t, uint64(1), currentIndex(t, m.Snapshot()))

	res = m.Search("config", false)
	assert.Equal(t, 2, res.Ordinal)
	assert.Equal(t, 3, res.Position)
	assert.Equal(t, uint64(4), currentIndex(t, m.Snapshot()))

	res = m.Search("CONFIG", false)
	assert.Equal(t, 1, res.Ordinal, "wraps to the first match")
	assert.Equal(t, uint64(1), currentIndex(t, m.Snapshot()))

	highlighted := 0
	for _, r := range m.Snapshot().View {
		if r.Highlighted {
			highlighted++
		}
	}
	assert.Equal(t, 2, highlighted)
}

func TestSearchVisitsEveryMatchOnce(t *testing.T) {
	m := searchModel()
	seen := map[uint64]int{}
	res := m.Search("createfile", true)
	seen[currentIndex(t, m.Snapshot())]++
	for i := 1; i < res.Total; i++ {
		m.Search("createfile", false)
		seen[currentIndex(t, m.Snapshot())]++
	}
	assert.Equal(t, map[uint64]int{1: 1, 3: 1}, seen)
}

func TestSearchSkipsHiddenButCountsThem(t *testing.T) {
	m := searchModel()
	m.SetProcessFilter(10)

	res := m.Search("createfile", true)
	assert.Equal(t, 2, res.Total, "hidden matches are counted")
	assert.Equal(t, 1, res.Ordinal)

	res = m.Search("createfile", false)
	assert.Equal(t, 1, res.Ordinal, "the hidden match is never current")
	assert.Equal(t, uint64(1), currentIndex(t, m.Snapshot()))
}

func TestSearchByPID(t *testing.T) {
	m := searchModel()
	res := m.Search("20", true)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, uint64(3), currentIndex(t, m.Snapshot()))
}

func TestEmptySearchClears(t *testing.T) {
	m := searchModel()
	m.Search("config", true)

	res := m.Search("", true)
	assert.Equal(t, "0 found", res.String())
	assert.Equal(t, -1, res.Position)
	for _, r := range m.Snapshot().View {
		assert.False(t, r.Highlighted)
		assert.False(t, r.CurrentMatch)
	}

	res = m.Search("nothing-matches", true)
	assert.Equal(t, "0 found", res.String())
}
