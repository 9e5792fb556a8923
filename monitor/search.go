package monitor

import (
	"strconv"
	"strings"
)

// SearchResult reports where a search landed.
type SearchResult struct {
	Query    string `json:"query,omitempty"`
	Total    int    `json:"total"`    // matches among all records, hidden or not
	Ordinal  int    `json:"ordinal"`  // 1-based ordinal of the current match, 0 if none
	Position int    `json:"position"` // position of the current match in the filtered view, -1 if none
}

// String is "<ordinal> of <total>" or "0 found".
func (r SearchResult) String() string {
	if r.Total == 0 {
		return "0 found"
	}
	return strconv.Itoa(r.Ordinal) + " of " + strconv.Itoa(r.Total)
}

// SearchCursor remembers the last query and where it stopped so that
// repeating the query steps to the next match.
type SearchCursor struct {
	query string // upper case
	last  int    // position in the authoritative sequence, -1 if none
	res   SearchResult
}

func newSearchCursor() SearchCursor {
	return SearchCursor{last: -1, res: SearchResult{Position: -1}}
}

// Result is the outcome of the last search.
func (c *SearchCursor) Result() SearchResult { return c.res }

// Reset forgets the query.
func (c *SearchCursor) Reset() { *c = newSearchCursor() }

// next runs query over records. mark is called once per record with its
// desired highlight state; records whose state does not change can be
// skipped by mark.
func (c *SearchCursor) next(records []*Record, query string, restart bool,
	mark func(i int, highlighted, current bool)) SearchResult {

	upper := strings.ToUpper(query)
	if upper == "" {
		for i := range records {
			mark(i, false, false)
		}
		c.Reset()
		return c.res
	}

	fresh := restart || upper != c.query || c.last < 0
	matched := make([]bool, len(records))

	total, visible := 0, 0
	cur, curOrdinal, curPos := -1, 0, -1
	first, firstOrdinal, firstPos := -1, 0, -1
	for i, r := range records {
		hidden := r.Hidden()
		if r.matches(upper) {
			matched[i] = true
			total++
			if !hidden {
				if first < 0 {
					first, firstOrdinal, firstPos = i, total, visible
				}
				if !fresh && cur < 0 && i > c.last {
					cur, curOrdinal, curPos = i, total, visible
				}
			}
		}
		if !hidden {
			visible++
		}
	}
	if cur < 0 {
		// New query, or wrapped past the last match.
		cur, curOrdinal, curPos = first, firstOrdinal, firstPos
	}

	for i := range records {
		mark(i, matched[i], i == cur)
	}

	c.query = upper
	c.last = cur
	c.res = SearchResult{Query: query, Total: total, Ordinal: curOrdinal, Position: curPos}
	return c.res
}
