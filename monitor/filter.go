package monitor

import (
	"fmt"
	"strings"
)

// ResultClass is the severity class read from the leading token of a result.
type ResultClass uint8

const (
	// ResultOther is any result without a known prefix. It is never hidden.
	ResultOther ResultClass = iota
	ResultSuccess
	ResultIndeterminate
	ResultExpectedFailure
	ResultFailure

	numResultClasses
)

var resultClassNames = [numResultClasses]string{
	ResultOther:           "Other",
	ResultSuccess:         "Success",
	ResultIndeterminate:   "Indeterminate",
	ResultExpectedFailure: "ExpectedFailure",
	ResultFailure:         "Failure",
}

func (c ResultClass) String() string {
	if c < numResultClasses {
		return resultClassNames[c]
	}
	return fmt.Sprintf("ResultClass(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c ResultClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ParseResultClass is case-insensitive.
func ParseResultClass(s string) (ResultClass, error) {
	for c, name := range resultClassNames {
		if strings.EqualFold(name, s) {
			return ResultClass(c), nil
		}
	}
	return ResultOther, fmt.Errorf("%w: unknown result class %q", ErrInvalidConfig, s)
}

// Severity is how a row is colored by a front-end.
type Severity uint8

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityFailure
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "Warning"
	case SeverityFailure:
		return "Failure"
	}
	return "Normal"
}

// Severity of the class.
func (c ResultClass) Severity() Severity {
	switch c {
	case ResultIndeterminate, ResultExpectedFailure:
		return SeverityWarning
	case ResultFailure:
		return SeverityFailure
	}
	return SeverityNormal
}

// ResultClassOf classifies result by prefix.
func ResultClassOf(result string) ResultClass {
	switch {
	case strings.HasPrefix(result, "Success"):
		return ResultSuccess
	case strings.HasPrefix(result, "Unknown"), strings.HasPrefix(result, "Indeterminate"):
		return ResultIndeterminate
	case strings.HasPrefix(result, "Expected Failure"):
		return ResultExpectedFailure
	case strings.HasPrefix(result, "Failure"):
		return ResultFailure
	}
	return ResultOther
}

// ResultSet is a set of result classes.
type ResultSet uint8

// AllResults contains every result class.
const AllResults ResultSet = 1<<numResultClasses - 1

// Has reports membership.
func (s ResultSet) Has(c ResultClass) bool { return s&(1<<c) != 0 }

// With returns s plus c.
func (s ResultSet) With(c ResultClass) ResultSet { return s | 1<<c }

// Without returns s minus c.
func (s ResultSet) Without(c ResultClass) ResultSet { return s &^ (1 << c) }

// NoPID is the process filter value meaning "every process".
const NoPID = -1

// FilterConfig is the set of user toggles. The model only reads it.
type FilterConfig struct {
	ShowResults    ResultSet
	ShowCategories CategorySet
	PID            int // NoPID or the only pid to show
	Paused         bool
}

// DefaultFilterConfig shows everything.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		ShowResults:    AllResults,
		ShowCategories: AllCategories,
		PID:            NoPID,
	}
}

// Apply sets the result, category and pid flags of r. Records are expected
// to have Category and Class computed. Apply is idempotent: every flag is
// set or cleared, never only set.
func (cfg FilterConfig) Apply(r *Record) {
	r.HiddenByResult = r.Class != ResultOther && !cfg.ShowResults.Has(r.Class)
	r.HiddenByCategory = !cfg.ShowCategories.Has(r.Category)
	r.HiddenByPID = cfg.PID >= 0 && int64(r.PID) != int64(cfg.PID)
}
