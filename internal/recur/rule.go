// Package recur implements the recurrence rule model and the instance
// expansion engine: given a rule, a start time, a duration and an
// exception-date set, it produces the ordered set of concrete
// occurrences and streams them to a sink for persistence.
package recur

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/calinst/internal/caltime"
)

// ErrInvalidParameter indicates a malformed rule field or by-rule token.
var ErrInvalidParameter = errors.New("invalid parameter")

// Freq is the recurrence frequency class.
type Freq int

const (
	FreqNone Freq = iota
	FreqDaily
	FreqWeekly
	FreqMonthly
	FreqYearly
)

func (f Freq) String() string {
	switch f {
	case FreqNone:
		return "none"
	case FreqDaily:
		return "daily"
	case FreqWeekly:
		return "weekly"
	case FreqMonthly:
		return "monthly"
	case FreqYearly:
		return "yearly"
	default:
		return fmt.Sprintf("freq(%d)", int(f))
	}
}

// RangeType selects the stopping policy of a rule.
type RangeType int

const (
	// RangeNone recurs "forever", bounded in practice by MaxEndless.
	RangeNone RangeType = iota
	// RangeUntil stops at a fixed time.
	RangeUntil
	// RangeCount stops after a fixed number of ordinal slots.
	RangeCount
)

// WeekdayNum is one BYDAY token: a weekday with an optional signed
// ordinal (0 means every occurrence, negative counts from the end).
type WeekdayNum struct {
	Ord int
	Day caltime.Weekday
}

func (w WeekdayNum) String() string {
	if w.Ord == 0 {
		return w.Day.String()
	}
	return fmt.Sprintf("%d%s", w.Ord, w.Day)
}

// Rule is the declarative recurrence input, parsed once per event from
// its stored row. It is read-only after construction.
type Rule struct {
	Freq      Freq
	Interval  int
	RangeType RangeType
	Until     caltime.Time // RangeUntil only
	Count     int          // RangeCount only
	WeekStart caltime.Weekday

	ByDay      []WeekdayNum
	ByMonthDay []int
	ByYearDay  []int
	ByWeekNo   []int
	ByMonth    []int
	BySetPos   []int
	ByHour     []int
	ByMinute   []int
	BySecond   []int
}

// Normalized returns a copy with defaults applied: interval at least 1
// and a valid week start (Sunday when unset).
func (r Rule) Normalized() Rule {
	if r.Interval <= 0 {
		r.Interval = 1
	}
	if !r.WeekStart.Valid() {
		r.WeekStart = caltime.Sunday
	}
	return r
}

func splitListTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
}

// ParseIntList parses an ordered list of signed integers separated by
// commas or spaces, as stored in the by-rule columns. An empty string
// yields nil.
func ParseIntList(s string) ([]int, error) {
	tokens := splitListTokens(s)
	if len(tokens) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: by-rule token %q is not an integer", ErrInvalidParameter, tok)
		}
		out = append(out, n)
	}
	return out, nil
}

var weekdayTokens = map[string]caltime.Weekday{
	"SU": caltime.Sunday,
	"MO": caltime.Monday,
	"TU": caltime.Tuesday,
	"WE": caltime.Wednesday,
	"TH": caltime.Thursday,
	"FR": caltime.Friday,
	"SA": caltime.Saturday,
}

// ParseWeekdayList parses an ordered list of BYDAY tokens, each an
// optional signed ordinal followed by a two-letter weekday (e.g. "TU",
// "2MO", "-1FR"), separated by commas or spaces.
func ParseWeekdayList(s string) ([]WeekdayNum, error) {
	tokens := splitListTokens(s)
	if len(tokens) == 0 {
		return nil, nil
	}
	out := make([]WeekdayNum, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 2 {
			return nil, fmt.Errorf("%w: weekday token %q too short", ErrInvalidParameter, tok)
		}
		dayPart := tok[len(tok)-2:]
		day, ok := weekdayTokens[strings.ToUpper(dayPart)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown weekday in token %q", ErrInvalidParameter, tok)
		}
		ord := 0
		if prefix := tok[:len(tok)-2]; prefix != "" {
			n, err := strconv.Atoi(prefix)
			if err != nil {
				return nil, fmt.Errorf("%w: bad ordinal in weekday token %q", ErrInvalidParameter, tok)
			}
			ord = n
		}
		out = append(out, WeekdayNum{Ord: ord, Day: day})
	}
	return out, nil
}

// FormatIntList renders an integer by-rule list back to its stored
// comma-separated form.
func FormatIntList(vals []int) string {
	if len(vals) == 0 {
		return ""
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// FormatWeekdayList renders a BYDAY list back to its stored
// comma-separated form.
func FormatWeekdayList(vals []WeekdayNum) string {
	if len(vals) == 0 {
		return ""
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

// CountLimit reports the effective instance count for a counted rule:
// the stored COUNT clamped to the per-frequency ceiling. The second
// return is false for rules not bounded by count.
func (r Rule) CountLimit() (int, bool) {
	if r.RangeType != RangeCount {
		return 0, false
	}
	limit := r.Count
	if limit < 0 {
		limit = 0
	}
	if cap := maxInstances(r.Freq); limit > cap {
		limit = cap
	}
	return limit, true
}

// weekdaySet resolves the active weekday set of a rule, falling back to
// the given default when BYDAY is empty.
func (r Rule) weekdaySet(fallback caltime.Weekday) map[caltime.Weekday]bool {
	set := make(map[caltime.Weekday]bool, 7)
	if len(r.ByDay) == 0 {
		set[fallback] = true
		return set
	}
	for _, tok := range r.ByDay {
		set[tok.Day] = true
	}
	return set
}
