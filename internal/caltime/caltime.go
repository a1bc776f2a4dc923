// Package caltime provides the time representations shared by the
// recurrence engine and the instance store: a tagged union of an
// absolute instant (UTC epoch seconds) and a civil date-time, plus the
// timezone clock abstraction the engine iterates calendars with.
package caltime

import (
	"errors"
	"fmt"
)

// ErrInvalidRange indicates an end time earlier than its start time, or
// a mixed-kind start/end pair.
var ErrInvalidRange = errors.New("invalid time range")

// Kind discriminates the two time representations.
type Kind int

const (
	// Absolute is a timezone-independent instant in UTC epoch seconds.
	Absolute Kind = iota + 1
	// Civil is a year/month/day (optionally with wall-clock time)
	// without an implied instant until combined with a zone.
	Civil
)

func (k Kind) String() string {
	switch k {
	case Absolute:
		return "absolute"
	case Civil:
		return "civil"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Time is an immutable value holding either an absolute instant or a
// civil date-time, depending on Kind. An event's start, end and every
// derived instance share one kind; mixing kinds is rejected at
// construction of the pair (see Duration), not at each use site.
type Time struct {
	Kind  Kind
	Epoch int64 // Absolute only

	// Civil only. Hour/Minute/Second default to 0 for date-only values.
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// FromEpoch builds an Absolute time.
func FromEpoch(sec int64) Time {
	return Time{Kind: Absolute, Epoch: sec}
}

// FromDate builds a date-only Civil time.
func FromDate(year, month, day int) Time {
	return Time{Kind: Civil, Year: year, Month: month, Day: day}
}

// FromDateTime builds a Civil time with wall-clock fields.
func FromDateTime(year, month, day, hour, minute, second int) Time {
	return Time{
		Kind: Civil,
		Year: year, Month: month, Day: day,
		Hour: hour, Minute: minute, Second: second,
	}
}

func (t Time) String() string {
	if t.Kind == Absolute {
		return fmt.Sprintf("@%d", t.Epoch)
	}
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d",
		t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

// Duration returns end-start in seconds. Both times must share one
// kind. Civil pairs are materialized in a single consistent zone (UTC)
// through the clock so the difference is well defined. A negative
// difference or a kind mismatch yields ErrInvalidRange.
func Duration(clock Clock, start, end Time) (int64, error) {
	if start.Kind != end.Kind {
		return 0, fmt.Errorf("%w: start is %s, end is %s", ErrInvalidRange, start.Kind, end.Kind)
	}

	var d int64
	switch start.Kind {
	case Absolute:
		d = end.Epoch - start.Epoch
	case Civil:
		se, err := clock.CivilToEpoch("UTC", start)
		if err != nil {
			return 0, err
		}
		ee, err := clock.CivilToEpoch("UTC", end)
		if err != nil {
			return 0, err
		}
		d = ee - se
	default:
		return 0, fmt.Errorf("%w: unknown kind %d", ErrInvalidRange, int(start.Kind))
	}

	if d < 0 {
		return 0, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, end, start)
	}
	return d, nil
}
