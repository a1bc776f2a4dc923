package recur

import (
	"fmt"
	"time"

	"github.com/example/calinst/internal/caltime"
)

// Expansion bounds. Endless rules stop at MaxEndless, and every
// expansion stops at the hard ceiling no matter what the rule says.
// The period safeguard caps the outer loop at roughly fifty years of
// daily periods so a by-rule combination that never admits a candidate
// still terminates.
var (
	// MaxEndless bounds "forever" recurrence and clamps UNTIL values.
	MaxEndless = time.Date(2036, 12, 31, 23, 59, 59, 0, time.UTC).Unix()
	// HardCeiling terminates any expansion, count-driven ones included.
	HardCeiling = time.Date(2037, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
)

const maxPeriods = 18250

// maxInstances caps COUNT per frequency class so malformed rows cannot
// drive unbounded generation.
func maxInstances(f Freq) int {
	switch f {
	case FreqYearly:
		return 100
	case FreqMonthly:
		return 120
	case FreqWeekly:
		return 520
	case FreqDaily:
		return 3650
	default:
		return 1
	}
}

// Sink receives each surviving occurrence as it is generated. Emission
// is streaming and fail-fast: the first sink error aborts the whole
// expansion.
type Sink interface {
	Emit(eventID int64, start, end caltime.Time) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(eventID int64, start, end caltime.Time) error

func (f SinkFunc) Emit(eventID int64, start, end caltime.Time) error {
	return f(eventID, start, end)
}

// Input carries everything one expansion needs.
type Input struct {
	EventID  int64
	Rule     Rule
	Start    caltime.Time
	Duration int64 // seconds, identical for every occurrence
	Zone     string
	// Exceptions may be nil. Matched entries are consumed from the set.
	Exceptions *ExceptionSet
	// IsException marks an event that is itself a materialized
	// occurrence of another event; it generates exactly one instance
	// regardless of its own frequency.
	IsException bool
}

// Expander turns a recurrence rule into concrete occurrences. It
// depends only on the caltime.Clock interface and holds no state across
// expansions.
type Expander struct {
	Clock caltime.Clock
}

// Expand generates the occurrence sequence for in and streams each one
// to the sink. It returns the number of emitted instances.
func (e *Expander) Expand(in Input, sink Sink) (int, error) {
	if sink == nil {
		return 0, fmt.Errorf("%w: nil sink", ErrInvalidParameter)
	}
	if in.Duration < 0 {
		return 0, fmt.Errorf("%w: negative duration %d", caltime.ErrInvalidRange, in.Duration)
	}

	rule := in.Rule.Normalized()
	zone := expansionZone(in)

	startCur, err := e.Clock.Cursor(zone, in.Start)
	if err != nil {
		return 0, err
	}

	st := &state{
		clock:      e.Clock,
		in:         in,
		rule:       rule,
		zone:       zone,
		sink:       sink,
		startEpoch: startCur.Epoch(),
		startDay:   startCur.Get(caltime.FieldDay),
		startMonth: startCur.Get(caltime.FieldMonth),
		startDow:   startCur.DayOfWeek(),
	}
	if err := st.resolveBounds(); err != nil {
		return 0, err
	}

	// Exception occurrences and non-recurring events emit their own
	// start exactly once; by-rule fields are ignored.
	if in.IsException || rule.Freq == FreqNone {
		if err := st.emit(st.startEpoch); err != nil {
			return st.emitted, err
		}
		return st.emitted, nil
	}

	var run func(caltime.Cursor) error
	switch rule.Freq {
	case FreqDaily:
		run = st.runDaily
	case FreqWeekly:
		run = st.runWeekly
	case FreqMonthly:
		run = st.runMonthly
	case FreqYearly:
		run = st.runYearly
	default:
		return 0, fmt.Errorf("%w: frequency %d", ErrInvalidParameter, int(rule.Freq))
	}

	if err := run(startCur); err != nil {
		return st.emitted, err
	}
	return st.emitted, nil
}

// expansionZone picks the zone cursors run in: the event's own zone for
// absolute events, UTC for civil ones (a civil calendar needs one
// consistent zone, not a real one).
func expansionZone(in Input) string {
	return ExpansionZone(in.Start.Kind, in.Zone)
}

// ExpansionZone returns the zone occurrences are computed in: civil
// events use plain wall-clock arithmetic (run in UTC), absolute events
// their own zone. Exception-date text must be parsed against the same
// zone so suppressed instants compare equal.
func ExpansionZone(kind caltime.Kind, zone string) string {
	if kind == caltime.Civil || zone == "" {
		return "UTC"
	}
	return zone
}

type state struct {
	clock caltime.Clock
	in    Input
	rule  Rule
	zone  string
	sink  Sink

	startEpoch int64
	startDay   int
	startMonth int
	startDow   caltime.Weekday
	until      int64 // inclusive; a candidate past it ends the expansion
	limited    bool  // RangeCount
	limit      int   // remaining ordinal slots when limited

	emitted int
	stopped bool
}

// resolveBounds fixes the stop condition before generation starts. For
// a count range the loop is count-driven up to the hard ceiling; an
// until value is clamped to MaxEndless, which also bounds rules with no
// range at all.
func (st *state) resolveBounds() error {
	switch st.rule.RangeType {
	case RangeCount:
		st.limited = true
		st.limit = st.rule.Count
		if cap := maxInstances(st.rule.Freq); st.limit > cap {
			st.limit = cap
		}
		st.until = HardCeiling
	case RangeUntil:
		if k := st.rule.Until.Kind; k != caltime.Absolute && k != caltime.Civil {
			return fmt.Errorf("%w: until range carries no time value", ErrInvalidParameter)
		}
		untilCur, err := st.clock.Cursor(st.zone, st.rule.Until)
		if err != nil {
			return err
		}
		st.until = untilCur.Epoch()
		if st.until > MaxEndless {
			st.until = MaxEndless
		}
	case RangeNone:
		st.until = MaxEndless
	default:
		return fmt.Errorf("%w: range type %d", ErrInvalidParameter, int(st.rule.RangeType))
	}
	return nil
}

// admitPeriod runs the admission pipeline over one period's candidate
// set, in generation order: BYSETPOS filter, before-start filter,
// exception filter (which still consumes an ordinal slot), range exit,
// then emission.
func (st *state) admitPeriod(cands []int64) error {
	if len(st.rule.BySetPos) > 0 {
		cands = filterSetPos(cands, st.rule.BySetPos)
	}
	for _, ep := range cands {
		if st.stopped {
			return nil
		}
		if ep < st.startEpoch {
			continue
		}
		consumed := st.in.Exceptions.TryConsume(ep)
		if ep > st.until || ep >= HardCeiling {
			st.stopped = true
			return nil
		}
		if st.limited {
			st.limit--
			if st.limit < 0 {
				st.stopped = true
				return nil
			}
		}
		if consumed {
			continue
		}
		if err := st.emit(ep); err != nil {
			return err
		}
	}
	return nil
}

// filterSetPos keeps the candidates whose 1-based position (negative
// from the back) appears in the BYSETPOS list, preserving generation
// order.
func filterSetPos(cands []int64, setPos []int) []int64 {
	if len(cands) == 0 {
		return cands
	}
	keep := make([]int64, 0, len(setPos))
	for i, ep := range cands {
		pos := i + 1
		neg := i - len(cands)
		for _, p := range setPos {
			if p == pos || p == neg {
				keep = append(keep, ep)
				break
			}
		}
	}
	return keep
}

func (st *state) emit(ep int64) error {
	var start, end caltime.Time
	switch st.in.Start.Kind {
	case caltime.Absolute:
		start = caltime.FromEpoch(ep)
		end = caltime.FromEpoch(ep + st.in.Duration)
	case caltime.Civil:
		var err error
		start, err = st.clock.EpochToCivil(st.zone, ep)
		if err != nil {
			return err
		}
		end, err = st.clock.EpochToCivil(st.zone, ep+st.in.Duration)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: time kind %d", ErrInvalidParameter, int(st.in.Start.Kind))
	}
	st.emitted++
	return st.sink.Emit(st.in.EventID, start, end)
}

// periodLoop advances the anchor cursor period by period until
// expansion stops. It bails out when the anchor stops moving, when the
// period safeguard triggers, or when the anchor has moved decisively
// past the until bound (a month of slack covers branches whose
// candidates precede the anchor, such as week-start adjustments).
func (st *state) periodLoop(anchor caltime.Cursor, collect func(caltime.Cursor) ([]int64, error), advance func(caltime.Cursor)) error {
	const anchorSlack = 32 * 86400

	prev := int64(0)
	first := true
	for periods := 0; !st.stopped; periods++ {
		if periods > maxPeriods {
			return nil
		}
		ep := anchor.Epoch()
		if !first && ep == prev {
			return nil
		}
		if ep > st.until+anchorSlack {
			return nil
		}
		first = false
		prev = ep

		cands, err := collect(anchor)
		if err != nil {
			return err
		}
		if cands != nil {
			if err := st.admitPeriod(cands); err != nil {
				return err
			}
		}
		advance(anchor)
	}
	return nil
}
