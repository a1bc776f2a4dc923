package recur

import (
	"fmt"
	"strings"

	"github.com/example/calinst/internal/caltime"
)

// ExceptionSet is a working set of excluded instants parsed from an
// event's stored EXDATE text. Entries are consumed on match: one EXDATE
// suppresses at most one generated occurrence, so duplicate candidates
// at the same instant are not all swallowed by a single entry.
type ExceptionSet struct {
	epochs []int64
}

// ParseExceptions parses EXDATE text into a working set. Tokens are
// separated by spaces or commas; each is an 8-char date or a 15-char
// local date-time interpreted in the event's zone, or a 16-char UTC
// date-time with a trailing Z. The set is rebuilt fresh for every
// expansion and discarded afterwards.
func ParseExceptions(clock caltime.Clock, zone, text string) (*ExceptionSet, error) {
	set := &ExceptionSet{}
	for _, tok := range splitListTokens(text) {
		epoch, err := parseExceptionToken(clock, zone, tok)
		if err != nil {
			return nil, err
		}
		set.epochs = append(set.epochs, epoch)
	}
	return set, nil
}

func parseExceptionToken(clock caltime.Clock, zone, tok string) (int64, error) {
	tokZone := zone
	switch len(tok) {
	case 8: // YYYYMMDD
	case 15: // YYYYMMDDTHHMMSS
	case 16: // YYYYMMDDTHHMMSSZ
		if tok[15] != 'Z' && tok[15] != 'z' {
			return 0, fmt.Errorf("%w: exdate token %q missing UTC marker", ErrInvalidParameter, tok)
		}
		tok = tok[:15]
		tokZone = "UTC"
	default:
		return 0, fmt.Errorf("%w: exdate token %q has unsupported length", ErrInvalidParameter, tok)
	}

	civil, err := caltime.ParseCompact(tok)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed exdate token %q", ErrInvalidParameter, tok)
	}
	return clock.CivilToEpoch(tokZone, civil)
}

// TryConsume removes the first entry matching the candidate instant and
// reports whether one was found.
func (s *ExceptionSet) TryConsume(epoch int64) bool {
	if s == nil {
		return false
	}
	for i, e := range s.epochs {
		if e == epoch {
			s.epochs = append(s.epochs[:i], s.epochs[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the number of unconsumed entries.
func (s *ExceptionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.epochs)
}

// FormatExceptionToken renders an occurrence start as the EXDATE token
// appended to a parent event when one occurrence is deleted. Absolute
// times use the UTC form; civil date-times use the local form; civil
// dates the date form.
func FormatExceptionToken(clock caltime.Clock, t caltime.Time) (string, error) {
	switch t.Kind {
	case caltime.Absolute:
		civil, err := clock.EpochToCivil("UTC", t.Epoch)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%04d%02d%02dT%02d%02d%02dZ",
			civil.Year, civil.Month, civil.Day, civil.Hour, civil.Minute, civil.Second), nil
	case caltime.Civil:
		return caltime.FormatCompact(t), nil
	default:
		return "", fmt.Errorf("%w: unknown time kind %d", ErrInvalidParameter, int(t.Kind))
	}
}

// AppendExceptionText appends a token to stored EXDATE text, comma
// separated, starting the list when none exists.
func AppendExceptionText(existing, token string) string {
	existing = strings.TrimSpace(existing)
	if existing == "" {
		return token
	}
	return existing + "," + token
}
