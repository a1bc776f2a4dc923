package caltime

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformed indicates text that does not parse as a compact civil value.
var ErrMalformed = errors.New("malformed time literal")

// FormatCompact renders a civil value in compact form: YYYYMMDD when the
// time-of-day is zero, YYYYMMDDTHHMMSS otherwise. Absolute values have no
// compact civil form and render empty.
func FormatCompact(t Time) string {
	if t.Kind != Civil {
		return ""
	}
	if t.Hour == 0 && t.Minute == 0 && t.Second == 0 {
		return fmt.Sprintf("%04d%02d%02d", t.Year, t.Month, t.Day)
	}
	return fmt.Sprintf("%04d%02d%02dT%02d%02d%02d",
		t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

// ParseCompact parses an 8-char compact date or a 15-char compact
// date-time into a civil value.
func ParseCompact(s string) (Time, error) {
	if len(s) != 8 && len(s) != 15 {
		return Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	y, err := strconv.Atoi(s[0:4])
	if err != nil {
		return Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	m, err := strconv.Atoi(s[4:6])
	if err != nil {
		return Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	d, err := strconv.Atoi(s[6:8])
	if err != nil {
		return Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if len(s) == 8 {
		return FromDate(y, m, d), nil
	}

	if s[8] != 'T' {
		return Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	hh, err := strconv.Atoi(s[9:11])
	if err != nil {
		return Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	mm, err := strconv.Atoi(s[11:13])
	if err != nil {
		return Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	ss, err := strconv.Atoi(s[13:15])
	if err != nil {
		return Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return FromDateTime(y, m, d, hh, mm, ss), nil
}
