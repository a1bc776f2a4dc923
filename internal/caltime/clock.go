package caltime

import (
	"fmt"
	"time"
)

// Weekday numbering follows the calendar convention used throughout the
// stored rule data: Sunday is 1, Saturday is 7.
type Weekday int

const (
	Sunday Weekday = iota + 1
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

func (w Weekday) String() string {
	names := [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}
	if w < Sunday || w > Saturday {
		return fmt.Sprintf("weekday(%d)", int(w))
	}
	return names[w-1]
}

// Valid reports whether w is one of the seven defined weekdays.
func (w Weekday) Valid() bool { return w >= Sunday && w <= Saturday }

// Field names a settable/addable calendar field on a Cursor.
type Field int

const (
	FieldYear Field = iota
	FieldMonth
	FieldDay
	FieldHour
	FieldMinute
	FieldSecond
	FieldDayOfYear
)

// Clock converts between civil calendars and instants for a named zone
// and opens field-level cursors. The recurrence engine depends only on
// this interface; SystemClock backs it with the platform zone database.
type Clock interface {
	// CivilToEpoch interprets a Civil time in the given zone.
	CivilToEpoch(zone string, civil Time) (int64, error)
	// EpochToCivil converts an instant to the zone's civil calendar.
	EpochToCivil(zone string, epoch int64) (Time, error)
	// Cursor opens a calendar cursor positioned at the given time. An
	// Absolute time is placed on the zone's wall clock; a Civil time is
	// taken as already being in the zone.
	Cursor(zone string, at Time) (Cursor, error)
}

// Cursor is a mutable civil-calendar position supporting the field
// arithmetic the expander is built from. Implementations normalize
// out-of-range field values the way the underlying calendar library
// does (setting day 30 in February rolls into March); callers that need
// strict round-tripping check Get after Set.
type Cursor interface {
	// Epoch is the instant the cursor currently denotes.
	Epoch() int64
	// Civil is the cursor's current wall-clock position.
	Civil() Time

	Get(f Field) int
	Set(f Field, v int)
	Add(f Field, amount int)

	// DayOfWeek returns the current weekday.
	DayOfWeek() Weekday
	// SetDayOfWeek moves within the current week, where weeks begin on
	// weekStart, to the given weekday.
	SetDayOfWeek(w Weekday, weekStart Weekday)
	// WeekOfYear numbers weeks from 1, where week 1 is the week
	// containing January 1 and weeks begin on weekStart.
	WeekOfYear(weekStart Weekday) int
	// SetWeekOfYear moves to the given week of the current year,
	// preserving the day of week.
	SetWeekOfYear(week int, weekStart Weekday)
	// SetWeekdayOrdinal moves to the ord-th occurrence (negative counts
	// from the end of the month) of weekday w within the current month.
	// It reports false, leaving the cursor unchanged, when the month
	// has no such day.
	SetWeekdayOrdinal(w Weekday, ord int) bool

	DaysInMonth() int
	DaysInYear() int

	// Clone returns an independent copy of the cursor.
	Clone() Cursor
}

// SystemClock implements Clock on the standard library time package and
// the platform IANA zone database. The zero value is ready to use; zone
// state is carried per call, never in package-level mutable caches.
type SystemClock struct{}

func (SystemClock) location(zone string) (*time.Location, error) {
	if zone == "" || zone == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", zone, err)
	}
	return loc, nil
}

func (c SystemClock) CivilToEpoch(zone string, civil Time) (int64, error) {
	loc, err := c.location(zone)
	if err != nil {
		return 0, err
	}
	t := time.Date(civil.Year, time.Month(civil.Month), civil.Day,
		civil.Hour, civil.Minute, civil.Second, 0, loc)
	return t.Unix(), nil
}

func (c SystemClock) EpochToCivil(zone string, epoch int64) (Time, error) {
	loc, err := c.location(zone)
	if err != nil {
		return Time{}, err
	}
	t := time.Unix(epoch, 0).In(loc)
	return Time{
		Kind: Civil,
		Year: t.Year(), Month: int(t.Month()), Day: t.Day(),
		Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(),
	}, nil
}

func (c SystemClock) Cursor(zone string, at Time) (Cursor, error) {
	loc, err := c.location(zone)
	if err != nil {
		return nil, err
	}
	cur := &systemCursor{loc: loc}
	switch at.Kind {
	case Absolute:
		cur.t = time.Unix(at.Epoch, 0).In(loc)
		cur.syncTime()
	case Civil:
		cur.hh, cur.mm, cur.ss = at.Hour, at.Minute, at.Second
		cur.setDate(at.Year, time.Month(at.Month), at.Day)
	default:
		return nil, fmt.Errorf("cursor: unknown time kind %d", int(at.Kind))
	}
	return cur, nil
}

type systemCursor struct {
	t   time.Time
	loc *time.Location

	// Intended wall-clock time of day. Date arithmetic re-applies these
	// fields, so a day whose wall time falls into a DST gap shifts that
	// one realized instant without dragging every later day with it.
	hh, mm, ss int
}

// setDate positions the cursor on a calendar day at the intended time of
// day. time.Date normalization realizes nonexistent wall times.
func (s *systemCursor) setDate(y int, m time.Month, d int) {
	s.t = time.Date(y, m, d, s.hh, s.mm, s.ss, 0, s.loc)
}

// syncTime adopts the realized clock reading as the intended one, after
// arithmetic on the time fields themselves.
func (s *systemCursor) syncTime() {
	s.hh, s.mm, s.ss = s.t.Hour(), s.t.Minute(), s.t.Second()
}

func (s *systemCursor) Epoch() int64 { return s.t.Unix() }

func (s *systemCursor) Civil() Time {
	return Time{
		Kind: Civil,
		Year: s.t.Year(), Month: int(s.t.Month()), Day: s.t.Day(),
		Hour: s.t.Hour(), Minute: s.t.Minute(), Second: s.t.Second(),
	}
}

func (s *systemCursor) Get(f Field) int {
	switch f {
	case FieldYear:
		return s.t.Year()
	case FieldMonth:
		return int(s.t.Month())
	case FieldDay:
		return s.t.Day()
	case FieldHour:
		return s.t.Hour()
	case FieldMinute:
		return s.t.Minute()
	case FieldSecond:
		return s.t.Second()
	case FieldDayOfYear:
		return s.t.YearDay()
	}
	return 0
}

func (s *systemCursor) Set(f Field, v int) {
	y, m, d := s.t.Year(), s.t.Month(), s.t.Day()
	switch f {
	case FieldYear:
		y = v
	case FieldMonth:
		m = time.Month(v)
	case FieldDay:
		d = v
	case FieldHour:
		s.hh = v
	case FieldMinute:
		s.mm = v
	case FieldSecond:
		s.ss = v
	case FieldDayOfYear:
		m, d = time.January, v
	}
	s.setDate(y, m, d)
}

func (s *systemCursor) Add(f Field, amount int) {
	switch f {
	case FieldYear:
		y, m, d := s.t.AddDate(amount, 0, 0).Date()
		s.setDate(y, m, d)
	case FieldMonth:
		y, m, d := s.t.AddDate(0, amount, 0).Date()
		s.setDate(y, m, d)
	case FieldDay, FieldDayOfYear:
		y, m, d := s.t.AddDate(0, 0, amount).Date()
		s.setDate(y, m, d)
	case FieldHour:
		s.t = s.t.Add(time.Duration(amount) * time.Hour)
		s.syncTime()
	case FieldMinute:
		s.t = s.t.Add(time.Duration(amount) * time.Minute)
		s.syncTime()
	case FieldSecond:
		s.t = s.t.Add(time.Duration(amount) * time.Second)
		s.syncTime()
	}
}

func (s *systemCursor) DayOfWeek() Weekday {
	return Weekday(int(s.t.Weekday()) + 1)
}

// weekPos is the zero-based position of w within a week starting on
// weekStart.
func weekPos(w, weekStart Weekday) int {
	return (int(w) - int(weekStart) + 7) % 7
}

func (s *systemCursor) SetDayOfWeek(w Weekday, weekStart Weekday) {
	cur := weekPos(s.DayOfWeek(), weekStart)
	target := weekPos(w, weekStart)
	y, m, d := s.t.AddDate(0, 0, target-cur).Date()
	s.setDate(y, m, d)
}

func (s *systemCursor) WeekOfYear(weekStart Weekday) int {
	jan1 := time.Date(s.t.Year(), time.January, 1, 0, 0, 0, 0, s.loc)
	lead := weekPos(Weekday(int(jan1.Weekday())+1), weekStart)
	return (s.t.YearDay()-1+lead)/7 + 1
}

func (s *systemCursor) SetWeekOfYear(week int, weekStart Weekday) {
	delta := week - s.WeekOfYear(weekStart)
	y, m, d := s.t.AddDate(0, 0, delta*7).Date()
	s.setDate(y, m, d)
}

func (s *systemCursor) SetWeekdayOrdinal(w Weekday, ord int) bool {
	if ord == 0 {
		return false
	}
	days := s.DaysInMonth()
	var day int
	if ord > 0 {
		first := time.Date(s.t.Year(), s.t.Month(), 1, 0, 0, 0, 0, s.loc)
		firstDow := Weekday(int(first.Weekday()) + 1)
		day = 1 + weekPos(w, firstDow) + (ord-1)*7
	} else {
		last := time.Date(s.t.Year(), s.t.Month(), days, 0, 0, 0, 0, s.loc)
		lastDow := Weekday(int(last.Weekday()) + 1)
		day = days - weekPos(lastDow, w) + (ord+1)*7
	}
	if day < 1 || day > days {
		return false
	}
	s.Set(FieldDay, day)
	return true
}

func (s *systemCursor) DaysInMonth() int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(s.t.Year(), s.t.Month()+1, 0, 0, 0, 0, 0, s.loc).Day()
}

func (s *systemCursor) DaysInYear() int {
	y := s.t.Year()
	if y%4 == 0 && (y%100 != 0 || y%400 == 0) {
		return 366
	}
	return 365
}

func (s *systemCursor) Clone() Cursor {
	cp := *s
	return &cp
}
