package recur

import (
	"github.com/example/calinst/internal/caltime"
)

// runDaily walks one day at a time, advancing the cursor by the rule
// interval. A BYMONTH set filters whole days out before admission, so
// skipped days consume no ordinal slot.
func (st *state) runDaily(start caltime.Cursor) error {
	cur := start.Clone()
	return st.periodLoop(cur,
		func(c caltime.Cursor) ([]int64, error) {
			if len(st.rule.ByMonth) > 0 && !containsInt(st.rule.ByMonth, c.Get(caltime.FieldMonth)) {
				return nil, nil
			}
			return []int64{c.Epoch()}, nil
		},
		func(c caltime.Cursor) {
			c.Add(caltime.FieldDay, st.rule.Interval)
		},
	)
}

// runWeekly emits the active weekdays of each week in week-start
// relative order, then jumps interval weeks ahead. Without BYDAY the
// start's own weekday is the single active day.
func (st *state) runWeekly(start caltime.Cursor) error {
	active := st.rule.weekdaySet(start.DayOfWeek())
	wkst := st.rule.WeekStart

	anchor := start.Clone()
	return st.periodLoop(anchor,
		func(c caltime.Cursor) ([]int64, error) {
			var cands []int64
			for i := 0; i < 7; i++ {
				wd := caltime.Weekday((int(wkst)-1+i)%7 + 1)
				if !active[wd] {
					continue
				}
				day := c.Clone()
				day.SetDayOfWeek(wd, wkst)
				cands = append(cands, day.Epoch())
			}
			return cands, nil
		},
		func(c caltime.Cursor) {
			c.Add(caltime.FieldDay, 7*st.rule.Interval)
		},
	)
}

// runMonthly anchors each period at the first of the month (keeping the
// start's wall-clock time) and derives the month's candidates from
// BYDAY tokens or, absent those, BYMONTHDAY entries defaulting to the
// start's day of month.
func (st *state) runMonthly(start caltime.Cursor) error {
	anchor := start.Clone()
	anchor.Set(caltime.FieldDay, 1)

	return st.periodLoop(anchor,
		func(c caltime.Cursor) ([]int64, error) {
			return st.collectMonth(c), nil
		},
		func(c caltime.Cursor) {
			c.Add(caltime.FieldMonth, st.rule.Interval)
		},
	)
}

// collectMonth gathers one month's candidates from a cursor positioned
// anywhere inside it. Each BYDAY token contributes independently, in
// token order, each token's dates chronological.
func (st *state) collectMonth(anchor caltime.Cursor) []int64 {
	if len(st.rule.ByDay) > 0 {
		var cands []int64
		for _, tok := range st.rule.ByDay {
			cands = append(cands, monthWeekdayCandidates(anchor, tok)...)
		}
		return cands
	}

	days := st.rule.ByMonthDay
	if len(days) == 0 {
		days = []int{st.startDay}
	}

	var cands []int64
	for _, d := range days {
		day := d
		if day < 0 {
			// Counted back from the first of the next month: -1 is the
			// last day of this month.
			day = anchor.DaysInMonth() + day + 1
			if day < 1 {
				continue
			}
		} else if day == 0 {
			continue
		}
		c := anchor.Clone()
		c.Set(caltime.FieldDay, day)
		// A day that does not round-trip (Feb 30) normalized into the
		// next month and is not a candidate here.
		if c.Get(caltime.FieldDay) != day || c.Get(caltime.FieldMonth) != anchor.Get(caltime.FieldMonth) {
			continue
		}
		cands = append(cands, c.Epoch())
	}
	return cands
}

// monthWeekdayCandidates expands one BYDAY token within the anchor's
// month. A zero ordinal means every occurrence of the weekday; an
// ordinal below zero or above four means counting from the month's end.
func monthWeekdayCandidates(anchor caltime.Cursor, tok WeekdayNum) []int64 {
	var cands []int64
	switch {
	case tok.Ord == 0:
		for ord := 1; ord <= 5; ord++ {
			c := anchor.Clone()
			if c.SetWeekdayOrdinal(tok.Day, ord) {
				cands = append(cands, c.Epoch())
			}
		}
	case tok.Ord < 0 || tok.Ord > 4:
		ord := tok.Ord
		if ord > 4 {
			ord = -1
		}
		c := anchor.Clone()
		if c.SetWeekdayOrdinal(tok.Day, ord) {
			cands = append(cands, c.Epoch())
		}
	default:
		c := anchor.Clone()
		if c.SetWeekdayOrdinal(tok.Day, tok.Ord) {
			cands = append(cands, c.Epoch())
		}
	}
	return cands
}

// runYearly anchors at January 1 and picks the driving by-rule in
// priority order: BYYEARDAY, then BYWEEKNO, then BYDAY, then the
// month-day default.
func (st *state) runYearly(start caltime.Cursor) error {
	anchor := start.Clone()
	anchor.Set(caltime.FieldDayOfYear, 1)

	var collect func(caltime.Cursor) ([]int64, error)
	switch {
	case len(st.rule.ByYearDay) > 0:
		collect = st.collectYearDays
	case len(st.rule.ByWeekNo) > 0:
		collect = st.collectWeekNos
	case len(st.rule.ByDay) > 0:
		collect = st.collectYearWeekdays
	default:
		collect = st.collectYearMonthDays
	}

	return st.periodLoop(anchor, collect,
		func(c caltime.Cursor) {
			c.Add(caltime.FieldYear, st.rule.Interval)
		},
	)
}

func (st *state) collectYearDays(anchor caltime.Cursor) ([]int64, error) {
	var cands []int64
	for _, n := range st.rule.ByYearDay {
		day := n
		if day < 0 {
			day = anchor.DaysInYear() + day + 1
		}
		if day < 1 || day > anchor.DaysInYear() {
			continue
		}
		c := anchor.Clone()
		c.Set(caltime.FieldDayOfYear, day)
		cands = append(cands, c.Epoch())
	}
	return cands, nil
}

// collectWeekNos resolves BYWEEKNO weeks. Stored week numbers follow
// the iCalendar convention where week 1 is the first week with four or
// more days in the year; the cursor numbers weeks from the one
// containing January 1, so a per-year offset reconciles the two.
func (st *state) collectWeekNos(anchor caltime.Cursor) ([]int64, error) {
	wkst := st.rule.WeekStart
	active := st.rule.weekdaySet(st.startDow)
	extra := extraWeekNo(anchor, wkst)

	lastWeek := lastWeekOfYear(anchor, wkst)

	var cands []int64
	for _, wn := range st.rule.ByWeekNo {
		week := wn
		if week < 0 {
			week = lastWeek - extra + week + 1
		}
		if week < 1 {
			continue
		}
		for i := 0; i < 7; i++ {
			wd := caltime.Weekday((int(wkst)-1+i)%7 + 1)
			if !active[wd] {
				continue
			}
			c := anchor.Clone()
			c.SetWeekOfYear(week+extra, wkst)
			c.SetDayOfWeek(wd, wkst)
			cands = append(cands, c.Epoch())
		}
	}
	return cands, nil
}

// extraWeekNo is the offset between iCalendar week numbering and the
// cursor's. When the week containing January 1 keeps four or more of
// its days in the previous year, iCalendar assigns it to that year and
// its own week 1 is the cursor's week 2.
func extraWeekNo(anchor caltime.Cursor, wkst caltime.Weekday) int {
	jan1 := anchor.Clone()
	jan1.Set(caltime.FieldDayOfYear, 1)
	weekStart := jan1.Clone()
	weekStart.SetDayOfWeek(wkst, wkst)
	// weekStart is the week's first day on or before January 1; the gap
	// is how many of the week's days belong to the previous year.
	// Rounded division absorbs a DST shift inside the gap.
	lead := int((jan1.Epoch() - weekStart.Epoch() + 43200) / 86400)
	if lead >= 4 {
		return 1
	}
	return 0
}

// lastWeekOfYear is the cursor week number of December 31.
func lastWeekOfYear(anchor caltime.Cursor, wkst caltime.Weekday) int {
	dec31 := anchor.Clone()
	dec31.Set(caltime.FieldDayOfYear, anchor.DaysInYear())
	return dec31.WeekOfYear(wkst)
}

// collectYearWeekdays applies the monthly BYDAY logic across the year,
// restricted to BYMONTH when present.
func (st *state) collectYearWeekdays(anchor caltime.Cursor) ([]int64, error) {
	months := st.rule.ByMonth
	if len(months) == 0 {
		months = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	}

	var cands []int64
	for _, m := range months {
		if m < 1 || m > 12 {
			continue
		}
		monthAnchor := anchor.Clone()
		monthAnchor.Set(caltime.FieldMonth, m)
		monthAnchor.Set(caltime.FieldDay, 1)
		for _, tok := range st.rule.ByDay {
			cands = append(cands, monthWeekdayCandidates(monthAnchor, tok)...)
		}
	}
	return cands, nil
}

// collectYearMonthDays is the yearly default: BYMONTH (or the start's
// month) picks the months, then the monthly month-day logic applies.
func (st *state) collectYearMonthDays(anchor caltime.Cursor) ([]int64, error) {
	months := st.rule.ByMonth
	if len(months) == 0 {
		months = []int{st.startMonth}
	}

	var cands []int64
	for _, m := range months {
		if m < 1 || m > 12 {
			continue
		}
		monthAnchor := anchor.Clone()
		monthAnchor.Set(caltime.FieldMonth, m)
		monthAnchor.Set(caltime.FieldDay, 1)
		cands = append(cands, st.collectMonth(monthAnchor)...)
	}
	return cands, nil
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
