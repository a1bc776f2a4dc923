package recur

import (
	"time"

	"github.com/teambition/rrule-go"

	"github.com/example/calinst/internal/caltime"
)

var rruleWeekdays = map[caltime.Weekday]rrule.Weekday{
	caltime.Sunday:    rrule.SU,
	caltime.Monday:    rrule.MO,
	caltime.Tuesday:   rrule.TU,
	caltime.Wednesday: rrule.WE,
	caltime.Thursday:  rrule.TH,
	caltime.Friday:    rrule.FR,
	caltime.Saturday:  rrule.SA,
}

// RRuleString renders the rule as RFC 5545 RRULE text for API
// responses and exports. A non-recurring rule renders empty. The
// engine never parses this text back; the stored row fields stay the
// source of truth.
func (r Rule) RRuleString() string {
	rule := r.Normalized()

	var freq rrule.Frequency
	switch rule.Freq {
	case FreqDaily:
		freq = rrule.DAILY
	case FreqWeekly:
		freq = rrule.WEEKLY
	case FreqMonthly:
		freq = rrule.MONTHLY
	case FreqYearly:
		freq = rrule.YEARLY
	default:
		return ""
	}

	opt := rrule.ROption{
		Freq:       freq,
		Interval:   rule.Interval,
		Wkst:       rruleWeekdays[rule.WeekStart],
		Bymonth:    rule.ByMonth,
		Bymonthday: rule.ByMonthDay,
		Byyearday:  rule.ByYearDay,
		Byweekno:   rule.ByWeekNo,
		Bysetpos:   rule.BySetPos,
		Byhour:     rule.ByHour,
		Byminute:   rule.ByMinute,
		Bysecond:   rule.BySecond,
	}

	for _, tok := range rule.ByDay {
		wd, ok := rruleWeekdays[tok.Day]
		if !ok {
			continue
		}
		if tok.Ord != 0 {
			wd = wd.Nth(tok.Ord)
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}

	switch rule.RangeType {
	case RangeCount:
		opt.Count = rule.Count
	case RangeUntil:
		opt.Until = untilAsTime(rule.Until)
	}

	return opt.String()
}

func untilAsTime(t caltime.Time) time.Time {
	if t.Kind == caltime.Absolute {
		return time.Unix(t.Epoch, 0).UTC()
	}
	return time.Date(t.Year, time.Month(t.Month), t.Day,
		t.Hour, t.Minute, t.Second, 0, time.UTC)
}
