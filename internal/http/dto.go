package httpserver

import (
	"fmt"

	"github.com/example/calinst/internal/caltime"
	"github.com/example/calinst/internal/recur"
	"github.com/example/calinst/internal/store"
)

// timePayload is the wire form of a calendar time: exactly one of the
// two fields is set. Absolute times travel as epoch seconds, wall-clock
// times as compact text (YYYYMMDD or YYYYMMDDTHHMMSS).
type timePayload struct {
	Utime *int64 `json:"utime,omitempty"`
	Local string `json:"local,omitempty"`
}

func (p timePayload) toTime() (caltime.Time, error) {
	switch {
	case p.Utime != nil && p.Local != "":
		return caltime.Time{}, fmt.Errorf("time carries both utime and local")
	case p.Utime != nil:
		return caltime.FromEpoch(*p.Utime), nil
	case p.Local != "":
		return caltime.ParseCompact(p.Local)
	default:
		return caltime.Time{}, fmt.Errorf("time is empty")
	}
}

func payloadFromTime(t caltime.Time) timePayload {
	if t.Kind == caltime.Absolute {
		v := t.Epoch
		return timePayload{Utime: &v}
	}
	return timePayload{Local: caltime.FormatCompact(t)}
}

type rulePayload struct {
	Freq       string       `json:"freq"`
	Interval   int          `json:"interval,omitempty"`
	Count      int          `json:"count,omitempty"`
	Until      *timePayload `json:"until,omitempty"`
	WeekStart  string       `json:"wkst,omitempty"`
	ByDay      string       `json:"byday,omitempty"`
	ByMonthDay string       `json:"bymonthday,omitempty"`
	ByYearDay  string       `json:"byyearday,omitempty"`
	ByWeekNo   string       `json:"byweekno,omitempty"`
	ByMonth    string       `json:"bymonth,omitempty"`
	BySetPos   string       `json:"bysetpos,omitempty"`
	ByHour     string       `json:"byhour,omitempty"`
	ByMinute   string       `json:"byminute,omitempty"`
	BySecond   string       `json:"bysecond,omitempty"`
}

var freqNames = map[string]recur.Freq{
	"none":    recur.FreqNone,
	"daily":   recur.FreqDaily,
	"weekly":  recur.FreqWeekly,
	"monthly": recur.FreqMonthly,
	"yearly":  recur.FreqYearly,
}

func (p *rulePayload) toRule() (*recur.Rule, error) {
	if p == nil {
		return nil, nil
	}
	freq, ok := freqNames[p.Freq]
	if !ok {
		return nil, fmt.Errorf("%w: unknown freq %q", recur.ErrInvalidParameter, p.Freq)
	}

	rule := recur.Rule{Freq: freq, Interval: p.Interval}
	switch {
	case p.Count > 0 && p.Until != nil:
		return nil, fmt.Errorf("%w: rule carries both count and until", recur.ErrInvalidParameter)
	case p.Count > 0:
		rule.RangeType = recur.RangeCount
		rule.Count = p.Count
	case p.Until != nil:
		until, err := p.Until.toTime()
		if err != nil {
			return nil, err
		}
		rule.RangeType = recur.RangeUntil
		rule.Until = until
	}

	if p.WeekStart != "" {
		days, err := recur.ParseWeekdayList(p.WeekStart)
		if err != nil {
			return nil, err
		}
		if len(days) != 1 || days[0].Ord != 0 {
			return nil, fmt.Errorf("%w: wkst must be a single weekday", recur.ErrInvalidParameter)
		}
		rule.WeekStart = days[0].Day
	}

	var err error
	if rule.ByDay, err = recur.ParseWeekdayList(p.ByDay); err != nil {
		return nil, err
	}
	intFields := []struct {
		src string
		dst *[]int
	}{
		{p.ByMonthDay, &rule.ByMonthDay},
		{p.ByYearDay, &rule.ByYearDay},
		{p.ByWeekNo, &rule.ByWeekNo},
		{p.ByMonth, &rule.ByMonth},
		{p.BySetPos, &rule.BySetPos},
		{p.ByHour, &rule.ByHour},
		{p.ByMinute, &rule.ByMinute},
		{p.BySecond, &rule.BySecond},
	}
	for _, f := range intFields {
		if *f.dst, err = recur.ParseIntList(f.src); err != nil {
			return nil, err
		}
	}
	return &rule, nil
}

func payloadFromRule(r *recur.Rule) *rulePayload {
	if r == nil {
		return nil
	}
	p := &rulePayload{
		Freq:       r.Freq.String(),
		Interval:   r.Interval,
		ByDay:      recur.FormatWeekdayList(r.ByDay),
		ByMonthDay: recur.FormatIntList(r.ByMonthDay),
		ByYearDay:  recur.FormatIntList(r.ByYearDay),
		ByWeekNo:   recur.FormatIntList(r.ByWeekNo),
		ByMonth:    recur.FormatIntList(r.ByMonth),
		BySetPos:   recur.FormatIntList(r.BySetPos),
		ByHour:     recur.FormatIntList(r.ByHour),
		ByMinute:   recur.FormatIntList(r.ByMinute),
		BySecond:   recur.FormatIntList(r.BySecond),
	}
	if r.WeekStart.Valid() {
		p.WeekStart = r.WeekStart.String()
	}
	switch r.RangeType {
	case recur.RangeCount:
		p.Count = r.Count
	case recur.RangeUntil:
		until := payloadFromTime(r.Until)
		p.Until = &until
	}
	return p
}

type eventRequest struct {
	UID             string       `json:"uid,omitempty"`
	Type            string       `json:"type,omitempty"`
	Summary         string       `json:"summary"`
	Location        string       `json:"location,omitempty"`
	Description     string       `json:"description,omitempty"`
	Start           timePayload  `json:"start"`
	End             timePayload  `json:"end"`
	TZID            string       `json:"tzid,omitempty"`
	OriginalEventID int64        `json:"original_event_id,omitempty"`
	RecurrenceID    string       `json:"recurrence_id,omitempty"`
	Exdate          string       `json:"exdate,omitempty"`
	Rule            *rulePayload `json:"rrule,omitempty"`
}

func (req *eventRequest) toEvent() (*store.Event, *recur.Rule, error) {
	var recordType store.RecordType
	switch req.Type {
	case "", "event":
		recordType = store.RecordEvent
	case "todo":
		recordType = store.RecordTodo
	default:
		return nil, nil, fmt.Errorf("unknown record type %q", req.Type)
	}

	start, err := req.Start.toTime()
	if err != nil {
		return nil, nil, fmt.Errorf("start: %w", err)
	}
	end := start
	if req.End.Utime != nil || req.End.Local != "" {
		if end, err = req.End.toTime(); err != nil {
			return nil, nil, fmt.Errorf("end: %w", err)
		}
	}

	rule, err := req.Rule.toRule()
	if err != nil {
		return nil, nil, err
	}

	return &store.Event{
		UID:             req.UID,
		RecordType:      recordType,
		Summary:         req.Summary,
		Location:        req.Location,
		Description:     req.Description,
		Start:           start,
		End:             end,
		TZID:            req.TZID,
		OriginalEventID: req.OriginalEventID,
		RecurrenceID:    req.RecurrenceID,
		Exdate:          req.Exdate,
	}, rule, nil
}

type eventResponse struct {
	ID              int64        `json:"id"`
	UID             string       `json:"uid"`
	Type            string       `json:"type"`
	Summary         string       `json:"summary"`
	Location        string       `json:"location,omitempty"`
	Description     string       `json:"description,omitempty"`
	Start           timePayload  `json:"start"`
	End             timePayload  `json:"end"`
	TZID            string       `json:"tzid,omitempty"`
	OriginalEventID int64        `json:"original_event_id,omitempty"`
	RecurrenceID    string       `json:"recurrence_id,omitempty"`
	Exdate          string       `json:"exdate,omitempty"`
	Rule            *rulePayload `json:"rrule,omitempty"`
	RRuleText       string       `json:"rrule_text,omitempty"`
	ChangedVer      int64        `json:"changed_ver"`
}

func responseFromEvent(ev *store.Event, rule *recur.Rule) eventResponse {
	resp := eventResponse{
		ID:              ev.ID,
		UID:             ev.UID,
		Type:            ev.RecordType.String(),
		Summary:         ev.Summary,
		Location:        ev.Location,
		Description:     ev.Description,
		Start:           payloadFromTime(ev.Start),
		End:             payloadFromTime(ev.End),
		TZID:            ev.TZID,
		OriginalEventID: ev.OriginalEventID,
		RecurrenceID:    ev.RecurrenceID,
		Exdate:          ev.Exdate,
		Rule:            payloadFromRule(rule),
		ChangedVer:      ev.ChangedVer,
	}
	if rule != nil {
		resp.RRuleText = rule.RRuleString()
	}
	return resp
}

type instanceResponse struct {
	EventID int64       `json:"event_id"`
	Start   timePayload `json:"start"`
	End     timePayload `json:"end"`
}

func responseFromInstances(rows []store.Instance) []instanceResponse {
	out := make([]instanceResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, instanceResponse{
			EventID: row.EventID,
			Start:   payloadFromTime(row.Start),
			End:     payloadFromTime(row.End),
		})
	}
	return out
}
