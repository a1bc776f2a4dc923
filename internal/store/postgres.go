package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/example/calinst/internal/caltime"
	"github.com/example/calinst/internal/recur"
)

const eventColumns = `id, uid, record_type, summary, location, description,
time_kind, start_utime, end_utime, start_local, end_local, tzid,
original_event_id, recurrence_id, exdate, changed_ver, created_at, updated_at`

// eventRepo implements EventRepository.
type eventRepo struct {
	s *Store
}

func (r *eventRepo) Create(ctx context.Context, ev *Event) (int64, error) {
	defer observeDB(ctx, "db.events.create")()

	startU, startL := timeColumns(ev.Start)
	endU, endL := timeColumns(ev.End)
	const q = `INSERT INTO events
(uid, record_type, summary, location, description, time_kind,
 start_utime, end_utime, start_local, end_local, tzid,
 original_event_id, recurrence_id, exdate, changed_ver)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING id, created_at, updated_at`
	err := r.s.q(ctx).QueryRow(ctx, q,
		ev.UID, int16(ev.RecordType), ev.Summary, ev.Location, ev.Description,
		int16(ev.Start.Kind), startU, endU, startL, endL, ev.TZID,
		ev.OriginalEventID, ev.RecurrenceID, ev.Exdate, ev.ChangedVer,
	).Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return 0, mapError(err)
	}
	return ev.ID, nil
}

func (r *eventRepo) GetByID(ctx context.Context, id int64) (*Event, error) {
	defer observeDB(ctx, "db.events.get")()
	q := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	return scanEvent(r.s.q(ctx).QueryRow(ctx, q, id))
}

func (r *eventRepo) GetByUID(ctx context.Context, uid string) (*Event, error) {
	defer observeDB(ctx, "db.events.get_by_uid")()
	q := `SELECT ` + eventColumns + ` FROM events WHERE uid = $1`
	return scanEvent(r.s.q(ctx).QueryRow(ctx, q, uid))
}

func (r *eventRepo) Update(ctx context.Context, ev *Event) error {
	defer observeDB(ctx, "db.events.update")()

	startU, startL := timeColumns(ev.Start)
	endU, endL := timeColumns(ev.End)
	const q = `UPDATE events SET
uid=$2, record_type=$3, summary=$4, location=$5, description=$6,
time_kind=$7, start_utime=$8, end_utime=$9, start_local=$10, end_local=$11,
tzid=$12, original_event_id=$13, recurrence_id=$14, exdate=$15,
changed_ver=$16, updated_at=NOW()
WHERE id = $1`
	tag, err := r.s.q(ctx).Exec(ctx, q,
		ev.ID, ev.UID, int16(ev.RecordType), ev.Summary, ev.Location, ev.Description,
		int16(ev.Start.Kind), startU, endU, startL, endL,
		ev.TZID, ev.OriginalEventID, ev.RecurrenceID, ev.Exdate, ev.ChangedVer)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventRepo) Delete(ctx context.Context, id int64) error {
	defer observeDB(ctx, "db.events.delete")()
	const q = `DELETE FROM events WHERE id = $1`
	tag, err := r.s.q(ctx).Exec(ctx, q, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventRepo) List(ctx context.Context, recordType RecordType) ([]Event, error) {
	defer observeDB(ctx, "db.events.list")()
	q := `SELECT ` + eventColumns + ` FROM events WHERE record_type = $1 ORDER BY id`
	rows, err := r.s.q(ctx).Query(ctx, q, int16(recordType))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r *eventRepo) SetExdate(ctx context.Context, id int64, exdate string, ver int64) error {
	defer observeDB(ctx, "db.events.set_exdate")()
	const q = `UPDATE events SET exdate = $2, changed_ver = $3, updated_at = NOW() WHERE id = $1`
	tag, err := r.s.q(ctx).Exec(ctx, q, id, exdate, ver)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var (
		ev             Event
		recordType     int16
		kind           int16
		startU, endU   *int64
		startL, endL   *string
	)
	err := row.Scan(&ev.ID, &ev.UID, &recordType, &ev.Summary, &ev.Location,
		&ev.Description, &kind, &startU, &endU, &startL, &endL, &ev.TZID,
		&ev.OriginalEventID, &ev.RecurrenceID, &ev.Exdate, &ev.ChangedVer,
		&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	ev.RecordType = RecordType(recordType)
	if ev.Start, err = timeFromColumns(kind, startU, startL); err != nil {
		return nil, err
	}
	if ev.End, err = timeFromColumns(kind, endU, endL); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *eventRepo) SaveRule(ctx context.Context, eventID int64, rule recur.Rule) error {
	defer observeDB(ctx, "db.rrules.save")()

	untilU, untilL := timeColumns(rule.Until)
	const q = `INSERT INTO rrules
(event_id, freq, range_type, until_utime, until_local, count, interval, wkst,
 byday, bymonthday, byyearday, byweekno, bymonth, bysetpos, byhour, byminute, bysecond)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (event_id) DO UPDATE SET
freq=EXCLUDED.freq, range_type=EXCLUDED.range_type,
until_utime=EXCLUDED.until_utime, until_local=EXCLUDED.until_local,
count=EXCLUDED.count, interval=EXCLUDED.interval, wkst=EXCLUDED.wkst,
byday=EXCLUDED.byday, bymonthday=EXCLUDED.bymonthday,
byyearday=EXCLUDED.byyearday, byweekno=EXCLUDED.byweekno,
bymonth=EXCLUDED.bymonth, bysetpos=EXCLUDED.bysetpos,
byhour=EXCLUDED.byhour, byminute=EXCLUDED.byminute, bysecond=EXCLUDED.bysecond`
	_, err := r.s.q(ctx).Exec(ctx, q,
		eventID, int16(rule.Freq), int16(rule.RangeType), untilU, untilL,
		rule.Count, rule.Interval, int16(rule.WeekStart),
		recur.FormatWeekdayList(rule.ByDay),
		recur.FormatIntList(rule.ByMonthDay),
		recur.FormatIntList(rule.ByYearDay),
		recur.FormatIntList(rule.ByWeekNo),
		recur.FormatIntList(rule.ByMonth),
		recur.FormatIntList(rule.BySetPos),
		recur.FormatIntList(rule.ByHour),
		recur.FormatIntList(rule.ByMinute),
		recur.FormatIntList(rule.BySecond))
	return mapError(err)
}

func (r *eventRepo) GetRule(ctx context.Context, eventID int64) (recur.Rule, error) {
	defer observeDB(ctx, "db.rrules.get")()

	const q = `SELECT freq, range_type, until_utime, until_local, count, interval, wkst,
byday, bymonthday, byyearday, byweekno, bymonth, bysetpos, byhour, byminute, bysecond
FROM rrules WHERE event_id = $1`

	var (
		rule           recur.Rule
		freq, rt, wkst int16
		untilU         *int64
		untilL         *string
		lists          [9]string
	)
	err := r.s.q(ctx).QueryRow(ctx, q, eventID).Scan(
		&freq, &rt, &untilU, &untilL, &rule.Count, &rule.Interval, &wkst,
		&lists[0], &lists[1], &lists[2], &lists[3], &lists[4],
		&lists[5], &lists[6], &lists[7], &lists[8])
	if err != nil {
		return recur.Rule{}, mapError(err)
	}

	rule.Freq = recur.Freq(freq)
	rule.RangeType = recur.RangeType(rt)
	rule.WeekStart = caltime.Weekday(wkst)
	switch {
	case untilU != nil:
		rule.Until = caltime.FromEpoch(*untilU)
	case untilL != nil:
		if rule.Until, err = caltime.ParseCompact(*untilL); err != nil {
			return recur.Rule{}, err
		}
	}

	if rule.ByDay, err = recur.ParseWeekdayList(lists[0]); err != nil {
		return recur.Rule{}, err
	}
	intLists := []*[]int{
		&rule.ByMonthDay, &rule.ByYearDay, &rule.ByWeekNo, &rule.ByMonth,
		&rule.BySetPos, &rule.ByHour, &rule.ByMinute, &rule.BySecond,
	}
	for i, dst := range intLists {
		if *dst, err = recur.ParseIntList(lists[i+1]); err != nil {
			return recur.Rule{}, err
		}
	}
	return rule, nil
}

func (r *eventRepo) DeleteRule(ctx context.Context, eventID int64) error {
	defer observeDB(ctx, "db.rrules.delete")()
	const q = `DELETE FROM rrules WHERE event_id = $1`
	_, err := r.s.q(ctx).Exec(ctx, q, eventID)
	return mapError(err)
}
