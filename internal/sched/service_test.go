package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/calinst/internal/caltime"
	"github.com/example/calinst/internal/recur"
	"github.com/example/calinst/internal/store"
)

func utcEpoch(y int, mo time.Month, d, h, mi int) int64 {
	return time.Date(y, mo, d, h, mi, 0, 0, time.UTC).Unix()
}

func weeklyCount(n int) *recur.Rule {
	return &recur.Rule{Freq: recur.FreqWeekly, Interval: 1, RangeType: recur.RangeCount, Count: n}
}

func hourMeeting(start int64) *store.Event {
	return &store.Event{
		Summary: "standup",
		Start:   caltime.FromEpoch(start),
		End:     caltime.FromEpoch(start + 3600),
	}
}

func TestCreateEventMaterializesInstances(t *testing.T) {
	svc, db, events, _ := newTestService()
	ctx := context.Background()

	start := utcEpoch(2012, time.October, 9, 9, 0)
	id, err := svc.CreateEvent(ctx, hourMeeting(start), weeklyCount(3))
	require.NoError(t, err)
	require.NotZero(t, id)

	rows, err := svc.Instances(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, start, rows[0].Start.Epoch)
	assert.Equal(t, utcEpoch(2012, time.October, 16, 9, 0), rows[1].Start.Epoch)
	assert.Equal(t, utcEpoch(2012, time.October, 23, 9, 0), rows[2].Start.Epoch)
	assert.Equal(t, start+3600, rows[0].End.Epoch)

	stored, err := events.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.UID)
	assert.Equal(t, int64(1), stored.ChangedVer)

	_, err = events.GetRule(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, 1, db.commits)
}

func TestCreateTodoIgnoresRule(t *testing.T) {
	svc, _, events, _ := newTestService()
	ctx := context.Background()

	ev := hourMeeting(utcEpoch(2013, time.March, 1, 12, 0))
	ev.RecordType = store.RecordTodo
	id, err := svc.CreateEvent(ctx, ev, weeklyCount(5))
	require.NoError(t, err)

	rows, err := svc.Instances(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = events.GetRule(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateEventRejectsMixedKinds(t *testing.T) {
	svc, _, _, _ := newTestService()

	ev := &store.Event{
		Start: caltime.FromEpoch(utcEpoch(2012, time.October, 9, 9, 0)),
		End:   caltime.FromDate(2012, 10, 9),
	}
	_, err := svc.CreateEvent(context.Background(), ev, nil)
	assert.ErrorIs(t, err, caltime.ErrInvalidRange)
}

func TestDeleteOccurrenceRecordsException(t *testing.T) {
	svc, db, events, _ := newTestService()
	ctx := context.Background()

	start := utcEpoch(2012, time.October, 9, 9, 0)
	id, err := svc.CreateEvent(ctx, hourMeeting(start), weeklyCount(3))
	require.NoError(t, err)

	second := caltime.FromEpoch(utcEpoch(2012, time.October, 16, 9, 0))
	require.NoError(t, svc.DeleteOccurrence(ctx, id, second))

	rows, err := svc.Instances(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, utcEpoch(2012, time.October, 23, 9, 0), rows[1].Start.Epoch)

	stored, err := events.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "20121016T090000Z", stored.Exdate)
	assert.Equal(t, int64(2), stored.ChangedVer)
	assert.Equal(t, 2, db.commits)

	// Regeneration honors the recorded exception: the deleted
	// occurrence stays gone and no extra slot is backfilled.
	require.NoError(t, svc.Regenerate(ctx, id))
	rows, err = svc.Instances(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, start, rows[0].Start.Epoch)
	assert.Equal(t, utcEpoch(2012, time.October, 23, 9, 0), rows[1].Start.Epoch)
}

func TestDeleteOccurrenceMissing(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	id, err := svc.CreateEvent(ctx, hourMeeting(utcEpoch(2012, time.October, 9, 9, 0)), weeklyCount(2))
	require.NoError(t, err)

	err = svc.DeleteOccurrence(ctx, id, caltime.FromEpoch(utcEpoch(2012, time.December, 25, 9, 0)))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExceptionInsertRemovesParentOccurrence(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	start := utcEpoch(2012, time.October, 9, 9, 0)
	parentID, err := svc.CreateEvent(ctx, hourMeeting(start), weeklyCount(3))
	require.NoError(t, err)

	// The second occurrence moves to the next day.
	moved := hourMeeting(utcEpoch(2012, time.October, 17, 10, 0))
	moved.OriginalEventID = parentID
	moved.RecurrenceID = "20121016T090000Z"
	childID, err := svc.CreateEvent(ctx, moved, nil)
	require.NoError(t, err)

	parentRows, err := svc.Instances(ctx, parentID)
	require.NoError(t, err)
	require.Len(t, parentRows, 2)
	assert.Equal(t, start, parentRows[0].Start.Epoch)
	assert.Equal(t, utcEpoch(2012, time.October, 23, 9, 0), parentRows[1].Start.Epoch)

	childRows, err := svc.Instances(ctx, childID)
	require.NoError(t, err)
	require.Len(t, childRows, 1)
	assert.Equal(t, utcEpoch(2012, time.October, 17, 10, 0), childRows[0].Start.Epoch)
}

func TestExceptionWallClockRecurrenceID(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	// Parent keeps wall-clock 09:00 in New York across the DST change.
	parent := &store.Event{
		Summary: "checkin",
		Start:   caltime.FromEpoch(time.Date(2012, time.October, 30, 9, 0, 0, 0, mustZone(t, "America/New_York")).Unix()),
		TZID:    "America/New_York",
	}
	parent.End = caltime.FromEpoch(parent.Start.Epoch + 1800)
	parentID, err := svc.CreateEvent(ctx, parent, weeklyCount(2))
	require.NoError(t, err)

	// A bare token resolves in the parent's zone.
	moved := hourMeeting(utcEpoch(2012, time.November, 7, 15, 0))
	moved.OriginalEventID = parentID
	moved.RecurrenceID = "20121106T090000"
	_, err = svc.CreateEvent(ctx, moved, nil)
	require.NoError(t, err)

	rows, err := svc.Instances(ctx, parentID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, parent.Start.Epoch, rows[0].Start.Epoch)
}

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestUpdateEventDropsRule(t *testing.T) {
	svc, db, events, _ := newTestService()
	ctx := context.Background()

	id, err := svc.CreateEvent(ctx, hourMeeting(utcEpoch(2012, time.October, 9, 9, 0)), weeklyCount(4))
	require.NoError(t, err)

	ev, _, err := svc.GetEvent(ctx, id)
	require.NoError(t, err)
	ev.Summary = "one-off"
	require.NoError(t, svc.UpdateEvent(ctx, ev, nil))

	rows, err := svc.Instances(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = events.GetRule(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, int64(2), db.ver)
}

func TestCivilEventLifecycle(t *testing.T) {
	svc, _, events, _ := newTestService()
	ctx := context.Background()

	ev := &store.Event{
		Summary: "holiday",
		Start:   caltime.FromDate(2013, 1, 1),
		End:     caltime.FromDate(2013, 1, 2),
	}
	rule := &recur.Rule{Freq: recur.FreqDaily, Interval: 1, RangeType: recur.RangeCount, Count: 3}
	id, err := svc.CreateEvent(ctx, ev, rule)
	require.NoError(t, err)

	rows, err := svc.Instances(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, caltime.Civil, rows[0].Start.Kind)
	assert.Equal(t, caltime.FromDate(2013, 1, 2), rows[1].Start)

	require.NoError(t, svc.DeleteOccurrence(ctx, id, caltime.FromDate(2013, 1, 2)))
	stored, err := events.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "20130102", stored.Exdate)

	rows, err = svc.Instances(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestInstancesInRange(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	start := utcEpoch(2012, time.October, 9, 9, 0)
	_, err := svc.CreateEvent(ctx, hourMeeting(start), weeklyCount(4))
	require.NoError(t, err)

	rows, err := svc.InstancesInRange(ctx, caltime.Absolute,
		caltime.FromEpoch(utcEpoch(2012, time.October, 15, 0, 0)),
		caltime.FromEpoch(utcEpoch(2012, time.October, 29, 0, 0)))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, utcEpoch(2012, time.October, 16, 9, 0), rows[0].Start.Epoch)
	assert.Equal(t, utcEpoch(2012, time.October, 23, 9, 0), rows[1].Start.Epoch)
}

func TestCreateEventAppliesDefaultZone(t *testing.T) {
	svc, _, events, _ := newTestService()
	svc.defaultZone = "America/New_York"
	ctx := context.Background()

	loc := mustZone(t, "America/New_York")
	ev := hourMeeting(time.Date(2012, time.November, 3, 9, 0, 0, 0, loc).Unix())
	daily := &recur.Rule{Freq: recur.FreqDaily, Interval: 1, RangeType: recur.RangeCount, Count: 2}
	id, err := svc.CreateEvent(ctx, ev, daily)
	require.NoError(t, err)

	stored, err := events.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", stored.TZID)

	// Expansion runs in the default zone: the 09:00 wall clock holds
	// across the fall-back change, so the instants sit 25 hours apart.
	rows, err := svc.Instances(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(25*3600), rows[1].Start.Epoch-rows[0].Start.Epoch)

	// Civil events carry no zone and the default must not leak in.
	allDay := &store.Event{
		Summary: "holiday",
		Start:   caltime.FromDate(2013, 1, 1),
		End:     caltime.FromDate(2013, 1, 2),
	}
	allDayID, err := svc.CreateEvent(ctx, allDay, nil)
	require.NoError(t, err)
	stored, err = events.GetByID(ctx, allDayID)
	require.NoError(t, err)
	assert.Empty(t, stored.TZID)
}

func TestUpdateRollbackKeepsPriorInstances(t *testing.T) {
	svc, db, events, instances := newTestService()
	ctx := context.Background()

	start := utcEpoch(2012, time.October, 9, 9, 0)
	id, err := svc.CreateEvent(ctx, hourMeeting(start), weeklyCount(3))
	require.NoError(t, err)

	// The second insert of the update's regeneration fails, after the
	// old rows were deleted and one new row was written.
	instances.insertErr = errors.New("no space left on device")
	instances.failOn = instances.inserts + 2

	ev, _, err := svc.GetEvent(ctx, id)
	require.NoError(t, err)
	ev.Summary = "moved"
	require.Error(t, svc.UpdateEvent(ctx, ev, weeklyCount(5)))

	// The transaction rolled back: prior instances, record and version
	// are all untouched.
	rows, err := svc.Instances(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, start, rows[0].Start.Epoch)
	assert.Equal(t, utcEpoch(2012, time.October, 23, 9, 0), rows[2].Start.Epoch)

	stored, err := events.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "standup", stored.Summary)
	assert.Equal(t, int64(1), stored.ChangedVer)
	assert.Equal(t, 1, db.commits)

	ver, err := svc.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)
}

func TestCurrentVersionTracksWrites(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	ver, err := svc.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, ver)

	id, err := svc.CreateEvent(ctx, hourMeeting(utcEpoch(2012, time.October, 9, 9, 0)), nil)
	require.NoError(t, err)

	ver, err = svc.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)

	require.NoError(t, svc.DeleteEvent(ctx, id))
	ver, err = svc.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ver)

	rows, err := svc.InstancesInRange(ctx, caltime.Absolute,
		caltime.FromEpoch(0), caltime.FromEpoch(1<<40))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
