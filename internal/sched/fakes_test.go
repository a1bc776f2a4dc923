package sched

import (
	"context"
	"sort"

	"github.com/example/calinst/internal/caltime"
	"github.com/example/calinst/internal/recur"
	"github.com/example/calinst/internal/store"
)

// fakeDB satisfies Datastore with the same semantics as the real
// store: the counter moves at most once per outermost transaction, and
// a failed outermost transaction restores the repositories to their
// state at begin.
type fakeDB struct {
	ver     int64
	depth   int
	pending int64
	commits int

	events    *fakeEvents
	instances *fakeInstances
	savedVer  int64
}

func (f *fakeDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.depth == 0 {
		f.snapshot()
	}
	f.depth++
	err := fn(ctx)
	f.depth--
	if f.depth == 0 {
		if err == nil {
			f.commits++
		} else {
			f.restore()
		}
		f.pending = 0
	}
	return err
}

func (f *fakeDB) snapshot() {
	f.savedVer = f.ver
	if f.events != nil {
		f.events.snapshot()
	}
	if f.instances != nil {
		f.instances.snapshot()
	}
}

func (f *fakeDB) restore() {
	f.ver = f.savedVer
	if f.events != nil {
		f.events.restore()
	}
	if f.instances != nil {
		f.instances.restore()
	}
}

func (f *fakeDB) ChangedVersion(ctx context.Context) (int64, error) {
	if f.pending == 0 {
		f.ver++
		f.pending = f.ver
	}
	return f.pending, nil
}

type fakeEvents struct {
	nextID int64
	rows   map[int64]*store.Event
	rules  map[int64]recur.Rule

	savedNextID int64
	savedRows   map[int64]*store.Event
	savedRules  map[int64]recur.Rule
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{rows: map[int64]*store.Event{}, rules: map[int64]recur.Rule{}}
}

func (f *fakeEvents) snapshot() {
	f.savedNextID = f.nextID
	f.savedRows = make(map[int64]*store.Event, len(f.rows))
	for id, ev := range f.rows {
		cp := *ev
		f.savedRows[id] = &cp
	}
	f.savedRules = make(map[int64]recur.Rule, len(f.rules))
	for id, r := range f.rules {
		f.savedRules[id] = r
	}
}

func (f *fakeEvents) restore() {
	f.nextID = f.savedNextID
	f.rows = f.savedRows
	f.rules = f.savedRules
	f.savedRows, f.savedRules = nil, nil
}

func (f *fakeEvents) Create(ctx context.Context, ev *store.Event) (int64, error) {
	f.nextID++
	ev.ID = f.nextID
	cp := *ev
	f.rows[ev.ID] = &cp
	return ev.ID, nil
}

func (f *fakeEvents) GetByID(ctx context.Context, id int64) (*store.Event, error) {
	ev, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeEvents) GetByUID(ctx context.Context, uid string) (*store.Event, error) {
	for _, ev := range f.rows {
		if ev.UID == uid {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeEvents) Update(ctx context.Context, ev *store.Event) error {
	if _, ok := f.rows[ev.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *ev
	f.rows[ev.ID] = &cp
	return nil
}

func (f *fakeEvents) Delete(ctx context.Context, id int64) error {
	if _, ok := f.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.rows, id)
	delete(f.rules, id)
	return nil
}

func (f *fakeEvents) List(ctx context.Context, rt store.RecordType) ([]store.Event, error) {
	var out []store.Event
	for _, ev := range f.rows {
		if ev.RecordType == rt {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeEvents) SetExdate(ctx context.Context, id int64, exdate string, ver int64) error {
	ev, ok := f.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	ev.Exdate = exdate
	ev.ChangedVer = ver
	return nil
}

func (f *fakeEvents) SaveRule(ctx context.Context, eventID int64, r recur.Rule) error {
	f.rules[eventID] = r
	return nil
}

func (f *fakeEvents) GetRule(ctx context.Context, eventID int64) (recur.Rule, error) {
	r, ok := f.rules[eventID]
	if !ok {
		return recur.Rule{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeEvents) DeleteRule(ctx context.Context, eventID int64) error {
	delete(f.rules, eventID)
	return nil
}

type fakeInstances struct {
	rows      []store.Instance
	insertErr error
	// failOn fails the Nth insert (1-based) with insertErr; zero fails
	// every insert while insertErr is set.
	failOn  int
	inserts int

	savedRows []store.Instance
}

func (f *fakeInstances) snapshot() {
	f.savedRows = append([]store.Instance(nil), f.rows...)
}

func (f *fakeInstances) restore() {
	f.rows = f.savedRows
	f.savedRows = nil
}

func instanceKey(t caltime.Time) string {
	if t.Kind == caltime.Absolute {
		// Fixed width keeps epoch ordering stable as text.
		return "a" + padEpoch(t.Epoch)
	}
	return caltime.FormatCompact(t)
}

func padEpoch(e int64) string {
	const width = 12
	s := ""
	for i := 0; i < width; i++ {
		s = string(rune('0'+e%10)) + s
		e /= 10
	}
	return s
}

func (f *fakeInstances) Insert(ctx context.Context, eventID int64, start, end caltime.Time) error {
	f.inserts++
	if f.insertErr != nil && (f.failOn == 0 || f.inserts == f.failOn) {
		return f.insertErr
	}
	f.rows = append(f.rows, store.Instance{EventID: eventID, Start: start, End: end})
	return nil
}

func (f *fakeInstances) DeleteAll(ctx context.Context, eventID int64) error {
	kept := f.rows[:0]
	for _, r := range f.rows {
		if r.EventID != eventID {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakeInstances) DeleteAfterNth(ctx context.Context, eventID int64, kind caltime.Kind, n int) error {
	var mine []store.Instance
	kept := f.rows[:0]
	for _, r := range f.rows {
		if r.EventID == eventID && r.Start.Kind == kind {
			mine = append(mine, r)
		} else {
			kept = append(kept, r)
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		return instanceKey(mine[i].Start) < instanceKey(mine[j].Start)
	})
	if n < len(mine) {
		mine = mine[:n]
	}
	f.rows = append(kept, mine...)
	return nil
}

func (f *fakeInstances) DeleteMatching(ctx context.Context, eventID int64, start caltime.Time) (bool, error) {
	matched := false
	kept := f.rows[:0]
	for _, r := range f.rows {
		if r.EventID == eventID && r.Start == start {
			matched = true
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return matched, nil
}

func (f *fakeInstances) ListByEvent(ctx context.Context, eventID int64, kind caltime.Kind) ([]store.Instance, error) {
	var out []store.Instance
	for _, r := range f.rows {
		if r.EventID == eventID && r.Start.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return instanceKey(out[i].Start) < instanceKey(out[j].Start)
	})
	return out, nil
}

func (f *fakeInstances) ListRange(ctx context.Context, kind caltime.Kind, from, to caltime.Time) ([]store.Instance, error) {
	lo, hi := instanceKey(from), instanceKey(to)
	var out []store.Instance
	for _, r := range f.rows {
		if r.Start.Kind != kind {
			continue
		}
		k := instanceKey(r.Start)
		if k >= lo && k < hi {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return instanceKey(out[i].Start) < instanceKey(out[j].Start)
	})
	return out, nil
}

type fakeVersions struct {
	db *fakeDB
}

func (f *fakeVersions) Current(ctx context.Context) (int64, error) {
	return f.db.ver, nil
}

func newTestService() (*Service, *fakeDB, *fakeEvents, *fakeInstances) {
	events := newFakeEvents()
	instances := &fakeInstances{}
	db := &fakeDB{events: events, instances: instances}
	svc := &Service{
		db:        db,
		events:    events,
		instances: instances,
		versions:  &fakeVersions{db: db},
		clock:     caltime.SystemClock{},
	}
	return svc, db, events, instances
}
