// Package sched coordinates event persistence with recurrence
// expansion: every write that can change an event's occurrence set
// regenerates the materialized instance rows inside one transaction.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/calinst/internal/caltime"
	"github.com/example/calinst/internal/metrics"
	"github.com/example/calinst/internal/recur"
	"github.com/example/calinst/internal/store"
)

// Datastore is the transactional surface of the store the service
// depends on.
type Datastore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ChangedVersion(ctx context.Context) (int64, error)
}

// Service owns the event lifecycle. All mutating operations run as one
// logical transaction: the record write, the instance regeneration and
// the version stamp commit or roll back together.
type Service struct {
	db        Datastore
	events    store.EventRepository
	instances store.InstanceRepository
	versions  store.VersionRepository
	clock     caltime.Clock

	// defaultZone is stamped on absolute events written without one.
	defaultZone string
}

// New wires the service against a concrete store. Absolute events
// stored without a zone get defaultZone; empty means UTC.
func New(st *store.Store, clock caltime.Clock, defaultZone string) *Service {
	return &Service{
		db:          st,
		events:      st.Events,
		instances:   st.Instances,
		versions:    st.Versions,
		clock:       clock,
		defaultZone: defaultZone,
	}
}

func (s *Service) applyDefaultZone(ev *store.Event) {
	if ev.TZID == "" && ev.Start.Kind == caltime.Absolute {
		ev.TZID = s.defaultZone
	}
}

func (s *Service) validate(ev *store.Event) error {
	if ev.Start.Kind != ev.End.Kind {
		return fmt.Errorf("%w: start and end must share a time kind", caltime.ErrInvalidRange)
	}
	if _, err := caltime.Duration(s.clock, ev.Start, ev.End); err != nil {
		return err
	}
	return nil
}

// CreateEvent stores a new record, materializes its occurrences and, for
// an exception record, removes the replaced occurrence from its parent.
// A missing UID is generated. Todos never carry a rule.
func (s *Service) CreateEvent(ctx context.Context, ev *store.Event, rule *recur.Rule) (int64, error) {
	if err := s.validate(ev); err != nil {
		return 0, err
	}
	if ev.UID == "" {
		ev.UID = uuid.NewString()
	}
	s.applyDefaultZone(ev)
	if ev.RecordType == store.RecordTodo {
		rule = nil
	}

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		ver, err := s.db.ChangedVersion(ctx)
		if err != nil {
			return err
		}
		ev.ChangedVer = ver

		if _, err := s.events.Create(ctx, ev); err != nil {
			return err
		}
		if rule != nil && rule.Freq != recur.FreqNone {
			if err := s.events.SaveRule(ctx, ev.ID, *rule); err != nil {
				return err
			}
		} else {
			rule = nil
		}
		if err := s.regenerate(ctx, ev, rule); err != nil {
			return err
		}
		if ev.IsException() {
			return s.reconcileParent(ctx, ev)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ev.ID, nil
}

// UpdateEvent rewrites a record and regenerates its occurrences from
// scratch. Passing a nil rule removes any stored recurrence.
func (s *Service) UpdateEvent(ctx context.Context, ev *store.Event, rule *recur.Rule) error {
	if err := s.validate(ev); err != nil {
		return err
	}
	s.applyDefaultZone(ev)
	if ev.RecordType == store.RecordTodo {
		rule = nil
	}

	return s.db.WithTx(ctx, func(ctx context.Context) error {
		ver, err := s.db.ChangedVersion(ctx)
		if err != nil {
			return err
		}
		ev.ChangedVer = ver

		if err := s.events.Update(ctx, ev); err != nil {
			return err
		}
		if rule != nil && rule.Freq != recur.FreqNone {
			if err := s.events.SaveRule(ctx, ev.ID, *rule); err != nil {
				return err
			}
		} else {
			rule = nil
			if err := s.events.DeleteRule(ctx, ev.ID); err != nil {
				return err
			}
		}
		if err := s.regenerate(ctx, ev, rule); err != nil {
			return err
		}
		if ev.IsException() {
			return s.reconcileParent(ctx, ev)
		}
		return nil
	})
}

// DeleteEvent removes a record and all of its occurrence rows.
func (s *Service) DeleteEvent(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.db.ChangedVersion(ctx); err != nil {
			return err
		}
		if err := s.instances.DeleteAll(ctx, id); err != nil {
			return err
		}
		return s.events.Delete(ctx, id)
	})
}

// GetEvent returns a record with its rule, nil when it has none.
func (s *Service) GetEvent(ctx context.Context, id int64) (*store.Event, *recur.Rule, error) {
	ev, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rule, err := s.events.GetRule(ctx, id)
	switch {
	case err == nil:
		return ev, &rule, nil
	case errors.Is(err, store.ErrNotFound):
		return ev, nil, nil
	default:
		return nil, nil, err
	}
}

// ListEvents returns all records of one type.
func (s *Service) ListEvents(ctx context.Context, recordType store.RecordType) ([]store.Event, error) {
	return s.events.List(ctx, recordType)
}

// Instances returns the materialized occurrences of one event.
func (s *Service) Instances(ctx context.Context, eventID int64) ([]store.Instance, error) {
	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.instances.ListByEvent(ctx, eventID, ev.Start.Kind)
}

// InstancesInRange returns occurrences of all events of the given kind
// starting in [from, to), ordered by start.
func (s *Service) InstancesInRange(ctx context.Context, kind caltime.Kind, from, to caltime.Time) ([]store.Instance, error) {
	return s.instances.ListRange(ctx, kind, from, to)
}

// CurrentVersion reports the global change counter.
func (s *Service) CurrentVersion(ctx context.Context) (int64, error) {
	return s.versions.Current(ctx)
}

// Regenerate rebuilds the occurrence rows of one event from its stored
// rule, for example after the zone database changed.
func (s *Service) Regenerate(ctx context.Context, eventID int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		ev, rule, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		return s.regenerate(ctx, ev, rule)
	})
}

// ClearInstances drops the occurrence rows of one event without
// touching the record itself.
func (s *Service) ClearInstances(ctx context.Context, eventID int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		return s.instances.DeleteAll(ctx, eventID)
	})
}

// DeleteOccurrence removes a single occurrence of a recurring event and
// records it as an exception date so regeneration keeps it suppressed.
func (s *Service) DeleteOccurrence(ctx context.Context, eventID int64, start caltime.Time) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		ev, err := s.events.GetByID(ctx, eventID)
		if err != nil {
			return err
		}
		matched, err := s.instances.DeleteMatching(ctx, eventID, start)
		if err != nil {
			return err
		}
		if !matched {
			return store.ErrNotFound
		}

		token, err := recur.FormatExceptionToken(s.clock, start)
		if err != nil {
			return err
		}
		ver, err := s.db.ChangedVersion(ctx)
		if err != nil {
			return err
		}
		return s.events.SetExdate(ctx, eventID, recur.AppendExceptionText(ev.Exdate, token), ver)
	})
}

// regenerate deletes and re-inserts all occurrence rows of ev inside
// the caller's transaction. Instance rows stream straight from the
// expander into inserts; a failed insert aborts the expansion and the
// surrounding transaction discards the partial delete.
func (s *Service) regenerate(ctx context.Context, ev *store.Event, rule *recur.Rule) error {
	duration, err := caltime.Duration(s.clock, ev.Start, ev.End)
	if err != nil {
		return err
	}

	var r recur.Rule
	if rule != nil {
		r = *rule
	}
	exceptions, err := recur.ParseExceptions(s.clock,
		recur.ExpansionZone(ev.Start.Kind, ev.TZID), ev.Exdate)
	if err != nil {
		return err
	}

	if err := s.instances.DeleteAll(ctx, ev.ID); err != nil {
		return err
	}

	began := time.Now()
	expander := recur.Expander{Clock: s.clock}
	emitted, err := expander.Expand(recur.Input{
		EventID:     ev.ID,
		Rule:        r,
		Start:       ev.Start,
		Duration:    duration,
		Zone:        ev.TZID,
		Exceptions:  exceptions,
		IsException: ev.IsException(),
	}, recur.SinkFunc(func(eventID int64, start, end caltime.Time) error {
		return s.instances.Insert(ctx, eventID, start, end)
	}))
	if err != nil {
		return err
	}

	// A counted rule can admit more rows than its count when exception
	// handling interleaves; trim back to the first n in start order.
	if limit, ok := r.CountLimit(); ok {
		if err := s.instances.DeleteAfterNth(ctx, ev.ID, ev.Start.Kind, limit); err != nil {
			return err
		}
	}

	metrics.ObserveExpansion(r.Freq.String(), emitted, began)
	log.Printf("[INFO] expanded event id=%d freq=%s instances=%d", ev.ID, r.Freq, emitted)
	return nil
}

// reconcileParent removes from the parent event the occurrence a newly
// stored exception record replaces. The recurrence id carries one or
// more instants: UTC-marked tokens match by epoch, bare tokens by the
// parent's wall clock.
func (s *Service) reconcileParent(ctx context.Context, child *store.Event) error {
	parent, err := s.events.GetByID(ctx, child.OriginalEventID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[INFO] exception id=%d references missing parent id=%d", child.ID, child.OriginalEventID)
		return nil
	}
	if err != nil {
		return err
	}

	tokens := strings.FieldsFunc(child.RecurrenceID, func(r rune) bool {
		return r == ',' || r == ' '
	})
	for _, tok := range tokens {
		target, err := s.recurrenceInstant(parent, tok)
		if err != nil {
			return err
		}
		if _, err := s.instances.DeleteMatching(ctx, parent.ID, target); err != nil {
			return err
		}
	}
	return nil
}

// recurrenceInstant resolves one recurrence-id token against the
// parent's time kind so it compares equal to a stored instance row.
func (s *Service) recurrenceInstant(parent *store.Event, tok string) (caltime.Time, error) {
	utc := false
	if n := len(tok); n == 16 && (tok[n-1] == 'Z' || tok[n-1] == 'z') {
		tok = tok[:n-1]
		utc = true
	}
	civil, err := caltime.ParseCompact(tok)
	if err != nil {
		return caltime.Time{}, err
	}

	if parent.Start.Kind == caltime.Civil {
		if utc {
			return caltime.Time{}, fmt.Errorf("%w: UTC recurrence id %q for wall-clock parent", recur.ErrInvalidParameter, tok)
		}
		return civil, nil
	}

	zone := "UTC"
	if !utc && parent.TZID != "" {
		zone = parent.TZID
	}
	epoch, err := s.clock.CivilToEpoch(zone, civil)
	if err != nil {
		return caltime.Time{}, err
	}
	return caltime.FromEpoch(epoch), nil
}
