package store

import (
	"context"

	"github.com/example/calinst/internal/caltime"
	"github.com/example/calinst/internal/recur"
)

// EventRepository defines persistence operations for event and todo
// records and their attached recurrence rules.
type EventRepository interface {
	Create(ctx context.Context, ev *Event) (int64, error)
	GetByID(ctx context.Context, id int64) (*Event, error)
	GetByUID(ctx context.Context, uid string) (*Event, error)
	Update(ctx context.Context, ev *Event) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, recordType RecordType) ([]Event, error)

	// SetExdate rewrites the stored exception-date text after a single
	// occurrence is removed, stamping the new change version.
	SetExdate(ctx context.Context, id int64, exdate string, ver int64) error

	// SaveRule upserts the recurrence row for an event; GetRule returns
	// ErrNotFound when the event has none.
	SaveRule(ctx context.Context, eventID int64, r recur.Rule) error
	GetRule(ctx context.Context, eventID int64) (recur.Rule, error)
	DeleteRule(ctx context.Context, eventID int64) error
}

// InstanceRepository manages the materialized occurrence tables. Rows
// live in one of two tables keyed by time kind; every method routes on
// the kind it is given.
type InstanceRepository interface {
	Insert(ctx context.Context, eventID int64, start, end caltime.Time) error
	DeleteAll(ctx context.Context, eventID int64) error

	// DeleteAfterNth removes every row past the first n in start order,
	// enforcing a count bound after regeneration.
	DeleteAfterNth(ctx context.Context, eventID int64, kind caltime.Kind, n int) error

	// DeleteMatching removes rows whose start equals the given instant
	// and reports whether any row matched.
	DeleteMatching(ctx context.Context, eventID int64, start caltime.Time) (bool, error)

	ListByEvent(ctx context.Context, eventID int64, kind caltime.Kind) ([]Instance, error)

	// ListRange returns instances starting in [from, to) ordered by
	// start, across all events of the given kind.
	ListRange(ctx context.Context, kind caltime.Kind, from, to caltime.Time) ([]Instance, error)
}

// VersionRepository exposes the global change counter.
type VersionRepository interface {
	Current(ctx context.Context) (int64, error)
}
