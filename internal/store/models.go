package store

import (
	"fmt"
	"time"

	"github.com/example/calinst/internal/caltime"
)

// RecordType distinguishes the record families sharing the events table.
type RecordType int16

const (
	RecordEvent RecordType = 0
	RecordTodo  RecordType = 1
)

func (r RecordType) String() string {
	switch r {
	case RecordEvent:
		return "event"
	case RecordTodo:
		return "todo"
	default:
		return fmt.Sprintf("record(%d)", int16(r))
	}
}

// Event is one calendar record. Todos share the table and differ only
// in record type; they never recur past a single instance.
//
// Start and End carry the same time kind. Absolute events store epoch
// seconds plus the zone they were created in; civil events store
// zone-less wall-clock values.
type Event struct {
	ID          int64
	UID         string
	RecordType  RecordType
	Summary     string
	Location    string
	Description string

	Start caltime.Time
	End   caltime.Time
	TZID  string

	// OriginalEventID links an exception record to its parent; zero
	// means the record is not an exception. RecurrenceID holds the
	// occurrence instant the exception replaces, in compact form.
	OriginalEventID int64
	RecurrenceID    string

	// Exdate is the stored exception-date text, comma separated.
	Exdate string

	// ChangedVer is the change counter value stamped at the last write.
	ChangedVer int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsException reports whether the event materializes one occurrence of
// another event.
func (e *Event) IsException() bool { return e.OriginalEventID > 0 }

// Instance is one concrete occurrence row.
type Instance struct {
	EventID int64
	Start   caltime.Time
	End     caltime.Time
}

// timeColumns splits a value into the nullable column pair backing it.
// Absolute values fill the utime column, civil values the local column.
func timeColumns(t caltime.Time) (utime *int64, local *string) {
	switch t.Kind {
	case caltime.Absolute:
		v := t.Epoch
		return &v, nil
	case caltime.Civil:
		s := caltime.FormatCompact(t)
		return nil, &s
	default:
		return nil, nil
	}
}

// timeFromColumns rebuilds a value from its column pair using the
// stored kind as the discriminator.
func timeFromColumns(kind int16, utime *int64, local *string) (caltime.Time, error) {
	switch caltime.Kind(kind) {
	case caltime.Absolute:
		if utime == nil {
			return caltime.Time{}, fmt.Errorf("absolute time row missing utime column")
		}
		return caltime.FromEpoch(*utime), nil
	case caltime.Civil:
		if local == nil {
			return caltime.Time{}, fmt.Errorf("civil time row missing local column")
		}
		return caltime.ParseCompact(*local)
	default:
		return caltime.Time{}, fmt.Errorf("unknown time kind %d", kind)
	}
}
