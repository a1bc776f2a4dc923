package store

import (
	"context"
	"fmt"

	"github.com/example/calinst/internal/caltime"
)

// Occurrence rows live in one of two tables keyed by time kind. The
// local table stores compact civil text, which orders correctly under
// plain string comparison.
const (
	utimeTable = "instances_utime"
	localTable = "instances_local"
)

func instanceTable(kind caltime.Kind) (string, string, error) {
	switch kind {
	case caltime.Absolute:
		return utimeTable, "start_utime", nil
	case caltime.Civil:
		return localTable, "start_local", nil
	default:
		return "", "", fmt.Errorf("unknown time kind %d", int(kind))
	}
}

// instanceRepo implements InstanceRepository.
type instanceRepo struct {
	s *Store
}

func (r *instanceRepo) Insert(ctx context.Context, eventID int64, start, end caltime.Time) error {
	defer observeDB(ctx, "db.instances.insert")()

	switch start.Kind {
	case caltime.Absolute:
		const q = `INSERT INTO instances_utime (event_id, start_utime, end_utime) VALUES ($1, $2, $3)`
		_, err := r.s.q(ctx).Exec(ctx, q, eventID, start.Epoch, end.Epoch)
		return mapError(err)
	case caltime.Civil:
		const q = `INSERT INTO instances_local (event_id, start_local, end_local) VALUES ($1, $2, $3)`
		_, err := r.s.q(ctx).Exec(ctx, q, eventID,
			caltime.FormatCompact(start), caltime.FormatCompact(end))
		return mapError(err)
	default:
		return fmt.Errorf("unknown time kind %d", int(start.Kind))
	}
}

func (r *instanceRepo) DeleteAll(ctx context.Context, eventID int64) error {
	defer observeDB(ctx, "db.instances.delete_all")()

	// The event's kind is not known here; clear both tables.
	for _, table := range []string{utimeTable, localTable} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE event_id = $1`, table)
		if _, err := r.s.q(ctx).Exec(ctx, q, eventID); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (r *instanceRepo) DeleteAfterNth(ctx context.Context, eventID int64, kind caltime.Kind, n int) error {
	defer observeDB(ctx, "db.instances.delete_after_nth")()

	if n < 0 {
		n = 0
	}
	table, startCol, err := instanceTable(kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE ctid IN (
SELECT ctid FROM %s WHERE event_id = $1 ORDER BY %s OFFSET $2)`,
		table, table, startCol)
	_, err = r.s.q(ctx).Exec(ctx, q, eventID, n)
	return mapError(err)
}

func (r *instanceRepo) DeleteMatching(ctx context.Context, eventID int64, start caltime.Time) (bool, error) {
	defer observeDB(ctx, "db.instances.delete_matching")()

	table, startCol, err := instanceTable(start.Kind)
	if err != nil {
		return false, err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE event_id = $1 AND %s = $2`, table, startCol)

	var arg any
	if start.Kind == caltime.Absolute {
		arg = start.Epoch
	} else {
		arg = caltime.FormatCompact(start)
	}
	tag, err := r.s.q(ctx).Exec(ctx, q, eventID, arg)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *instanceRepo) ListByEvent(ctx context.Context, eventID int64, kind caltime.Kind) ([]Instance, error) {
	defer observeDB(ctx, "db.instances.list")()

	table, startCol, err := instanceTable(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT event_id, %s, %s FROM %s WHERE event_id = $1 ORDER BY %s`,
		startCol, endColumn(kind), table, startCol)
	rows, err := r.s.q(ctx).Query(ctx, q, eventID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return scanInstances(rows, kind)
}

func (r *instanceRepo) ListRange(ctx context.Context, kind caltime.Kind, from, to caltime.Time) ([]Instance, error) {
	defer observeDB(ctx, "db.instances.list_range")()

	table, startCol, err := instanceTable(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT event_id, %s, %s FROM %s WHERE %s >= $1 AND %s < $2 ORDER BY %s`,
		startCol, endColumn(kind), table, startCol, startCol, startCol)

	var fromArg, toArg any
	if kind == caltime.Absolute {
		fromArg, toArg = from.Epoch, to.Epoch
	} else {
		fromArg, toArg = caltime.FormatCompact(from), caltime.FormatCompact(to)
	}
	rows, err := r.s.q(ctx).Query(ctx, q, fromArg, toArg)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return scanInstances(rows, kind)
}

func endColumn(kind caltime.Kind) string {
	if kind == caltime.Absolute {
		return "end_utime"
	}
	return "end_local"
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanInstances(rows pgxRows, kind caltime.Kind) ([]Instance, error) {
	var out []Instance
	for rows.Next() {
		var inst Instance
		if kind == caltime.Absolute {
			var startU, endU int64
			if err := rows.Scan(&inst.EventID, &startU, &endU); err != nil {
				return nil, mapError(err)
			}
			inst.Start = caltime.FromEpoch(startU)
			inst.End = caltime.FromEpoch(endU)
		} else {
			var startL, endL string
			if err := rows.Scan(&inst.EventID, &startL, &endL); err != nil {
				return nil, mapError(err)
			}
			var err error
			if inst.Start, err = caltime.ParseCompact(startL); err != nil {
				return nil, err
			}
			if inst.End, err = caltime.ParseCompact(endL); err != nil {
				return nil, err
			}
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}
