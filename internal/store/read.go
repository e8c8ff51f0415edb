package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/querysql"
)

// Record is a stored instance with the position that last wrote it.
type Record struct {
	FQID     ir.FQID
	Data     ir.IRObject
	Position int64
}

// Get returns one live instance. Missing or deleted instances yield an
// errs NotFound error.
func (s *Store) Get(ctx context.Context, fqid ir.FQID) (Record, error) {
	var data string
	var pos int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT data, position FROM models WHERE fqid = ? AND deleted = 0
	`), string(fqid)).Scan(&data, &pos)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errs.NotFound(fqid)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", fqid, err)
	}
	obj, err := unmarshalData(data)
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", fqid, err)
	}
	return Record{FQID: fqid, Data: obj, Position: pos}, nil
}

// Position returns the position that last wrote an instance, deleted or not.
// Zero means the instance never existed.
func (s *Store) Position(ctx context.Context, fqid ir.FQID) (int64, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT position FROM models WHERE fqid = ?`), string(fqid)).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("position %s: %w", fqid, err)
	}
	return pos, nil
}

// GetMany returns the live instances among ids, keyed by id. Absent ids are
// simply missing from the result.
func (s *Store) GetMany(ctx context.Context, collection string, ids []int64) (map[int64]Record, error) {
	out := make(map[int64]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	ph := make([]byte, 0, len(ids)*2)
	for i, id := range ids {
		if i > 0 {
			ph = append(ph, ',')
		}
		ph = append(ph, '?')
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT fqid, data, position FROM models
		WHERE collection = ? AND deleted = 0 AND id IN (`+string(ph)+`)
		ORDER BY id ASC
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("get many %s: %w", collection, err)
	}
	if err := scanRecords(rows, out); err != nil {
		return nil, fmt.Errorf("get many %s: %w", collection, err)
	}
	return out, nil
}

// Filter returns the live instances of a collection matching pred.
func (s *Store) Filter(ctx context.Context, collection string, pred queryir.Predicate) (map[int64]Record, error) {
	return s.filter(ctx, collection, pred, false)
}

func (s *Store) filter(ctx context.Context, collection string, pred queryir.Predicate, includeDeleted bool) (map[int64]Record, error) {
	c := querysql.NewCompiler(s.dialect)
	c.IncludeDeleted = includeDeleted
	q, err := c.Select(collection, pred)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", collection, err)
	}
	rows, err := s.db.QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", collection, err)
	}
	out := map[int64]Record{}
	if err := scanRecords(rows, out); err != nil {
		return nil, fmt.Errorf("filter %s: %w", collection, err)
	}
	return out, nil
}

// Exists reports whether any instance matches pred. With includeDeleted,
// deleted rows count too.
func (s *Store) Exists(ctx context.Context, collection string, pred queryir.Predicate, includeDeleted bool) (bool, error) {
	recs, err := s.filter(ctx, collection, pred, includeDeleted)
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// Min returns the smallest integer value of field among matching instances.
// ok is false when no instance has an integer there.
func (s *Store) Min(ctx context.Context, collection string, pred queryir.Predicate, field string) (int64, bool, error) {
	return s.aggregate(ctx, "MIN", collection, pred, field)
}

// Max is Min's counterpart.
func (s *Store) Max(ctx context.Context, collection string, pred queryir.Predicate, field string) (int64, bool, error) {
	return s.aggregate(ctx, "MAX", collection, pred, field)
}

func (s *Store) aggregate(ctx context.Context, fn, collection string, pred queryir.Predicate, field string) (int64, bool, error) {
	q, err := querysql.NewCompiler(s.dialect).Aggregate(fn, collection, field, pred)
	if err != nil {
		return 0, false, fmt.Errorf("%s %s.%s: %w", fn, collection, field, err)
	}
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, q.SQL, q.Params...).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("%s %s.%s: %w", fn, collection, field, err)
	}
	return v.Int64, v.Valid, nil
}

// CollectionPosition returns the highest position of any row in the
// collection, deleted rows included. Collection locks compare against it.
func (s *Store) CollectionPosition(ctx context.Context, collection string) (int64, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT MAX(position) FROM models WHERE collection = ?`), collection).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("collection position %s: %w", collection, err)
	}
	return v.Int64, nil
}

// LastPosition returns the newest committed position, zero on an empty store.
func (s *Store) LastPosition(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM positions`).Scan(&v); err != nil {
		return 0, fmt.Errorf("last position: %w", err)
	}
	return v.Int64, nil
}

func scanRecords(rows *sql.Rows, out map[int64]Record) error {
	defer rows.Close()
	for rows.Next() {
		var fqid, data string
		var pos int64
		if err := rows.Scan(&fqid, &data, &pos); err != nil {
			return fmt.Errorf("scan model: %w", err)
		}
		obj, err := unmarshalData(data)
		if err != nil {
			return err
		}
		f := ir.FQID(fqid)
		out[f.ID()] = Record{FQID: f, Data: obj, Position: pos}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate models: %w", err)
	}
	return nil
}
