package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
)

// ReserveIDs hands out count fresh ids for a collection in their own
// transaction. Ids are strictly increasing and never handed out twice, even
// when the request that reserved them later fails.
func (s *Store) ReserveIDs(ctx context.Context, collection string, count int) ([]int64, error) {
	if count <= 0 {
		return nil, nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve ids: %w", err)
	}
	defer tx.Rollback()

	next, err := s.nextID(ctx, tx, collection)
	if err != nil {
		return nil, fmt.Errorf("reserve ids: %w", err)
	}
	if err := s.bumpSequence(ctx, tx, collection, next+int64(count)); err != nil {
		return nil, fmt.Errorf("reserve ids: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("reserve ids: commit: %w", err)
	}

	ids := make([]int64, count)
	for i := range ids {
		ids[i] = next + int64(i)
	}
	return ids, nil
}

// nextID is the larger of the sequence value and max(id)+1, so rows written
// with caller-chosen ids are never collided with.
func (s *Store) nextID(ctx context.Context, tx *sql.Tx, collection string) (int64, error) {
	var seq, maxID sql.NullInt64
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT next_id FROM id_sequences WHERE collection = ?`), collection).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT MAX(id) FROM models WHERE collection = ?`), collection).Scan(&maxID); err != nil {
		return 0, err
	}
	next := int64(1)
	if seq.Valid && seq.Int64 > next {
		next = seq.Int64
	}
	if maxID.Valid && maxID.Int64+1 > next {
		next = maxID.Int64 + 1
	}
	return next, nil
}

func (s *Store) bumpSequence(ctx context.Context, tx *sql.Tx, collection string, next int64) error {
	greatest := "MAX"
	if s.postgres() {
		greatest = "GREATEST"
	}
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO id_sequences (collection, next_id) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET next_id = `+greatest+`(id_sequences.next_id, excluded.next_id)
	`), collection, next)
	return err
}

// Write commits a write request atomically and returns its position.
//
// Locks are checked first: an instance lock conflicts when the row's
// position differs from the locked one; a collection lock conflicts when any
// row of the collection was written after the locked position. Conflicts
// return an errs LockConflict error and nothing is written.
func (s *Store) Write(ctx context.Context, req ir.WriteRequest) (int64, error) {
	if req.Empty() {
		return 0, nil
	}
	hash, err := ir.WriteRequestHash(req.Events)
	if err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	defer tx.Rollback()

	if err := s.checkLocks(ctx, tx, req); err != nil {
		return 0, err
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(position) FROM positions`).Scan(&last); err != nil {
		return 0, fmt.Errorf("write: read position: %w", err)
	}
	position := last.Int64 + 1

	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO positions (position, request_id, user_id, request_hash, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`), position, req.RequestID, req.UserID, hash, req.Timestamp); err != nil {
		return 0, fmt.Errorf("write: insert position: %w", err)
	}

	for _, ev := range req.Events {
		if err := s.applyEvent(ctx, tx, position, ev); err != nil {
			return 0, err
		}
	}

	for _, h := range req.History {
		args, err := marshalArgs(h.Args)
		if err != nil {
			return 0, fmt.Errorf("write: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO history_entries (position, fqid, template, args) VALUES (?, ?, ?, ?)
		`), position, string(h.FQID), h.Template, args); err != nil {
			return 0, fmt.Errorf("write: insert history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write: commit: %w", err)
	}
	return position, nil
}

func (s *Store) checkLocks(ctx context.Context, tx *sql.Tx, req ir.WriteRequest) error {
	fqids := make([]string, 0, len(req.Locks))
	for f := range req.Locks {
		fqids = append(fqids, string(f))
	}
	sort.Strings(fqids)
	for _, f := range fqids {
		var pos int64
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT position FROM models WHERE fqid = ?`), f).Scan(&pos)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("write: check lock %s: %w", f, err)
		}
		if pos != req.Locks[ir.FQID(f)] {
			return errs.LockConflict(f)
		}
	}

	colls := make([]string, 0, len(req.CollectionLocks))
	for c := range req.CollectionLocks {
		colls = append(colls, c)
	}
	sort.Strings(colls)
	for _, c := range colls {
		var pos sql.NullInt64
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT MAX(position) FROM models WHERE collection = ?`), c).Scan(&pos); err != nil {
			return fmt.Errorf("write: check collection lock %s: %w", c, err)
		}
		if pos.Int64 > req.CollectionLocks[c] {
			return errs.LockConflict(c)
		}
	}
	return nil
}

func (s *Store) applyEvent(ctx context.Context, tx *sql.Tx, position int64, ev ir.WriteEvent) error {
	switch ev.Type {
	case ir.EventCreate:
		data, err := marshalData(ev.Fields)
		if err != nil {
			return fmt.Errorf("write: create %s: %w", ev.FQID, err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO models (fqid, collection, id, data, deleted, position) VALUES (?, ?, ?, `+s.jsonParam()+`, 0, ?)
		`), string(ev.FQID), ev.FQID.Collection(), ev.FQID.ID(), data, position)
		if isUniqueViolation(err) {
			return errs.New(errs.KindAction, "Model '%s' already exists.", ev.FQID).At(ev.FQID, "")
		}
		if err != nil {
			return fmt.Errorf("write: create %s: %w", ev.FQID, err)
		}
		return s.bumpSequence(ctx, tx, ev.FQID.Collection(), ev.FQID.ID()+1)

	case ir.EventUpdate:
		var current string
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT data FROM models WHERE fqid = ? AND deleted = 0`), string(ev.FQID)).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NotFound(ev.FQID)
		}
		if err != nil {
			return fmt.Errorf("write: update %s: %w", ev.FQID, err)
		}
		obj, err := unmarshalData(current)
		if err != nil {
			return fmt.Errorf("write: update %s: %w", ev.FQID, err)
		}
		data, err := marshalData(obj.Merge(ev.Fields))
		if err != nil {
			return fmt.Errorf("write: update %s: %w", ev.FQID, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE models SET data = `+s.jsonParam()+`, position = ? WHERE fqid = ?`), data, position, string(ev.FQID)); err != nil {
			return fmt.Errorf("write: update %s: %w", ev.FQID, err)
		}
		return nil

	case ir.EventDelete:
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE models SET deleted = 1, position = ? WHERE fqid = ? AND deleted = 0`), position, string(ev.FQID))
		if err != nil {
			return fmt.Errorf("write: delete %s: %w", ev.FQID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFound(ev.FQID)
		}
		return nil
	}
	return fmt.Errorf("write: unknown event type %q", ev.Type)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
