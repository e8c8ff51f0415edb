package store

import (
	"context"
	"fmt"

	"github.com/roach88/plenum/internal/ir"
)

// HistoryRecord is one audit line joined with the position that wrote it.
type HistoryRecord struct {
	Position  int64
	RequestID string
	UserID    int64
	Timestamp int64
	FQID      ir.FQID
	Template  string
	Args      []ir.FQID
}

// PositionInfo describes one committed write request.
type PositionInfo struct {
	Position    int64  `json:"position"`
	RequestID   string `json:"request_id"`
	UserID      int64  `json:"user_id"`
	RequestHash string `json:"request_hash"`
	Timestamp   int64  `json:"timestamp"`
}

// History returns the audit lines of an instance, oldest first.
func (s *Store) History(ctx context.Context, fqid ir.FQID) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT h.position, p.request_id, p.user_id, p.timestamp, h.fqid, h.template, h.args
		FROM history_entries h
		JOIN positions p ON p.position = h.position
		WHERE h.fqid = ?
		ORDER BY h.position ASC, h.id ASC
	`), string(fqid))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := []HistoryRecord{}
	for rows.Next() {
		var r HistoryRecord
		var f, args string
		if err := rows.Scan(&r.Position, &r.RequestID, &r.UserID, &r.Timestamp, &f, &r.Template, &args); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.FQID = ir.FQID(f)
		if r.Args, err = unmarshalArgs(args); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}

// Positions lists committed write requests newest first, at most limit.
func (s *Store) Positions(ctx context.Context, limit int) ([]PositionInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT position, request_id, user_id, request_hash, timestamp
		FROM positions ORDER BY position DESC LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	out := []PositionInfo{}
	for rows.Next() {
		var p PositionInfo
		if err := rows.Scan(&p.Position, &p.RequestID, &p.UserID, &p.RequestHash, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}
