package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/datastore"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/models"
)

// MetricsRecorder observes dispatch outcomes. operation is "dispatch" for
// the whole request and the action name for each top-level action.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Engine dispatches action requests. It holds no per-request state and is
// safe for concurrent use; each Dispatch builds its own overlay.
type Engine struct {
	backend   datastore.Backend
	actions   *action.Registry
	schema    *models.Registry
	contracts *contract.Validator
	clock     Clock
	ids       RequestIDGenerator
	metrics   MetricsRecorder
	maxDepth  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the request timestamp source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRequestIDs sets the request id generator.
func WithRequestIDs(g RequestIDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxDepth sets the sub-action nesting limit.
//
// Default: 32 (DefaultMaxDepth).
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// New creates an engine over backend.
func New(backend datastore.Backend, actions *action.Registry, schema *models.Registry, opts ...Option) *Engine {
	e := &Engine{
		backend:   backend,
		actions:   actions,
		schema:    schema,
		contracts: contract.NewValidator(),
		clock:     SystemClock{},
		ids:       UUIDv7Generator{},
		metrics:   nopRecorder{},
		maxDepth:  DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request is one inbound dispatch.
type Request struct {
	UserID   int64           `json:"user_id" yaml:"user_id"`
	Internal bool            `json:"internal" yaml:"internal"`
	Actions  []ActionRequest `json:"actions" yaml:"actions"`
}

// ActionRequest names one action and its payload elements.
type ActionRequest struct {
	Name string        `json:"name" yaml:"name"`
	Data []ir.IRObject `json:"data" yaml:"data"`
}

// Result is a committed dispatch.
type Result struct {
	RequestID string
	// Position is 0 when the dispatch changed nothing.
	Position int64
	// Results align with the request's actions; an entry is nil when the
	// action produced no per-element result.
	Results [][]ir.IRObject
	// Write is what was flushed, locks included.
	Write ir.WriteRequest
}

// Dispatch runs req atomically. Domain failures are returned as *errs.Error;
// nothing is written unless the error is nil.
func (e *Engine) Dispatch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	r := e.newRequest(req)

	res, err := e.dispatch(ctx, r, req)
	e.metrics.Observe(ctx, "dispatch", err == nil, time.Since(start))
	if err != nil {
		logFailure(r, err)
		r.rollback(ctx)
		return nil, err
	}
	slog.Info("dispatch committed",
		"request_id", res.RequestID,
		"user_id", req.UserID,
		"position", res.Position,
		"events", len(res.Write.Events),
		"duration", time.Since(start),
	)
	return res, nil
}

func (e *Engine) dispatch(ctx context.Context, r *request, req Request) (*Result, error) {
	results := make([][]ir.IRObject, len(req.Actions))
	for i, ar := range req.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, ok := e.actions.Lookup(ar.Name)
		if !ok {
			return nil, unknownAction(ar.Name)
		}
		switch {
		case a.Visibility == action.BackendInternal:
			return nil, internalOnly(ar.Name)
		case a.Visibility == action.StackInternal && !req.Internal:
			return nil, internalOnly(ar.Name)
		}

		start := time.Now()
		out, err := r.run(ctx, a, ar.Data)
		e.metrics.Observe(ctx, a.Name, err == nil, time.Since(start))
		if err != nil {
			return nil, err
		}
		results[i] = out
	}

	if err := r.finish(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	write := r.writeRequest()
	res := &Result{RequestID: r.id, Results: results, Write: write}
	if write.Empty() {
		return res, nil
	}
	pos, err := r.ds.Flush(ctx, write)
	if err != nil {
		return nil, fmt.Errorf("flush %s: %w", r.id, err)
	}
	res.Position = pos
	res.Write.Locks = r.ds.Locks()
	res.Write.CollectionLocks = r.ds.CollectionLocks()
	return res, nil
}

func logFailure(r *request, err error) {
	kind := errs.KindOf(err)
	if kind == errs.KindInternal {
		slog.Error("dispatch failed", "request_id", r.id, "user_id", r.userID, "error", err)
		return
	}
	slog.Info("dispatch rejected", "request_id", r.id, "user_id", r.userID, "kind", kind, "error", err)
}
