package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/datastore"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/relations"
)

// request is the state of one dispatch. It implements action.Invoker.
type request struct {
	e        *Engine
	id       string
	userID   int64
	internal bool
	now      int64

	ds        *datastore.Datastore
	checker   *permission.Checker
	relations *relations.Resolver
	events    *eventLog
	history   []ir.HistoryEntry
	deferred  []func(ctx context.Context) error
	undos     []func(ctx context.Context)
	depth     *depthQuota

	// touched lists instances created or updated, in first-write order, for
	// the deferred required-field check.
	touched []ir.FQID
	// unique maps an instance to the unique fields it wrote.
	unique map[ir.FQID][]string
	// protected lists deleted instances whose protect relations must be
	// empty or deleted by the end of the request.
	protected []ir.FQID
	// writes counts effective creates, updates and deletes.
	writes int
}

var _ action.Invoker = (*request)(nil)

func (e *Engine) newRequest(req Request) *request {
	r := &request{
		e:        e,
		id:       e.ids.Generate(),
		userID:   req.UserID,
		internal: req.Internal,
		now:      e.clock.Now(),
		ds:       datastore.New(e.backend),
		events:   newEventLog(),
		depth:    newDepthQuota(e.maxDepth),
		unique:   make(map[ir.FQID][]string),
	}
	r.checker = permission.New(r.ds, req.UserID)
	r.relations = relations.New(e.schema, partnerWriter{r})
	return r
}

func (r *request) Get(ctx context.Context, fqid ir.FQID, fields []string, opts ...datastore.ReadOption) (ir.IRObject, error) {
	return r.ds.Get(ctx, fqid, fields, opts...)
}

func (r *request) GetMany(ctx context.Context, collection string, ids []int64, fields []string, opts ...datastore.ReadOption) (map[int64]ir.IRObject, error) {
	return r.ds.GetMany(ctx, collection, ids, fields, opts...)
}

func (r *request) Filter(ctx context.Context, collection string, pred queryir.Predicate, fields []string, opts ...datastore.ReadOption) (map[int64]ir.IRObject, error) {
	return r.ds.Filter(ctx, collection, pred, fields, opts...)
}

func (r *request) Exists(ctx context.Context, collection string, pred queryir.Predicate) (bool, error) {
	return r.ds.Exists(ctx, collection, pred, false)
}

func (r *request) Max(ctx context.Context, collection string, pred queryir.Predicate, field string) (int64, bool, error) {
	return r.ds.Max(ctx, collection, pred, field)
}

func (r *request) ReserveIDs(ctx context.Context, collection string, count int) ([]int64, error) {
	return r.ds.ReserveIDs(ctx, collection, count)
}

func (r *request) IsDeleted(fqid ir.FQID) bool { return r.ds.IsDeleted(fqid) }

func (r *request) Permissions() *permission.Checker { return r.checker }

func (r *request) UserID() int64 { return r.userID }

func (r *request) Now() int64 { return r.now }

func (r *request) AddHistory(fqid ir.FQID, template string, args ...ir.FQID) {
	r.history = append(r.history, ir.HistoryEntry{FQID: fqid, Template: template, Args: args})
}

func (r *request) Defer(check func(ctx context.Context) error) {
	r.deferred = append(r.deferred, check)
}

func (r *request) OnRollback(undo func(ctx context.Context)) {
	r.undos = append(r.undos, undo)
}

// rollback runs the registered undos newest first. They run detached from
// ctx so a cancelled request still cleans up.
func (r *request) rollback(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(r.undos) - 1; i >= 0; i-- {
		r.undos[i](ctx)
	}
	r.undos = nil
}

// Create writes a new instance. Unset fields with a schema default get it.
func (r *request) Create(ctx context.Context, fqid ir.FQID, data ir.IRObject) error {
	if r.ds.IsCreated(fqid) {
		return errs.Action("Model '%s' already exists.", fqid)
	}
	state := r.withDefaults(fqid.Collection(), ir.IRObject{}.Merge(data))
	state["id"] = ir.IRInt(fqid.ID())

	r.ds.Create(fqid, state)
	r.events.create(fqid, state)
	r.writes++
	r.touch(fqid, state.SortedKeys())
	slog.Debug("instance created", "request_id", r.id, "fqid", fqid)
	return r.relations.Relate(ctx, fqid, nil, state, state.SortedKeys())
}

// Update merges patch into an existing instance. Fields whose value does
// not change are dropped, so repeating an update writes nothing.
func (r *request) Update(ctx context.Context, fqid ir.FQID, patch ir.IRObject) error {
	before, err := r.ds.Get(ctx, fqid, nil)
	if err != nil {
		return err
	}
	changed := changedFields(before, patch)
	if len(changed) == 0 {
		return nil
	}
	effective := patch.Project(changed)
	if err := r.ds.ApplyChangedModel(ctx, fqid, effective); err != nil {
		return err
	}
	r.events.update(fqid, effective)
	r.writes++
	r.touch(fqid, changed)
	slog.Debug("instance updated", "request_id", r.id, "fqid", fqid, "fields", changed)
	return r.relations.Relate(ctx, fqid, before, before.Merge(effective), changed)
}

// Delete removes an instance. Cascading partners are deleted with it,
// protecting partners are checked at the end of the request, and every
// other partner loses its back reference. Deleting an instance twice in
// one request is a no-op.
func (r *request) Delete(ctx context.Context, fqid ir.FQID) error {
	if r.ds.IsDeleted(fqid) {
		return nil
	}
	state, err := r.ds.Get(ctx, fqid, nil)
	if err != nil {
		return err
	}
	if err := r.ds.MarkDeleted(ctx, fqid); err != nil {
		return err
	}
	r.events.delete(fqid)
	r.writes++
	slog.Debug("instance deleted", "request_id", r.id, "fqid", fqid)

	for _, spec := range r.e.schema.RelationFields(fqid.Collection()) {
		switch spec.Relation.OnDelete {
		case ir.OnDeleteCascade:
			refs, err := relations.Partners(spec, state[spec.Name])
			if err != nil {
				return err
			}
			for _, p := range refs {
				if err := r.Delete(ctx, p); err != nil {
					return err
				}
			}
		case ir.OnDeleteProtect:
			if !ir.IsEmpty(state[spec.Name]) && !slices.Contains(r.protected, fqid) {
				r.protected = append(r.protected, fqid)
			}
		}
	}
	return r.relations.Unlink(ctx, fqid, state)
}

// Execute runs a sub-action. Sub-actions may call any action.
func (r *request) Execute(ctx context.Context, name string, data []ir.IRObject) ([]ir.IRObject, error) {
	a, ok := r.e.actions.Lookup(name)
	if !ok {
		return nil, unknownAction(name)
	}
	slog.Debug("sub-action", "request_id", r.id, "action", name, "depth", r.depth.Depth()+1)
	return r.run(ctx, a, data)
}

func (r *request) touch(fqid ir.FQID, fields []string) {
	if !slices.Contains(r.touched, fqid) {
		r.touched = append(r.touched, fqid)
	}
	for _, f := range fields {
		spec, ok := r.e.schema.Field(fqid.Collection(), f)
		if ok && spec.Unique && !slices.Contains(r.unique[fqid], f) {
			r.unique[fqid] = append(r.unique[fqid], f)
		}
	}
}

func (r *request) writeRequest() ir.WriteRequest {
	return ir.WriteRequest{
		RequestID: r.id,
		UserID:    r.userID,
		Timestamp: r.now,
		Events:    r.events.list(),
		History:   r.history,
	}
}

// changedFields lists the keys of patch whose value differs from state,
// sorted.
func changedFields(state, patch ir.IRObject) []string {
	var out []string
	for _, k := range patch.SortedKeys() {
		if ir.Equal(state[k], patch[k]) || (emptyList(state[k]) && emptyList(patch[k])) {
			continue
		}
		out = append(out, k)
	}
	return out
}

// emptyList treats an absent list like an empty one.
func emptyList(v ir.IRValue) bool {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return true
	case ir.IRArray:
		return len(val) == 0
	}
	return false
}

// partnerWriter is the relation resolver's view of the request: partner
// updates reach the overlay and the event log but do not recurse into the
// resolver.
type partnerWriter struct{ r *request }

func (w partnerWriter) Get(ctx context.Context, fqid ir.FQID, fields []string) (ir.IRObject, error) {
	return w.r.ds.Get(ctx, fqid, fields)
}

func (w partnerWriter) Update(ctx context.Context, fqid ir.FQID, patch ir.IRObject) error {
	if err := w.r.ds.ApplyChangedModel(ctx, fqid, patch); err != nil {
		return err
	}
	w.r.events.update(fqid, patch)
	w.r.touch(fqid, patch.SortedKeys())
	return nil
}

func (w partnerWriter) IsDeleted(fqid ir.FQID) bool { return w.r.ds.IsDeleted(fqid) }
