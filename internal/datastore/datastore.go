// Package datastore is the request-scoped read/write facade over the backing
// store. Writes land in an in-memory overlay (the changed models) and are
// visible to every later read of the same request; nothing reaches the
// backing store until Flush.
//
// Reads lock by default: the position of every instance read, and of every
// collection filtered, is remembered and checked again at Flush. A
// concurrent writer that touched any of them makes Flush fail with a
// LockConflict, and the caller retries the whole request.
package datastore

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/store"
)

// Backend is the committed datastore. *store.Store implements it.
type Backend interface {
	Get(ctx context.Context, fqid ir.FQID) (store.Record, error)
	GetMany(ctx context.Context, collection string, ids []int64) (map[int64]store.Record, error)
	Filter(ctx context.Context, collection string, pred queryir.Predicate) (map[int64]store.Record, error)
	Exists(ctx context.Context, collection string, pred queryir.Predicate, includeDeleted bool) (bool, error)
	CollectionPosition(ctx context.Context, collection string) (int64, error)
	ReserveIDs(ctx context.Context, collection string, count int) ([]int64, error)
	Write(ctx context.Context, req ir.WriteRequest) (int64, error)
}

var _ Backend = (*store.Store)(nil)

// Datastore is one request's view of the data. Not safe for concurrent use;
// a dispatch is single-threaded.
type Datastore struct {
	backend Backend

	// changed holds the full merged state of every instance written in this
	// request.
	changed map[ir.FQID]ir.IRObject
	created map[ir.FQID]bool
	// deleted keeps the last state of instances deleted in this request.
	deleted map[ir.FQID]ir.IRObject

	locks           map[ir.FQID]int64
	collectionLocks map[string]int64
}

// New returns an empty overlay over backend.
func New(backend Backend) *Datastore {
	return &Datastore{
		backend:         backend,
		changed:         map[ir.FQID]ir.IRObject{},
		created:         map[ir.FQID]bool{},
		deleted:         map[ir.FQID]ir.IRObject{},
		locks:           map[ir.FQID]int64{},
		collectionLocks: map[string]int64{},
	}
}

type readOpts struct {
	lock bool
}

// ReadOption tunes a read.
type ReadOption func(*readOpts)

// WithoutLock reads without recording an optimistic lock. Use it for lookups
// that cannot change the outcome, such as permission scope resolution.
func WithoutLock() ReadOption {
	return func(o *readOpts) { o.lock = false }
}

func options(opts []ReadOption) readOpts {
	o := readOpts{lock: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Get returns the named fields of one instance (all fields if none are
// named). Instances deleted in this request are NotFound.
func (d *Datastore) Get(ctx context.Context, fqid ir.FQID, fields []string, opts ...ReadOption) (ir.IRObject, error) {
	if _, gone := d.deleted[fqid]; gone {
		return nil, errs.NotFound(fqid)
	}
	if obj, ok := d.changed[fqid]; ok {
		return obj.Project(fields), nil
	}
	rec, err := d.backend.Get(ctx, fqid)
	if err != nil {
		return nil, err
	}
	if options(opts).lock {
		d.lock(fqid, rec.Position)
	}
	return rec.Data.Project(fields), nil
}

// GetMany reads several instances of one collection. Missing ids are absent
// from the result rather than an error.
func (d *Datastore) GetMany(ctx context.Context, collection string, ids []int64, fields []string, opts ...ReadOption) (map[int64]ir.IRObject, error) {
	o := options(opts)
	out := make(map[int64]ir.IRObject, len(ids))
	var missing []int64
	for _, id := range ids {
		fqid := ir.NewFQID(collection, id)
		if _, gone := d.deleted[fqid]; gone {
			continue
		}
		if obj, ok := d.changed[fqid]; ok {
			out[id] = obj.Project(fields)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	recs, err := d.backend.GetMany(ctx, collection, missing)
	if err != nil {
		return nil, err
	}
	for id, rec := range recs {
		if o.lock {
			d.lock(rec.FQID, rec.Position)
		}
		out[id] = rec.Data.Project(fields)
	}
	return out, nil
}

// Filter returns the instances of a collection matching pred, keyed by id.
// Overlay instances are evaluated against their merged state; instances
// deleted in this request never match.
func (d *Datastore) Filter(ctx context.Context, collection string, pred queryir.Predicate, fields []string, opts ...ReadOption) (map[int64]ir.IRObject, error) {
	if err := queryir.Validate(pred); err != nil {
		return nil, errs.New(errs.KindInternal, "invalid filter on %s: %v", collection, err)
	}
	if options(opts).lock {
		if _, ok := d.collectionLocks[collection]; !ok {
			pos, err := d.backend.CollectionPosition(ctx, collection)
			if err != nil {
				return nil, err
			}
			d.collectionLocks[collection] = pos
		}
	}
	recs, err := d.backend.Filter(ctx, collection, pred)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]ir.IRObject, len(recs))
	for id, rec := range recs {
		if d.inOverlay(rec.FQID) {
			continue
		}
		out[id] = rec.Data.Project(fields)
	}
	for fqid, obj := range d.changed {
		if fqid.Collection() == collection && queryir.Match(pred, obj) {
			out[fqid.ID()] = obj.Project(fields)
		}
	}
	return out, nil
}

// Exists reports whether any instance matches pred. With includeDeleted,
// instances deleted earlier (committed or in this request) count as well.
func (d *Datastore) Exists(ctx context.Context, collection string, pred queryir.Predicate, includeDeleted bool) (bool, error) {
	found, err := d.Filter(ctx, collection, pred, []string{"id"})
	if err != nil {
		return false, err
	}
	if len(found) > 0 || !includeDeleted {
		return len(found) > 0, nil
	}
	for fqid, obj := range d.deleted {
		if fqid.Collection() == collection && queryir.Match(pred, obj) {
			return true, nil
		}
	}
	return d.backend.Exists(ctx, collection, pred, true)
}

// Min returns the smallest integer value of field among matching instances.
func (d *Datastore) Min(ctx context.Context, collection string, pred queryir.Predicate, field string) (int64, bool, error) {
	return d.aggregate(ctx, collection, pred, field, func(a, b int64) bool { return a < b })
}

// Max returns the largest integer value of field among matching instances.
func (d *Datastore) Max(ctx context.Context, collection string, pred queryir.Predicate, field string) (int64, bool, error) {
	return d.aggregate(ctx, collection, pred, field, func(a, b int64) bool { return a > b })
}

func (d *Datastore) aggregate(ctx context.Context, collection string, pred queryir.Predicate, field string, better func(a, b int64) bool) (int64, bool, error) {
	found, err := d.Filter(ctx, collection, pred, []string{field})
	if err != nil {
		return 0, false, err
	}
	var best int64
	ok := false
	for _, obj := range found {
		v, isInt := obj.Int(field)
		if !isInt {
			continue
		}
		if !ok || better(v, best) {
			best, ok = v, true
		}
	}
	return best, ok, nil
}

// ReserveIDs reserves count new ids in the backing store immediately. They
// are consumed even if the request fails.
func (d *Datastore) ReserveIDs(ctx context.Context, collection string, count int) ([]int64, error) {
	return d.backend.ReserveIDs(ctx, collection, count)
}

// Create puts a new instance into the overlay.
func (d *Datastore) Create(fqid ir.FQID, data ir.IRObject) {
	d.changed[fqid] = ir.IRObject{}.Merge(data)
	d.created[fqid] = true
	delete(d.deleted, fqid)
}

// ApplyChangedModel merges a partial update into the overlay. The first
// write to a committed instance loads and locks its current state.
func (d *Datastore) ApplyChangedModel(ctx context.Context, fqid ir.FQID, patch ir.IRObject) error {
	if _, gone := d.deleted[fqid]; gone {
		return errs.NotFound(fqid)
	}
	base, ok := d.changed[fqid]
	if !ok {
		rec, err := d.backend.Get(ctx, fqid)
		if err != nil {
			return err
		}
		d.lock(fqid, rec.Position)
		base = rec.Data
	}
	d.changed[fqid] = base.Merge(patch)
	return nil
}

// MarkDeleted removes an instance from the overlay's view. Its last state
// stays available through Deleted for cascade bookkeeping.
func (d *Datastore) MarkDeleted(ctx context.Context, fqid ir.FQID) error {
	obj, err := d.Get(ctx, fqid, nil)
	if err != nil {
		return err
	}
	delete(d.changed, fqid)
	d.deleted[fqid] = obj
	return nil
}

// IsDeleted reports whether fqid was deleted in this request.
func (d *Datastore) IsDeleted(fqid ir.FQID) bool {
	_, ok := d.deleted[fqid]
	return ok
}

// IsCreated reports whether fqid was created in this request.
func (d *Datastore) IsCreated(fqid ir.FQID) bool {
	return d.created[fqid] && !d.IsDeleted(fqid)
}

// Deleted returns the last state of an instance deleted in this request.
func (d *Datastore) Deleted(fqid ir.FQID) (ir.IRObject, bool) {
	obj, ok := d.deleted[fqid]
	return obj, ok
}

// Changed lists the fqids written in this request (not deleted), sorted.
func (d *Datastore) Changed() []ir.FQID {
	return slices.Sorted(maps.Keys(d.changed))
}

// Locks returns a copy of the instance locks collected so far.
func (d *Datastore) Locks() map[ir.FQID]int64 {
	return maps.Clone(d.locks)
}

// CollectionLocks returns a copy of the collection locks collected so far.
func (d *Datastore) CollectionLocks() map[string]int64 {
	return maps.Clone(d.collectionLocks)
}

// Flush commits req with this overlay's locks attached and returns the new
// position. The overlay itself is not reused afterwards.
func (d *Datastore) Flush(ctx context.Context, req ir.WriteRequest) (int64, error) {
	if len(d.locks) > 0 {
		req.Locks = d.Locks()
	}
	if len(d.collectionLocks) > 0 {
		req.CollectionLocks = d.CollectionLocks()
	}
	return d.backend.Write(ctx, req)
}

func (d *Datastore) inOverlay(fqid ir.FQID) bool {
	if _, ok := d.changed[fqid]; ok {
		return true
	}
	_, ok := d.deleted[fqid]
	return ok
}

func (d *Datastore) lock(fqid ir.FQID, position int64) {
	if _, ok := d.locks[fqid]; !ok {
		d.locks[fqid] = position
	}
}
