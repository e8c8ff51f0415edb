package action

import (
	"context"

	"github.com/roach88/plenum/internal/datastore"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
)

// Invoker is the request handle every hook receives. It shares one overlay,
// one acting user and one outgoing write request across the whole dispatch,
// including nested sub-actions.
type Invoker interface {
	// Reads see every write made earlier in the request.
	Get(ctx context.Context, fqid ir.FQID, fields []string, opts ...datastore.ReadOption) (ir.IRObject, error)
	GetMany(ctx context.Context, collection string, ids []int64, fields []string, opts ...datastore.ReadOption) (map[int64]ir.IRObject, error)
	Filter(ctx context.Context, collection string, pred queryir.Predicate, fields []string, opts ...datastore.ReadOption) (map[int64]ir.IRObject, error)
	Exists(ctx context.Context, collection string, pred queryir.Predicate) (bool, error)
	Max(ctx context.Context, collection string, pred queryir.Predicate, field string) (int64, bool, error)
	ReserveIDs(ctx context.Context, collection string, count int) ([]int64, error)

	// Create, Update and Delete write through the relation resolver and
	// record write events. Delete honors on_delete rules.
	Create(ctx context.Context, fqid ir.FQID, data ir.IRObject) error
	Update(ctx context.Context, fqid ir.FQID, patch ir.IRObject) error
	Delete(ctx context.Context, fqid ir.FQID) error
	IsDeleted(fqid ir.FQID) bool

	// Execute runs another action inside this request. Sub-actions may call
	// backend-internal actions.
	Execute(ctx context.Context, name string, data []ir.IRObject) ([]ir.IRObject, error)

	Permissions() *permission.Checker
	UserID() int64
	// Now is the request timestamp in unix seconds, fixed for the dispatch.
	Now() int64

	AddHistory(fqid ir.FQID, template string, args ...ir.FQID)
	// Defer registers a check run after every action of the request.
	Defer(check func(ctx context.Context) error)
	// OnRollback registers an undo for a side effect outside the datastore.
	// Undos run, newest first, only when the request does not commit.
	OnRollback(undo func(ctx context.Context))
}
