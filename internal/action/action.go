// Package action describes actions as plain values: a name, a target
// collection, a CRUD kind, a payload contract and a set of optional hooks.
// The engine supplies default behavior for each kind; hooks override single
// lifecycle steps.
//
// Lifecycle per payload element:
//
//	contract -> Validate -> CheckPermissions -> Expand -> Prepare -> apply -> Result
//
// apply is where the engine writes to the overlay, runs the relation
// resolver and records write events.
package action

import (
	"context"
	"fmt"

	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/permission"
)

// Kind selects the default apply step.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	// KindCustom actions do all their work in the Execute hook.
	KindCustom Kind = "custom"
)

// Visibility restricts who may call an action.
type Visibility int

const (
	// Public actions are callable by external clients.
	Public Visibility = iota
	// StackInternal actions need the internal request marker.
	StackInternal
	// BackendInternal actions are only callable as sub-actions.
	BackendInternal
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case StackInternal:
		return "stack_internal"
	case BackendInternal:
		return "backend_internal"
	}
	return fmt.Sprintf("visibility(%d)", int(v))
}

// Hook signatures. Every hook receives the request's invoker.
type (
	// ValidateFunc coerces and checks one payload element beyond its contract.
	ValidateFunc func(ctx context.Context, inv Invoker, instance ir.IRObject) (ir.IRObject, error)
	// PermissionFunc replaces the default permission check.
	PermissionFunc func(ctx context.Context, inv Invoker, instance ir.IRObject) error
	// ExpandFunc turns one element into the instances to apply.
	ExpandFunc func(ctx context.Context, inv Invoker, instance ir.IRObject) ([]ir.IRObject, error)
	// PrepareFunc computes derived values and runs pre-write side effects.
	PrepareFunc func(ctx context.Context, inv Invoker, instance ir.IRObject) (ir.IRObject, error)
	// AfterFunc runs once the instance is applied. For creates the instance
	// carries its assigned id.
	AfterFunc func(ctx context.Context, inv Invoker, instance ir.IRObject) error
	// ExecuteFunc is the body of a custom action; it returns the element's
	// result, or nil.
	ExecuteFunc func(ctx context.Context, inv Invoker, instance ir.IRObject) (ir.IRObject, error)
)

// Action is one named unit of mutation.
type Action struct {
	Name       string
	Collection string
	Kind       Kind
	Visibility Visibility

	// Contract is the CUE body every payload element must satisfy.
	Contract string

	// Permission is checked in the instance's meeting unless CheckPermissions
	// is set or SkipPermission is true.
	Permission     permission.Permission
	SkipPermission bool

	// History, if set, is recorded for every applied instance.
	History string

	Validate         ValidateFunc
	CheckPermissions PermissionFunc
	Expand           ExpandFunc
	Prepare          PrepareFunc
	After            AfterFunc
	Execute          ExecuteFunc
}

// validate reports a misconfigured action.
func (a *Action) validate() error {
	if a.Name == "" {
		return fmt.Errorf("action without name")
	}
	switch a.Kind {
	case KindCreate, KindUpdate, KindDelete:
		if a.Collection == "" {
			return fmt.Errorf("action %s: %s needs a collection", a.Name, a.Kind)
		}
	case KindCustom:
		if a.Execute == nil {
			return fmt.Errorf("action %s: custom action needs Execute", a.Name)
		}
	default:
		return fmt.Errorf("action %s: unknown kind %q", a.Name, a.Kind)
	}
	if a.Permission == "" && !a.SkipPermission && a.CheckPermissions == nil {
		return fmt.Errorf("action %s: no permission rule", a.Name)
	}
	if a.Permission != "" && !permission.Valid(a.Permission) {
		return fmt.Errorf("action %s: unknown permission %s", a.Name, a.Permission)
	}
	return nil
}
