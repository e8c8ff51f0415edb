// Package errs defines the structured error every action failure is reported
// with. The first error aborts a dispatch; its Kind and Message become the
// response.
package errs

import (
	"errors"
	"fmt"

	"github.com/roach88/plenum/internal/ir"
)

// Kind categorizes a failure surfaced to callers.
type Kind string

const (
	KindValidation           Kind = "ValidationError"
	KindMissingPermission    Kind = "MissingPermission"
	KindPermissionDenied     Kind = "PermissionDenied"
	KindAction               Kind = "ActionError"
	KindNotFound             Kind = "NotFound"
	KindStillReferenced      Kind = "StillReferenced"
	KindRequiredFieldEmptied Kind = "RequiredFieldEmptied"
	KindCrossScopeViolation  Kind = "CrossScopeViolation"
	KindCycleDetected        Kind = "CycleDetected"
	KindDuplicateID          Kind = "DuplicateId"
	KindUnknownID            Kind = "UnknownId"
	KindIncompleteSort       Kind = "IncompleteSort"
	KindExtraInstances       Kind = "ExtraInstances"
	KindMissingInstances     Kind = "MissingInstances"
	KindLockConflict         Kind = "LockConflict"
	KindInternalOnly         Kind = "InternalOnly"

	// KindInternal marks infrastructure failures (SQL, IO) and programming
	// errors. Never produced by domain rules.
	KindInternal Kind = "InternalError"
)

// Error is a domain failure with enough context to point at the offending
// instance and field.
type Error struct {
	// Kind identifies the failure category.
	Kind Kind

	// Message is the human-readable text returned to the client.
	Message string

	// FQID is the instance the failure refers to, if any.
	FQID ir.FQID

	// Field is the offending field, if any.
	Field string

	// Paths lists offending payload paths (validation failures).
	Paths []string

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface. It returns the client message only.
func (e *Error) Error() string {
	return e.Message
}

// String includes the kind and location, for logs.
func (e *Error) String() string {
	s := string(e.Kind) + ": " + e.Message
	if e.FQID != "" {
		s += " (" + string(e.FQID)
		if e.Field != "" {
			s += "/" + e.Field
		}
		s += ")"
	}
	return s
}

// New creates an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// At attaches an instance and field to the error.
func (e *Error) At(fqid ir.FQID, field string) *Error {
	e.FQID = fqid
	e.Field = field
	return e
}

// With adds a detail entry.
func (e *Error) With(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Validation creates a ValidationError listing the offending paths.
func Validation(message string, paths ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Paths: paths}
}

// Action creates an ActionError.
func Action(format string, args ...any) *Error {
	return New(KindAction, format, args...)
}

// NotFound reports a missing instance.
func NotFound(fqid ir.FQID) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("Model '%s' does not exist.", fqid), FQID: fqid}
}

// MissingPermission reports a permission engine rejection.
func MissingPermission(perm string) *Error {
	return &Error{
		Kind:    KindMissingPermission,
		Message: "Missing permission: " + perm,
		Details: map[string]string{"permission": perm},
	}
}

// PermissionDenied reports a non-permission authorization rule.
func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

// LockConflict reports an optimistic concurrency failure.
func LockConflict(what string) *Error {
	return &Error{Kind: KindLockConflict, Message: "Datastore lock conflict on " + what, Details: map[string]string{"locked": what}}
}

// As extracts an *Error from err. Uses errors.As to handle wrapped errors.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsLockConflict reports whether err asks the caller to retry.
func IsLockConflict(err error) bool {
	return Is(err, KindLockConflict)
}

// IsNotFound reports whether err is a NotFound failure.
func IsNotFound(err error) bool {
	return Is(err, KindNotFound)
}
