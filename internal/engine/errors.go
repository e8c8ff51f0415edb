package engine

import (
	"context"
	"errors"

	"github.com/roach88/plenum/internal/errs"
)

func unknownAction(name string) *errs.Error {
	return errs.Action("Action %s does not exist.", name).With("action", name)
}

func internalOnly(name string) *errs.Error {
	return errs.New(errs.KindInternalOnly, "Action %s may not be called from outside.", name).With("action", name)
}

// toError normalizes err for the response. Domain errors pass through;
// anything else (SQL, IO, context) becomes an internal error whose message
// hides the cause.
func toError(err error) *errs.Error {
	if e, ok := errs.As(err); ok {
		return e
	}
	msg := "Internal error."
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		msg = "Request cancelled."
	}
	return &errs.Error{Kind: errs.KindInternal, Message: msg}
}
