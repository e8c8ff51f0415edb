package harness

import (
	"github.com/roach88/plenum/internal/engine"
	"github.com/roach88/plenum/internal/ir"
)

// StepResult is what one request produced.
type StepResult struct {
	Response engine.Response `json:"response"`

	// Write is the committed write request; empty when the request failed
	// or changed nothing.
	Write ir.WriteRequest `json:"write"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors is empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Steps: []StepResult{}, Errors: []string{}}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
