// Package contract validates action payloads against per-action contracts
// written in CUE. A contract is the body of a closed definition: unknown
// fields, missing required fields, wrong types, enumerations, lengths and
// patterns are all rejected by unification. The datastore is never consulted.
package contract

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
)

// Validator compiles and caches contracts. CUE values are not safe for
// concurrent use, so every operation holds mu.
type Validator struct {
	mu        sync.Mutex
	ctx       *cue.Context
	contracts map[string]*Contract
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{ctx: cuecontext.New(), contracts: make(map[string]*Contract)}
}

// Contract is one compiled payload definition.
type Contract struct {
	Name   string
	v      *Validator
	schema cue.Value
}

// Compile compiles body as the contract for name and caches it. Compiling the
// same name twice returns the cached contract.
func (v *Validator) Compile(name, body string) (*Contract, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if c, ok := v.contracts[name]; ok {
		return c, nil
	}

	var src strings.Builder
	if strings.Contains(body, "strings.") {
		src.WriteString("import \"strings\"\n\n")
	}
	src.WriteString("#Payload: {\n")
	src.WriteString(body)
	src.WriteString("\n}\n")

	root := v.ctx.CompileString(src.String(), cue.Filename(name+".cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("contract %s: %w", name, err)
	}
	schema := root.LookupPath(cue.ParsePath("#Payload"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("contract %s: %w", name, err)
	}

	c := &Contract{Name: name, v: v, schema: schema}
	v.contracts[name] = c
	return c, nil
}

// Validate checks one payload element. Failures are ValidationErrors whose
// Paths name every offending field.
func (c *Contract) Validate(payload ir.IRObject) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	data := c.v.ctx.Encode(ir.ToGo(payload))
	if err := data.Err(); err != nil {
		return errs.Validation(fmt.Sprintf("Invalid payload: %v", err))
	}
	unified := c.schema.Unify(data)
	err := unified.Validate(cue.Concrete(true), cue.Final())
	if err == nil {
		return nil
	}
	return toValidationError(err)
}

func toValidationError(err error) *errs.Error {
	var paths, msgs []string
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		path = strings.TrimPrefix(strings.TrimPrefix(path, "#Payload"), ".")
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path != "" && !slices.Contains(paths, path) {
			paths = append(paths, path)
		}
		if path != "" {
			msg = path + ": " + msg
		}
		if !slices.Contains(msgs, msg) {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		msgs = []string{err.Error()}
	}
	return errs.Validation("Invalid payload: "+strings.Join(msgs, "; "), paths...)
}
