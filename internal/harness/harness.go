package harness

import (
	"context"
	"fmt"

	"github.com/roach88/plenum/internal/actions"
	"github.com/roach88/plenum/internal/engine"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/media"
	"github.com/roach88/plenum/internal/models"
	"github.com/roach88/plenum/internal/store"
	"github.com/roach88/plenum/internal/testutil"
)

// DefaultNow is the scenario clock when none is given (2023-11-14).
const DefaultNow int64 = 1700000000

// Env is a complete dispatch stack over an in-memory store: every
// registered action, the default models and deterministic clock and ids.
type Env struct {
	Store  *store.Store
	Engine *engine.Engine
	Media  *media.Memory
	Clock  *testutil.FixedClock
	Schema *models.Registry
}

// NewEnv opens a fresh in-memory store, commits fixtures and builds an
// engine over it. Request ids are "<prefix>-1", "<prefix>-2", ...
// Close the env when done.
func NewEnv(ctx context.Context, fixtures testutil.Fixtures, now int64, prefix string) (*Env, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	if len(fixtures) > 0 {
		req, err := fixtures.WriteRequest()
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("fixtures: %w", err)
		}
		if _, err := st.Write(ctx, req); err != nil {
			st.Close()
			return nil, fmt.Errorf("write fixtures: %w", err)
		}
	}
	if now == 0 {
		now = DefaultNow
	}
	schema, err := models.Default()
	if err != nil {
		st.Close()
		return nil, err
	}
	blobs := media.NewMemory()
	clock := testutil.NewFixedClock(now)
	eng := engine.New(st, actions.NewRegistry(blobs), schema,
		engine.WithClock(clock),
		engine.WithRequestIDs(testutil.NewSequentialRequestIDs(prefix)),
	)
	return &Env{Store: st, Engine: eng, Media: blobs, Clock: clock, Schema: schema}, nil
}

// Close releases the store.
func (e *Env) Close() error { return e.Store.Close() }

// Dispatch runs one step and renders its response.
func (e *Env) Dispatch(ctx context.Context, step Step) (StepResult, error) {
	req, err := step.Request()
	if err != nil {
		return StepResult{}, err
	}
	res, err := e.Engine.Dispatch(ctx, req)
	out := StepResult{Response: engine.Respond(res, err)}
	if err == nil {
		out.Write = res.Write
	}
	return out, nil
}

// Request converts the step into an engine request.
func (s Step) Request() (engine.Request, error) {
	req := engine.Request{UserID: s.UserID, Internal: s.Internal}
	for i, a := range s.Actions {
		ar := engine.ActionRequest{Name: a.Name, Data: make([]ir.IRObject, len(a.Data))}
		for j, el := range a.Data {
			v, err := ir.FromGo(el)
			if err != nil {
				return engine.Request{}, fmt.Errorf("actions[%d].data[%d]: %w", i, j, err)
			}
			obj, _ := v.(ir.IRObject)
			if obj == nil {
				obj = ir.IRObject{}
			}
			ar.Data[j] = obj
		}
		req.Actions = append(req.Actions, ar)
	}
	return req, nil
}

// Run executes a scenario in a fresh environment and returns the result.
//
// The returned error reports a broken scenario (bad data, a store failure);
// unmet expectations are recorded in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	env, err := NewEnv(ctx, scenario.Data, scenario.Now, scenario.Name)
	if err != nil {
		return nil, err
	}
	defer env.Close()

	result := NewResult()
	for i, step := range scenario.Requests {
		out, err := env.Dispatch(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("requests[%d]: %w", i, err)
		}
		result.Steps = append(result.Steps, out)
		for _, msg := range checkExpect(step.Expect, out.Response) {
			result.AddError(fmt.Sprintf("requests[%d]: %s", i, msg))
		}
	}

	for _, msg := range EvaluateAssertions(ctx, env, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func checkExpect(exp *Expect, resp engine.Response) []string {
	if exp == nil {
		exp = &Expect{Success: true}
	}
	var out []string
	if resp.Success != exp.Success {
		if resp.Success {
			return []string{"expected failure, request succeeded"}
		}
		return []string{fmt.Sprintf("expected success, got %s: %s", resp.Kind, resp.Message)}
	}
	if exp.Kind != "" && string(resp.Kind) != exp.Kind {
		out = append(out, fmt.Sprintf("expected kind %s, got %s", exp.Kind, resp.Kind))
	}
	if exp.Message != "" && resp.Message != exp.Message {
		out = append(out, fmt.Sprintf("expected message %q, got %q", exp.Message, resp.Message))
	}
	if exp.Results != nil {
		if err := matchGo(exp.Results, resp.Results, "results"); err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}

