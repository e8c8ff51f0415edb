package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/plenum/internal/ir"
)

// Snapshot renders a result as canonical JSON: per step the response
// outcome and the committed events and history lines. Locks are left out;
// they only restate positions.
func Snapshot(name string, result *Result) ([]byte, error) {
	steps := make(ir.IRArray, len(result.Steps))
	for i, step := range result.Steps {
		obj := ir.IRObject{
			"success": ir.IRBool(step.Response.Success),
			"message": ir.IRString(step.Response.Message),
		}
		if step.Response.Kind != "" {
			obj["kind"] = ir.IRString(step.Response.Kind)
		}
		if results, err := ir.FromGo(step.Response.Results); err == nil {
			obj["results"] = results
		}
		if !step.Write.Empty() {
			obj["request_id"] = ir.IRString(step.Write.RequestID)
			obj["events"] = eventsIR(step.Write.Events)
			if len(step.Write.History) > 0 {
				obj["history"] = historyIR(step.Write.History)
			}
		}
		steps[i] = obj
	}
	return ir.MarshalCanonical(ir.IRObject{
		"scenario": ir.IRString(name),
		"steps":    steps,
	})
}

func eventsIR(events []ir.WriteEvent) ir.IRArray {
	out := make(ir.IRArray, len(events))
	for i, ev := range events {
		obj := ir.IRObject{"type": ir.IRString(ev.Type), "fqid": ir.IRString(ev.FQID)}
		if ev.Fields != nil {
			obj["fields"] = ev.Fields
		}
		out[i] = obj
	}
	return out
}

func historyIR(lines []ir.HistoryEntry) ir.IRArray {
	out := make(ir.IRArray, len(lines))
	for i, h := range lines {
		out[i] = ir.IRObject{
			"fqid":     ir.IRString(h.FQID),
			"template": ir.IRString(h.Template),
			"args":     ir.FQIDs(h.Args...),
		}
	}
	return out
}

// RunWithGolden executes a scenario, fails the test on unmet expectations
// and compares the snapshot with testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}
	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
