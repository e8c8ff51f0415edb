package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/testutil"
)

// Scenario is initial data, a sequence of requests and the expectations
// on the final state.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the fixed request timestamp. Zero means DefaultNow.
	Now int64 `yaml:"now,omitempty"`

	// Data is committed before the first request in a single position.
	Data testutil.Fixtures `yaml:"data"`

	// Requests are dispatched in order. A failing request that expects to
	// fail does not stop the scenario.
	Requests []Step `yaml:"requests"`

	// Assertions are evaluated after the last request.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one dispatch.
type Step struct {
	UserID   int64        `yaml:"user_id"`
	Internal bool         `yaml:"internal,omitempty"`
	Actions  []ActionStep `yaml:"actions"`

	// Expect defaults to plain success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// ActionStep names one action and its payload elements.
type ActionStep struct {
	Name string           `yaml:"name"`
	Data []map[string]any `yaml:"data"`
}

// Expect describes the response of a step.
type Expect struct {
	Success bool   `yaml:"success"`
	Kind    string `yaml:"kind,omitempty"`
	Message string `yaml:"message,omitempty"`

	// Results is matched against the response results as a subset.
	Results []any `yaml:"results,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	Type   string         `yaml:"type"`
	FQID   string         `yaml:"fqid,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Template is the history line looked for (history).
	Template string `yaml:"template,omitempty"`

	// Step is the zero-based request index (unchanged).
	Step int `yaml:"step,omitempty"`
}

// Assertion type constants.
const (
	AssertInstance   = "instance"
	AssertDeleted    = "deleted"
	AssertHistory    = "history"
	AssertUnchanged  = "unchanged"
	AssertConsistent = "consistent"
)

var knownKinds = []errs.Kind{
	errs.KindValidation, errs.KindMissingPermission, errs.KindPermissionDenied,
	errs.KindAction, errs.KindNotFound, errs.KindStillReferenced,
	errs.KindRequiredFieldEmptied, errs.KindCrossScopeViolation, errs.KindCycleDetected,
	errs.KindDuplicateID, errs.KindUnknownID, errs.KindIncompleteSort,
	errs.KindExtraInstances, errs.KindMissingInstances, errs.KindLockConflict,
	errs.KindInternalOnly, errs.KindInternal,
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown keys are rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Requests) == 0 {
		return fmt.Errorf("requests list is required and must be non-empty")
	}

	for key := range s.Data {
		if _, err := ir.ParseFQID(key); err != nil {
			return fmt.Errorf("data: %w", err)
		}
	}

	for i, step := range s.Requests {
		if len(step.Actions) == 0 {
			return fmt.Errorf("requests[%d]: actions list is required", i)
		}
		for j, a := range step.Actions {
			if a.Name == "" {
				return fmt.Errorf("requests[%d].actions[%d]: name is required", i, j)
			}
		}
		if step.Expect != nil && step.Expect.Kind != "" && !slices.Contains(knownKinds, errs.Kind(step.Expect.Kind)) {
			return fmt.Errorf("requests[%d].expect: unknown kind %q", i, step.Expect.Kind)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, len(s.Requests)); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, steps int) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertInstance, AssertDeleted, AssertHistory:
		if _, err := ir.ParseFQID(a.FQID); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Type == AssertInstance && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for instance", index)
		}
		if a.Type == AssertHistory && a.Template == "" {
			return fmt.Errorf("assertions[%d]: template is required for history", index)
		}
	case AssertUnchanged:
		if a.Step < 0 || a.Step >= steps {
			return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
		}
	case AssertConsistent:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
