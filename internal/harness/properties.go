package harness

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/models"
	"github.com/roach88/plenum/internal/relations"
	"github.com/roach88/plenum/internal/store"
)

// CheckConsistency scans every live instance and reports broken relation
// symmetry, equal_fields mismatches, parent cycles and duplicate unique
// values. An empty result means the store is consistent.
func CheckConsistency(ctx context.Context, st *store.Store, schema *models.Registry) []string {
	state := map[ir.FQID]ir.IRObject{}
	for _, spec := range schema.Specs() {
		recs, err := st.Filter(ctx, spec.Name, nil)
		if err != nil {
			return []string{err.Error()}
		}
		for _, rec := range recs {
			state[rec.FQID] = rec.Data
		}
	}

	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for _, fqid := range slices.Sorted(maps.Keys(state)) {
		data := state[fqid]
		for _, spec := range schema.RelationFields(fqid.Collection()) {
			refs, err := relations.Partners(spec, data[spec.Name])
			if err != nil {
				report("%s/%s: %v", fqid, spec.Name, err)
				continue
			}
			for _, p := range refs {
				partner, ok := state[p]
				if !ok {
					report("%s/%s points to missing %s", fqid, spec.Name, p)
					continue
				}
				pspec, ok := schema.Partner(fqid.Collection(), spec.Name, p.Collection())
				if !ok {
					report("%s/%s: no partner field in %s", fqid, spec.Name, p.Collection())
					continue
				}
				back, err := relations.Partners(pspec, partner[pspec.Name])
				if err != nil || !slices.Contains(back, fqid) {
					report("%s/%s -> %s but %s/%s does not point back", fqid, spec.Name, p, p, pspec.Name)
				}
				for _, g := range spec.Relation.EqualFields {
					if ir.IsEmpty(data[g]) || ir.IsEmpty(partner[g]) {
						continue
					}
					if !ir.Equal(data[g], partner[g]) {
						report("%s and %s differ in %s", fqid, p, g)
					}
				}
			}
		}
		for _, field := range []string{"parent_id", "sort_parent_id"} {
			if cyclic(state, fqid, field) {
				report("%s is its own ancestor along %s", fqid, field)
			}
		}
	}

	for _, spec := range schema.Specs() {
		for _, field := range schema.UniqueFields(spec.Name) {
			seen := map[string]ir.FQID{}
			for fqid, data := range state {
				if fqid.Collection() != spec.Name || ir.IsEmpty(data[field]) {
					continue
				}
				key := render(data[field])
				if other, dup := seen[key]; dup {
					report("%s and %s share %s %s", min(other, fqid), max(other, fqid), field, key)
				}
				seen[key] = fqid
			}
		}
	}
	return problems
}

func cyclic(state map[ir.FQID]ir.IRObject, start ir.FQID, field string) bool {
	visited := map[ir.FQID]bool{start: true}
	cur := state[start]
	for {
		parent, ok := cur.Int(field)
		if !ok || parent == 0 {
			return false
		}
		next := ir.NewFQID(start.Collection(), parent)
		if visited[next] {
			return next == start
		}
		visited[next] = true
		if cur, ok = state[next]; !ok {
			return false
		}
	}
}

// Summary aggregates the outcome of a set of scenario files.
type Summary struct {
	Total    int       `json:"total"`
	Passed   int       `json:"passed"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

// Failure is one scenario that did not pass.
type Failure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// RunFiles loads and runs each scenario file. A file that cannot be loaded
// or run counts as a failure; RunFiles itself only fails on ctx.
func RunFiles(ctx context.Context, paths []string) (*Summary, error) {
	sum := &Summary{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Total++
		name := filepath.Base(path)
		scenario, err := LoadScenario(path)
		if err != nil {
			sum.fail(name, path, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}
		name = scenario.Name
		res, err := Run(ctx, scenario)
		if err != nil {
			sum.fail(name, path, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !res.Pass {
			sum.fail(name, path, res.Errors...)
			continue
		}
		sum.Passed++
	}
	return sum, nil
}

func (s *Summary) fail(name, path string, errors ...string) {
	s.Failed++
	s.Failures = append(s.Failures, Failure{Scenario: name, Path: path, Errors: errors})
}
