package compiler

import (
	"fmt"
	"slices"

	"github.com/roach88/plenum/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrDuplicateCollection = "E100" // collection declared twice
	ErrMissingID           = "E101" // collection lacks a numeric id field
	ErrInvalidFieldKind    = "E102" // unknown field type
	ErrRelationNoTarget    = "E103" // relation kind without "to"
	ErrUnknownTarget       = "E104" // target collection does not exist
	ErrUnknownPartnerField = "E105" // partner field does not exist or is no relation
	ErrAsymmetricRelation  = "E106" // partner does not point back
	ErrEqualFieldMissing   = "E107" // equal_fields entry missing on owner or partner
	ErrTargetCardinality   = "E108" // plain relation with several targets
	ErrForbiddenTarget     = "E109" // forbidden collection listed as target
	ErrDefaultNotInEnum    = "E110" // default outside enum
	ErrInvalidOnDelete     = "E111" // unknown on_delete mode
	ErrTargetOnScalar      = "E112" // "to" on a non-relation field
)

// ValidationError represents a model description error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks compiled collections for structural and relational
// consistency. Returns all errors found (does not fail-fast).
func Validate(specs []ir.CollectionSpec) []ValidationError {
	var errs []ValidationError

	byName := make(map[string]*ir.CollectionSpec, len(specs))
	for i := range specs {
		c := &specs[i]
		if _, dup := byName[c.Name]; dup {
			errs = append(errs, ValidationError{Field: c.Name, Message: "duplicate collection", Code: ErrDuplicateCollection})
			continue
		}
		byName[c.Name] = c
	}

	for i := range specs {
		c := &specs[i]
		if id, ok := c.Field("id"); !ok || id.Kind != ir.KindNumber {
			errs = append(errs, ValidationError{Field: c.Name + ".id", Message: "collection needs a number id field", Code: ErrMissingID})
		}
		for j := range c.Fields {
			errs = append(errs, validateField(c, &c.Fields[j], byName)...)
		}
	}
	return errs
}

func validateField(c *ir.CollectionSpec, f *ir.FieldSpec, byName map[string]*ir.CollectionSpec) []ValidationError {
	var errs []ValidationError
	path := c.Name + "." + f.Name

	if !ir.ValidFieldKinds[f.Kind] {
		return append(errs, ValidationError{Field: path, Message: fmt.Sprintf("unknown field type %q", f.Kind), Code: ErrInvalidFieldKind})
	}

	if def, ok := f.Default.(ir.IRString); ok && len(f.Enum) > 0 && !slices.Contains(f.Enum, string(def)) {
		errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf("default %q not in enum", def), Code: ErrDefaultNotInEnum})
	}

	if !f.Kind.IsRelation() {
		if f.Relation != nil {
			errs = append(errs, ValidationError{Field: path, Message: "only relation fields may declare targets", Code: ErrTargetOnScalar})
		}
		return errs
	}
	if f.Relation == nil || len(f.Relation.Targets) == 0 {
		return append(errs, ValidationError{Field: path, Message: "relation field needs a target", Code: ErrRelationNoTarget})
	}

	rel := f.Relation
	switch rel.OnDelete {
	case ir.OnDeleteSetNull, ir.OnDeleteProtect, ir.OnDeleteCascade:
	default:
		errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf("unknown on_delete %q", rel.OnDelete), Code: ErrInvalidOnDelete})
	}
	if !f.Kind.IsGeneric() && len(rel.Targets) != 1 {
		errs = append(errs, ValidationError{Field: path, Message: "non-generic relation must have exactly one target", Code: ErrTargetCardinality})
	}

	for _, t := range rel.Targets {
		tpath := fmt.Sprintf("%s -> %s/%s", path, t.Collection, t.Field)
		if slices.Contains(rel.Forbidden, t.Collection) {
			errs = append(errs, ValidationError{Field: tpath, Message: "target collection is forbidden for this field", Code: ErrForbiddenTarget})
		}
		partner, ok := byName[t.Collection]
		if !ok {
			errs = append(errs, ValidationError{Field: tpath, Message: "unknown target collection", Code: ErrUnknownTarget})
			continue
		}
		pf, ok := partner.Field(t.Field)
		if !ok || !pf.Kind.IsRelation() || pf.Relation == nil {
			errs = append(errs, ValidationError{Field: tpath, Message: "partner field missing or not a relation", Code: ErrUnknownPartnerField})
			continue
		}
		back, ok := pf.Relation.Target(c.Name)
		if !ok || back.Field != f.Name {
			errs = append(errs, ValidationError{Field: tpath, Message: "partner field does not point back", Code: ErrAsymmetricRelation})
		}
		for _, eq := range rel.EqualFields {
			if _, ok := c.Field(eq); !ok {
				errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf("equal field %q missing on %s", eq, c.Name), Code: ErrEqualFieldMissing})
			}
			if _, ok := partner.Field(eq); !ok {
				errs = append(errs, ValidationError{Field: tpath, Message: fmt.Sprintf("equal field %q missing on %s", eq, partner.Name), Code: ErrEqualFieldMissing})
			}
		}
	}
	return errs
}
