package engine

import (
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
)

// Response is the wire shape of a dispatch outcome.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Results holds one entry per action: null, or a list with one entry
	// (null or object) per payload element.
	Results []any `json:"results"`

	Kind     errs.Kind         `json:"kind,omitempty"`
	FQID     ir.FQID           `json:"fqid,omitempty"`
	Field    string            `json:"field,omitempty"`
	Paths    []string          `json:"paths,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
	Position int64             `json:"position,omitempty"`
}

// Respond renders a Dispatch outcome.
func Respond(res *Result, err error) Response {
	if err != nil {
		e := toError(err)
		return Response{
			Success: false,
			Message: e.Message,
			Results: []any{},
			Kind:    e.Kind,
			FQID:    e.FQID,
			Field:   e.Field,
			Paths:   e.Paths,
			Details: e.Details,
		}
	}
	out := Response{Success: true, Message: "Actions handled successfully", Position: res.Position}
	out.Results = make([]any, len(res.Results))
	for i, elems := range res.Results {
		if elems == nil {
			continue
		}
		list := make([]any, len(elems))
		for j, el := range elems {
			if el != nil {
				list[j] = ir.ToGo(el)
			}
		}
		out.Results[i] = list
	}
	return out
}
