package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/plenum/internal/ir"
)

// marshalData renders an instance as canonical JSON for the data column.
// Null fields are dropped: stored documents never contain null.
func marshalData(data ir.IRObject) (string, error) {
	clean := make(ir.IRObject, len(data))
	for k, v := range data {
		if _, isNull := v.(ir.IRNull); isNull || v == nil {
			continue
		}
		clean[k] = v
	}
	b, err := ir.MarshalCanonical(clean)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(b), nil
}

// unmarshalData parses a data column. Large integers survive because
// IRObject decodes through json.Number.
func unmarshalData(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return obj, nil
}

func marshalArgs(args []ir.FQID) (string, error) {
	if args == nil {
		args = []ir.FQID{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal history args: %w", err)
	}
	return string(b), nil
}

func unmarshalArgs(data string) ([]ir.FQID, error) {
	var args []ir.FQID
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return nil, fmt.Errorf("unmarshal history args: %w", err)
	}
	return args, nil
}
