package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/livegraph/internal/ir"
)

// marshalAttrs converts attributes to canonical JSON TEXT for storage.
func marshalAttrs(attrs ir.IRObject) (string, error) {
	if attrs == nil {
		attrs = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	return string(data), nil
}

// unmarshalAttrs parses stored attributes. Integers go through json.Number
// so values beyond 2^53 survive.
func unmarshalAttrs(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	return obj, nil
}

// marshalJSON encodes structs (ops, touches, identities) with HTML
// escaping disabled so stored text matches what clients sent.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalJSON(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}
