package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// rawEnvelope is a decoded frame before its variant is known.
type rawEnvelope struct {
	Type   string
	Fields map[string]json.RawMessage
}

func decodeEnvelope(data []byte) (rawEnvelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return rawEnvelope{}, ErrMalformedFrame
	}
	env := rawEnvelope{Fields: fields}
	if raw, ok := fields["type"]; ok && !isEmptyValue(raw) {
		if err := json.Unmarshal(raw, &env.Type); err != nil {
			return rawEnvelope{}, &InvalidFieldError{Field: "type", Reason: "must be a string"}
		}
	}
	return env, nil
}

// missing returns the names in required that are absent, null or empty strings.
func (e rawEnvelope) missing(required []string) []string {
	var out []string
	for _, name := range required {
		if raw, ok := e.Fields[name]; !ok || isEmptyValue(raw) {
			out = append(out, name)
		}
	}
	return out
}

func (e rawEnvelope) has(name string) bool {
	raw, ok := e.Fields[name]
	return ok && !isEmptyValue(raw)
}

func isEmptyValue(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return true
	}
	if v[0] == '"' {
		var s string
		if json.Unmarshal(v, &s) == nil && len(bytes.TrimSpace([]byte(s))) == 0 {
			return true
		}
	}
	return false
}

// unmarshalVariant decodes data into dst, reporting type mismatches as
// InvalidFieldError.
func unmarshalVariant(data []byte, dst any) error {
	err := json.Unmarshal(data, dst)
	if err == nil {
		return nil
	}
	var invalid *InvalidFieldError
	if errors.As(err, &invalid) {
		return invalid
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &InvalidFieldError{Field: typeErr.Field, Reason: fmt.Sprintf("cannot be %s", typeErr.Value)}
	}
	return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
}
