// Package jsonvalue decodes loosely typed JSON into Go values while keeping
// integers as int64 and object key order where callers need it.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Member is a single key/value pair of a JSON object in document order.
type Member struct {
	Key   string
	Value any
}

// Decode reads exactly one JSON value from r.
func Decode(r io.Reader) (any, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return Normalize(value), nil
}

// Unmarshal is Decode over a byte slice.
func Unmarshal(data []byte) (any, error) {
	return Decode(bytes.NewReader(data))
}

// DecodeObject reads a JSON object and returns its members in document order.
// A repeated key keeps its first position and its last value.
func DecodeObject(data []byte) ([]Member, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	tok, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	members := make([]Member, 0)
	positions := map[string]int{}
	for decoder.More() {
		keyTok, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		var raw any
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode value for %q: %w", key, err)
		}
		value := Normalize(raw)
		if idx, seen := positions[key]; seen {
			members[idx].Value = value
			continue
		}
		positions[key] = len(members)
		members = append(members, Member{Key: key, Value: value})
	}
	if _, err := decoder.Token(); err != nil {
		return nil, err
	}
	return members, nil
}

// Normalize replaces json.Number values (recursively) with int64 when the
// literal is an integer that fits, float64 otherwise.
func Normalize(value any) any {
	switch typed := value.(type) {
	case json.Number:
		return normalizeNumber(typed)
	case map[string]any:
		for key, item := range typed {
			typed[key] = Normalize(item)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = Normalize(item)
		}
		return typed
	default:
		return value
	}
}

func normalizeNumber(number json.Number) any {
	if i, err := strconv.ParseInt(number.String(), 10, 64); err == nil {
		return i
	}
	f, err := number.Float64()
	if err != nil || math.IsInf(f, 0) {
		return number.String()
	}
	return f
}
