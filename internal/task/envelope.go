package task

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SchemaVersion is the wire schema written and accepted by this build.
const SchemaVersion = 1

// Envelope is the versioned wire form of a task invocation. It carries only
// what a remote executor needs to reproduce the run.
type Envelope struct {
	Schema  int             `json:"schema"`
	Type    string          `json:"type"`
	Version int             `json:"version"`
	Seed    uint64          `json:"seed"`
	Input   json.RawMessage `json:"input"`
}

// Encode serializes an invocation of taskType with the given input.
func Encode[I any](taskType string, version int, seed uint64, in I) ([]byte, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	data, err := json.Marshal(Envelope{
		Schema:  SchemaVersion,
		Type:    taskType,
		Version: version,
		Seed:    seed,
		Input:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Schema != SchemaVersion {
		return Envelope{}, fmt.Errorf("%w: schema %d, want %d", ErrIncompatibleSchema, env.Schema, SchemaVersion)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}
	return env, nil
}

// decodeStrict unmarshals data into v, rejecting unknown fields.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
