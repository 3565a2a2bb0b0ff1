package task

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strconv"
)

// Descriptor is a task published by the compute service for pull clients.
type Descriptor struct {
	Type      string          `json:"type"`
	Version   int             `json:"version"`
	Schema    int             `json:"schema"`
	Seed      uint64          `json:"seed"`
	Input     json.RawMessage `json:"input"`
	Signature string          `json:"signature"`
}

// Sign fills in the schema (if unset) and the signature.
func (d Descriptor) Sign() (Descriptor, error) {
	if d.Schema == 0 {
		d.Schema = SchemaVersion
	}
	sig, err := d.ComputeSignature()
	if err != nil {
		return Descriptor{}, err
	}
	d.Signature = sig
	return d, nil
}

// ComputeSignature hashes the descriptor's identity fields. The input is
// canonicalized first so that key order and whitespace do not change the
// signature.
func (d Descriptor) ComputeSignature() (string, error) {
	input, err := canonicalJSON(d.Input)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	writeField(h, []byte(strconv.Itoa(d.Schema)))
	writeField(h, []byte(d.Type))
	writeField(h, []byte(strconv.Itoa(d.Version)))
	writeField(h, []byte(strconv.FormatUint(d.Seed, 10)))
	writeField(h, input)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the carried signature matches the content.
func (d Descriptor) Verify() error {
	sig, err := d.ComputeSignature()
	if err != nil {
		return err
	}
	if sig != d.Signature {
		return fmt.Errorf("%w: signature mismatch", ErrMalformedPayload)
	}
	return nil
}

// Envelope returns the wire invocation for this descriptor.
func (d Descriptor) Envelope() Envelope {
	return Envelope{
		Schema:  d.Schema,
		Type:    d.Type,
		Version: d.Version,
		Seed:    d.Seed,
		Input:   d.Input,
	}
}

// CheckCompatible reports whether a client that understands reg and is
// currently running prev (nil if nothing runs) may install d in place.
func (d Descriptor) CheckCompatible(reg *Registry, prev *Descriptor) error {
	if d.Schema != SchemaVersion {
		return fmt.Errorf("%w: schema %d, want %d", ErrIncompatibleSchema, d.Schema, SchemaVersion)
	}
	if _, err := reg.Lookup(d.Type); err != nil {
		return err
	}
	if prev != nil && prev.Type == d.Type && prev.Version > d.Version {
		return fmt.Errorf("%w: %s version %d replaced by older %d", ErrIncompatibleSchema, d.Type, prev.Version, d.Version)
	}
	return nil
}

// writeField writes data with a length prefix so adjacent fields cannot
// run into each other.
func writeField(h hash.Hash, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	h.Write(length[:])
	h.Write(data)
}

func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return json.Marshal(v)
}
