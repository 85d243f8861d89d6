// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package protocol defines the Signal K wire shapes (spec §4.B/§6): Delta,
// Update, PathValue, Source, Meta, Hello, Subscribe/Unsubscribe/Put, and
// the discovery document. Unknown fields are ignored on read; optional
// fields are omitted on write when absent — the encoding/json idiom used
// throughout by the teacher's schema package rather than a hand-rolled
// marshaler.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Value holds an arbitrary JSON leaf value (null, bool, number, string,
// array, or object) without committing to a Go type up front, mirroring
// the teacher's custom schema.Float — a tagged variant, not a string blob,
// so that a stored `null` is distinguishable from "absent" and a leaf
// never needs re-parsing to answer "is this a subtree or a value".
//
// The zero Value is JSON null, not "absent". PathValue.Value is a plain
// Value, so an omitted "value" key reads the same as an explicit null; a
// *Value field is needed where "no value was supplied at all" must be
// representable.
type Value struct {
	raw json.RawMessage
}

// NewValue wraps an already-decoded Go value (string, float64, map, bool,
// nil, []any, ...) into a Value.
func NewValue(v any) Value {
	b, err := json.Marshal(v)
	if err != nil {
		// v is a programmer-supplied literal (e.g. in tests/tools); a
		// marshal failure here is a bug in the caller, not bad input.
		b = []byte("null")
	}
	return Value{raw: b}
}

// IsNull reports whether the value is the JSON literal null.
func (v Value) IsNull() bool {
	return v.raw == nil || bytes.Equal(bytes.TrimSpace(v.raw), []byte("null"))
}

// Interface decodes the value into a generic Go representation
// (map[string]any, []any, float64, string, bool, or nil).
func (v Value) Interface() (any, error) {
	if len(v.raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(v.raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Raw returns the underlying JSON bytes, for byte-for-byte round-tripping.
func (v Value) Raw() json.RawMessage { return v.raw }

func (v Value) MarshalJSON() ([]byte, error) {
	if v.raw == nil {
		return []byte("null"), nil
	}
	return v.raw, nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	cp := make(json.RawMessage, len(data))
	copy(cp, data)
	v.raw = cp
	return nil
}

// Equal compares the two values' raw JSON bytes, ignoring surrounding
// whitespace. Nothing is normalized: values built by NewValue carry
// encoding/json's sorted map keys, while decoded values keep the input's
// key order and spacing, so equal objects written differently compare
// unequal.
func (v Value) Equal(other Value) bool {
	return bytes.Equal(bytes.TrimSpace(v.raw), bytes.TrimSpace(other.raw))
}
