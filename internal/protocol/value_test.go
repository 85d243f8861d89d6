// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package protocol

import (
	"encoding/json"
	"testing"
)

func TestValueIsNull(t *testing.T) {
	var zero Value
	if !zero.IsNull() {
		t.Error("zero Value.IsNull() = false, want true")
	}

	null := NewValue(nil)
	if !null.IsNull() {
		t.Error("NewValue(nil).IsNull() = false, want true")
	}

	v := NewValue(42.0)
	if v.IsNull() {
		t.Error("NewValue(42.0).IsNull() = true, want false")
	}
}

func TestValueRoundTrip(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"a":1,"b":[true,false]}`), &v); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	out, err := v.Interface()
	if err != nil {
		t.Fatalf("Interface returned error: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("Interface() = %T, want map[string]any", out)
	}
	if m["a"] != 1.0 {
		t.Errorf("m[a] = %v, want 1.0", m["a"])
	}
}

func TestValueEqual(t *testing.T) {
	a := NewValue(3.5)
	b := NewValue(3.5)
	c := NewValue("3.5")
	if !a.Equal(b) {
		t.Error("a.Equal(b) = false, want true")
	}
	if a.Equal(c) {
		t.Error("a.Equal(c) = true, want false")
	}
}

func TestValueMarshalNilIsNull(t *testing.T) {
	var v Value
	b, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON returned error: %v", err)
	}
	if string(b) != "null" {
		t.Errorf("MarshalJSON() = %q, want \"null\"", b)
	}
}
