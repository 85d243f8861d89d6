// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package skpath

import "testing"

// TestMatchesP5 exercises spec property P5 directly.
func TestMatchesP5(t *testing.T) {
	star := MustCompilePattern("*")
	for _, p := range []string{"a", "a.b", "a.b.c.d"} {
		if !star.MatchesString(p) {
			t.Errorf(`"*".Matches(%q) = false, want true`, p)
		}
	}

	literal := MustCompilePattern("navigation.speedOverGround")
	cases := map[string]bool{
		"navigation.speedOverGround":          true,
		"navigation.speedOverGround.extra":    false,
		"navigation":                          false,
		"environment.wind.speedApparent":      false,
	}
	for path, want := range cases {
		if got := literal.MatchesString(path); got != want {
			t.Errorf("literal.Matches(%q) = %v, want %v", path, got, want)
		}
	}

	mid := MustCompilePattern("a.*.c")
	midCases := map[string]bool{
		"a.X.c":   true,
		"a.c":     false,
		"a.X.Y.c": false,
		"a.Y.c":   true,
	}
	for path, want := range midCases {
		if got := mid.MatchesString(path); got != want {
			t.Errorf("a.*.c.Matches(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestMatchesTrailingWildcard(t *testing.T) {
	p := MustCompilePattern("navigation.*")
	cases := map[string]bool{
		"navigation.speedOverGround":          true,
		"navigation.position.latitude":        true,
		"navigation":                          false,
		"environment.wind.speedApparent":      false,
	}
	for path, want := range cases {
		if got := p.MatchesString(path); got != want {
			t.Errorf("navigation.*.Matches(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestCompilePatternRejectsEmpty(t *testing.T) {
	if _, err := CompilePattern(""); err == nil {
		t.Error("CompilePattern(\"\") = nil error, want error")
	}
	if _, err := CompilePattern("a..b"); err == nil {
		t.Error("CompilePattern(\"a..b\") = nil error, want error")
	}
}

func TestPatternStringIsIdentity(t *testing.T) {
	p := MustCompilePattern("sensors.*")
	if p.String() != "sensors.*" {
		t.Fatalf("String() = %q", p.String())
	}
}
