// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package skpath implements Signal K dotted-path parsing and pattern
// matching (spec §4.A). Matching is a hand-rolled segment-wise comparison,
// not regex: the ESP32 target has no predictable-cost regex engine and
// ~200KB of usable RAM, so the matcher must run in fixed, small memory
// the way the tree navigation in the teacher's metric-store level walks
// a selector one segment at a time instead of compiling a pattern object.
package skpath

import (
	"strings"

	"github.com/signalk-go/signalk-server/internal/skerr"
)

const Separator = "."

// Path is a parsed, non-empty dotted Signal K path such as
// "navigation.position.latitude". Segment order is semantically
// meaningful; segments themselves are opaque strings.
type Path struct {
	segments []string
}

// Parse splits s on "." and rejects the empty string or any empty segment
// (leading/trailing/doubled separators).
func Parse(s string) (Path, error) {
	if s == "" {
		return Path{}, skerr.PathSegmentEmptyError{Path: s}
	}
	segs := strings.Split(s, Separator)
	for _, seg := range segs {
		if seg == "" {
			return Path{}, skerr.PathSegmentEmptyError{Path: s}
		}
	}
	return Path{segments: segs}, nil
}

// MustParse is Parse but panics on error; reserved for constants built
// from literal strings known at compile time (tests, default patterns).
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Segments returns the path's segments. The returned slice must not be
// mutated by the caller.
func (p Path) Segments() []string { return p.segments }

// String renders the path back to its dotted form.
func (p Path) String() string { return strings.Join(p.segments, Separator) }

// Join appends a path under a context/prefix path, returning the combined
// dotted string without reparsing — used when descending the store tree
// from a context root to an absolute leaf path.
func Join(parts ...string) string {
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, Separator)
}
