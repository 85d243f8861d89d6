// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package skpath

import (
	"strings"

	"github.com/signalk-go/signalk-server/internal/skerr"
)

// Wildcard is the single segment token that stands in for "any one
// segment", or, in trailing position, "any one-or-more segment suffix".
const Wildcard = "*"

// Pattern is a compiled path pattern: a sequence of literal segments and
// Wildcard markers. Compilation never allocates more than len(segments)
// small strings, so its footprint is predictable on a constrained host.
type Pattern struct {
	raw      string
	segments []string
}

// CompilePattern parses a dotted pattern string into a Pattern.
//
// Rules (spec §3/§4.A):
//   - the empty string fails to compile (skerr.PatternEmptyError)
//   - empty segments fail to compile, e.g. "a..b"
//   - a segment is a wildcard only when it is exactly "*"; "a*b" is a
//     literal segment that happens to contain an asterisk
func CompilePattern(s string) (Pattern, error) {
	if s == "" {
		return Pattern{}, skerr.PatternEmptyError{}
	}
	segs := strings.Split(s, Separator)
	for _, seg := range segs {
		if seg == "" {
			return Pattern{}, skerr.PatternEmptyError{}
		}
	}
	return Pattern{raw: s, segments: segs}, nil
}

// MustCompilePattern is CompilePattern but panics on error; reserved for
// patterns built from literal strings known at compile time (the default
// "*" subscription, tests).
func MustCompilePattern(s string) Pattern {
	p, err := CompilePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern's original dotted form, used as its identity
// when subscriptions replace-on-duplicate (spec §4.D).
func (p Pattern) String() string { return p.raw }

// Matches reports whether path satisfies the pattern under the rules of
// spec §3:
//   - a trailing "*" matches any non-empty suffix of one-or-more segments
//   - a "*" in a non-terminal position matches exactly one segment
//   - the lone "*" matches any non-empty path
//   - otherwise segments must match literally, in order and in count
func (p Pattern) Matches(path Path) bool {
	pathSegs := path.Segments()
	if len(pathSegs) == 0 {
		return false
	}

	for i, ps := range p.segments {
		last := i == len(p.segments)-1
		if ps == Wildcard && last {
			// Trailing wildcard: matches the remainder, which must be
			// non-empty — there must be at least one more path segment
			// left here, including this one.
			return len(pathSegs) >= i+1
		}
		if i >= len(pathSegs) {
			// Pattern longer than path and no trailing wildcard reached.
			return false
		}
		if ps == Wildcard {
			continue // matches exactly this one segment
		}
		if ps != pathSegs[i] {
			return false
		}
	}

	// Every pattern segment consumed; path must be exactly as long.
	return len(pathSegs) == len(p.segments)
}

// MatchesString compiles-and-matches a raw path string; callers on the hot
// ingest path should prefer Matches with an already-parsed Path.
func (p Pattern) MatchesString(path string) bool {
	parsed, err := Parse(path)
	if err != nil {
		return false
	}
	return p.Matches(parsed)
}
