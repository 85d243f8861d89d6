// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package subscription implements the per-session Subscription (spec
// §4.D): context matching, an ordered list of throttled path patterns,
// delta filtering, and initial-state replay. One Subscription belongs to
// exactly one session and is never shared (spec §5).
package subscription

import (
	"time"

	"github.com/signalk-go/signalk-server/internal/protocol"
	"github.com/signalk-go/signalk-server/internal/skpath"
	"github.com/signalk-go/signalk-server/internal/store"
	"github.com/signalk-go/signalk-server/pkg/log"
)

var logger = log.Named("subscription")

// contextKind discriminates a Subscription's resolved context, mirroring
// the Rust reference's `None | Some("*") | Some("vessels.self") | explicit`.
type contextKind int

const (
	contextNone contextKind = iota
	contextAll
	contextSelf
	contextExplicit
)

// Mode selects the default subscription installed at session start
// (spec §4.D).
type Mode string

const (
	ModeSelf Mode = "self"
	ModeAll  Mode = "all"
	ModeNone Mode = "none"
)

// ThrottledPattern pairs a compiled path pattern with its throttle state.
// Filter may check shouldSend several times against the same pattern
// within one delta (several PathValues under one wildcard) before
// MarkSent is ever called, and each of those checks must agree; a
// consuming limiter (golang.org/x/time/rate, wired instead into
// internal/restapi's request throttling) doesn't admit that kind of
// repeated non-committing peek, so the floor here is the plain duration
// comparison the reference material itself specifies.
type ThrottledPattern struct {
	raw         string
	pattern     skpath.Pattern
	periodMs    int64
	minPeriodMs int64
	lastSent    time.Time
	sent        bool
}

func newThrottledPattern(entry protocol.SubscribeEntry, pattern skpath.Pattern) *ThrottledPattern {
	tp := &ThrottledPattern{raw: entry.Path, pattern: pattern}
	if entry.Period != nil {
		tp.periodMs = *entry.Period
	}
	if entry.MinPeriod != nil {
		tp.minPeriodMs = *entry.MinPeriod
	}
	warnIfInconsistent(entry)
	return tp
}

// warnIfInconsistent implements spec §4.D's consistency warnings: the
// numeric setting wins, the policy mismatch is only ever logged.
func warnIfInconsistent(entry protocol.SubscribeEntry) {
	policy := ""
	if entry.Policy != nil {
		policy = *entry.Policy
	}
	minPeriod := entry.MinPeriod != nil && *entry.MinPeriod != 0
	period := entry.Period != nil && *entry.Period != 0
	if minPeriod && policy != "instant" {
		logger.Warnf("subscribe %q: non-zero minPeriod with policy %q, expected \"instant\"; minPeriod wins", entry.Path, policy)
	}
	if period && entry.MinPeriod == nil && policy != "fixed" {
		logger.Warnf("subscribe %q: non-zero period without minPeriod and policy %q, expected \"fixed\"; period wins", entry.Path, policy)
	}
}

// shouldSend implements spec §4.D step 2.
func (tp *ThrottledPattern) shouldSend(now time.Time) bool {
	if tp.minPeriodMs == 0 || !tp.sent {
		return true
	}
	return now.Sub(tp.lastSent) >= time.Duration(tp.minPeriodMs)*time.Millisecond
}

// markSent is called only after a successful transmission (spec §4.D's
// throttling contract: last_sent advances on success, never on attempt).
func (tp *ThrottledPattern) markSent(now time.Time) {
	tp.sent = true
	tp.lastSent = now
}

// Subscription is one session's live filter state.
type Subscription struct {
	kind        contextKind
	explicit    string // only meaningful when kind == contextExplicit
	patterns    []*ThrottledPattern
	includeMeta bool
}

// NewDefault builds the subscription a CoreSession installs at Open
// (spec §4.D); includeMeta resolves the spec's open question ("do meta
// updates participate in subscription filtering?") in the recommended
// direction: yes, under the same pattern and throttle rules as values.
func NewDefault(mode Mode) *Subscription {
	s := &Subscription{includeMeta: true}
	switch mode {
	case ModeAll:
		s.kind = contextAll
		s.patterns = []*ThrottledPattern{newThrottledPattern(protocol.SubscribeEntry{Path: skpath.Wildcard}, skpath.MustCompilePattern(skpath.Wildcard))}
	case ModeNone:
		s.kind = contextNone
	case ModeSelf, "":
		fallthrough
	default:
		s.kind = contextSelf
		s.patterns = []*ThrottledPattern{newThrottledPattern(protocol.SubscribeEntry{Path: skpath.Wildcard}, skpath.MustCompilePattern(skpath.Wildcard))}
	}
	return s
}

// IsEmpty reports whether the subscription currently has no context or no
// patterns, in which case no delta can ever match it.
func (s *Subscription) IsEmpty() bool {
	return s.kind == contextNone || len(s.patterns) == 0
}

// matchesContext implements spec §4.D's context-matching table.
func (s *Subscription) matchesContext(deltaContext string) bool {
	switch s.kind {
	case contextNone:
		return false
	case contextAll:
		return true
	case contextSelf:
		return deltaContext == protocol.SelfContext || hasVesselURNPrefix(deltaContext)
	case contextExplicit:
		return deltaContext == s.explicit
	default:
		return false
	}
}

func hasVesselURNPrefix(context string) bool {
	const prefix = "vessels.urn:"
	return len(context) >= len(prefix) && context[:len(prefix)] == prefix
}

// Apply implements the Subscribe mutation rules (spec §4.D): context is
// replaced wholesale; patterns whose string matches an incoming one are
// replaced (throttle state reset); the rest are retained.
func (s *Subscription) Apply(req protocol.SubscribeRequest) {
	s.setContext(req.Context)

	incoming := make(map[string]*ThrottledPattern, len(req.Subscribe))
	order := make([]string, 0, len(req.Subscribe))
	for _, entry := range req.Subscribe {
		pattern, err := skpath.CompilePattern(entry.Path)
		if err != nil {
			logger.Warnf("subscribe: dropping entry: %v", err)
			continue
		}
		incoming[entry.Path] = newThrottledPattern(entry, pattern)
		order = append(order, entry.Path)
	}

	retained := make([]*ThrottledPattern, 0, len(s.patterns))
	for _, existing := range s.patterns {
		if _, replaced := incoming[existing.raw]; !replaced {
			retained = append(retained, existing)
		}
	}

	fresh := make([]*ThrottledPattern, 0, len(order))
	for _, raw := range order {
		fresh = append(fresh, incoming[raw])
	}
	s.patterns = append(retained, fresh...)
}

func (s *Subscription) setContext(context *string) {
	if context == nil {
		return
	}
	switch *context {
	case protocol.AllContext:
		s.kind = contextAll
	case protocol.SelfContext:
		s.kind = contextSelf
	case "":
		s.kind = contextNone
	default:
		s.kind = contextExplicit
		s.explicit = *context
	}
}

// ApplyUnsubscribe implements the Unsubscribe mutation rules (spec §4.D).
func (s *Subscription) ApplyUnsubscribe(req protocol.UnsubscribeRequest) {
	if req.Context != nil {
		if *req.Context == protocol.AllContext {
			s.kind = contextNone
			s.explicit = ""
		} else {
			s.setContext(req.Context)
		}
	}

	for _, entry := range req.Unsubscribe {
		if entry.Path == skpath.Wildcard {
			s.patterns = nil
			continue
		}
		kept := s.patterns[:0]
		for _, p := range s.patterns {
			if p.raw != entry.Path {
				kept = append(kept, p)
			}
		}
		s.patterns = kept
	}
}

// Filter implements spec §4.D's delta-filtering algorithm. It returns the
// matched-pattern indices alongside the filtered delta; the caller must
// pass them to MarkSent only after confirming the delta was actually
// transmitted (spec §4.D's throttling contract). ok is false when the
// context does not match or nothing in the delta was selected by any
// pattern's throttle — the caller (CoreSession) must not forward an
// empty delta. (Deltas that arrive with no updates at all never get this
// far: the broker drops them before apply.)
func (s *Subscription) Filter(d protocol.Delta, selfURN string) (filtered protocol.Delta, matched []int, ok bool) {
	resolved := d.ResolvedContext(selfURN)
	if !s.matchesContext(resolved) {
		return protocol.Delta{}, nil, false
	}

	now := time.Now()
	var matchedIdx []int
	outUpdates := make([]protocol.Update, 0, len(d.Updates))

	for _, upd := range d.Updates {
		var chosenValues []protocol.PathValue
		for _, pv := range upd.Values {
			idx, ok := s.firstSendablePattern(pv.Path, now)
			if !ok {
				continue
			}
			chosenValues = append(chosenValues, pv)
			matchedIdx = append(matchedIdx, idx)
		}

		var chosenMeta []protocol.PathMeta
		if s.includeMeta {
			for _, pm := range upd.Meta {
				idx, ok := s.firstSendablePattern(pm.Path, now)
				if !ok {
					continue
				}
				chosenMeta = append(chosenMeta, pm)
				matchedIdx = append(matchedIdx, idx)
			}
		}

		if len(chosenValues) == 0 && len(chosenMeta) == 0 {
			continue
		}
		outUpdates = append(outUpdates, protocol.Update{
			SourceRef: upd.SourceRef,
			Source:    upd.Source,
			Timestamp: upd.Timestamp,
			Values:    chosenValues,
			Meta:      chosenMeta,
		})
	}

	if len(outUpdates) == 0 {
		return protocol.Delta{}, nil, false
	}
	return protocol.Delta{Context: d.Context, Updates: outUpdates}, matchedIdx, true
}

// firstSendablePattern finds the first pattern (in subscribe order) that
// matches path and currently passes its throttle.
func (s *Subscription) firstSendablePattern(path string, now time.Time) (int, bool) {
	p, err := skpath.Parse(path)
	if err != nil {
		return 0, false
	}
	for i, tp := range s.patterns {
		if tp.pattern.Matches(p) && tp.shouldSend(now) {
			return i, true
		}
	}
	return 0, false
}

// MarkSent advances last_sent for every pattern index Filter reported as
// matched, and only after the caller has confirmed the delta was actually
// transmitted (spec §4.D's throttling contract).
func (s *Subscription) MarkSent(indices []int, now time.Time) {
	for _, i := range indices {
		if i >= 0 && i < len(s.patterns) {
			s.patterns[i].markSent(now)
		}
	}
}

// InitialStateDelta synthesizes the replay delta for session start (spec
// §4.D "Initial-state replay"): every leaf under the self vessel whose
// relative path matches a current pattern, packed into a single Delta
// with context "vessels.self" and a single Update, whose $source and
// timestamp are those of the first matching leaf encountered (spec.md:
// "carries the first encountered $source/timestamp as Update-level
// fields"); values omitted.
func (s *Subscription) InitialStateDelta(st *store.StateStore) (protocol.Delta, bool) {
	if s.IsEmpty() {
		return protocol.Delta{}, false
	}
	now := time.Now()
	upd := protocol.Update{}
	st.WalkSelfLeaves(func(relPath, sourceRef, timestamp string, value protocol.Value) {
		p, err := skpath.Parse(relPath)
		if err != nil {
			return
		}
		if _, ok := s.firstSendablePattern(p.String(), now); !ok {
			return
		}
		if upd.SourceRef == nil && upd.Timestamp == nil && len(upd.Values) == 0 {
			if sourceRef != "" {
				ref := sourceRef
				upd.SourceRef = &ref
			}
			if timestamp != "" {
				ts := timestamp
				upd.Timestamp = &ts
			}
		}
		upd.Values = append(upd.Values, protocol.PathValue{Path: relPath, Value: value})
	})
	if len(upd.Values) == 0 {
		return protocol.Delta{}, false
	}
	ctx := protocol.SelfContext
	return protocol.Delta{Context: &ctx, Updates: []protocol.Update{upd}}, true
}
