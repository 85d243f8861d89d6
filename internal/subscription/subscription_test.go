// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package subscription

import (
	"testing"
	"time"

	"github.com/signalk-go/signalk-server/internal/protocol"
	"github.com/signalk-go/signalk-server/internal/store"
)

const testSelfURN = "vessels.urn:mrn:signalk:uuid:test-vessel"

func strp(s string) *string { return &s }
func i64p(i int64) *int64   { return &i }

func TestNewDefaultModes(t *testing.T) {
	self := NewDefault(ModeSelf)
	if self.IsEmpty() {
		t.Error("ModeSelf subscription is empty, want non-empty")
	}
	if !self.matchesContext(testSelfURN) {
		t.Error("ModeSelf does not match self context")
	}
	// ModeSelf accepts any "vessels.urn:" context, so probe with a
	// context outside that prefix.
	if self.matchesContext("aircraft.urn:mrn:imo:mmsi:111111111") {
		t.Error("ModeSelf matches a non-self context")
	}

	all := NewDefault(ModeAll)
	if !all.matchesContext("anything") {
		t.Error("ModeAll does not match an arbitrary context")
	}

	none := NewDefault(ModeNone)
	if !none.IsEmpty() {
		t.Error("ModeNone subscription is not empty")
	}
}

func TestFilterDropsNonMatchingContext(t *testing.T) {
	s := NewDefault(ModeSelf)
	ctx := "aircraft.urn:mrn:imo:mmsi:111111111"
	d := protocol.Delta{
		Context: &ctx,
		Updates: []protocol.Update{{Values: []protocol.PathValue{{Path: "navigation.speedOverGround", Value: protocol.NewValue(1.0)}}}},
	}
	_, _, ok := s.Filter(d, testSelfURN)
	if ok {
		t.Error("Filter matched a non-self context under ModeSelf")
	}
}

func TestFilterSelectsMatchingPattern(t *testing.T) {
	s := &Subscription{}
	s.kind = contextSelf
	s.Apply(protocol.SubscribeRequest{Subscribe: []protocol.SubscribeEntry{{Path: "navigation.speedOverGround"}}})

	d := protocol.Delta{Updates: []protocol.Update{{Values: []protocol.PathValue{
		{Path: "navigation.speedOverGround", Value: protocol.NewValue(4.5)},
		{Path: "environment.wind.speedApparent", Value: protocol.NewValue(9.0)},
	}}}}

	filtered, matched, ok := s.Filter(d, testSelfURN)
	if !ok {
		t.Fatal("Filter returned ok=false, want true")
	}
	if len(filtered.Updates) != 1 || len(filtered.Updates[0].Values) != 1 {
		t.Fatalf("filtered = %+v", filtered)
	}
	if filtered.Updates[0].Values[0].Path != "navigation.speedOverGround" {
		t.Errorf("unexpected path forwarded: %q", filtered.Updates[0].Values[0].Path)
	}
	if len(matched) != 1 {
		t.Errorf("matched = %v, want one index", matched)
	}
}

func TestFilterEmptyResultAfterThrottle(t *testing.T) {
	s := &Subscription{kind: contextSelf}
	s.Apply(protocol.SubscribeRequest{Subscribe: []protocol.SubscribeEntry{
		{Path: "navigation.speedOverGround", MinPeriod: i64p(60000), Policy: strp("instant")},
	}})

	d := protocol.Delta{Updates: []protocol.Update{{Values: []protocol.PathValue{
		{Path: "navigation.speedOverGround", Value: protocol.NewValue(1.0)},
	}}}}

	// First send always succeeds (sent starts false).
	filtered, matched, ok := s.Filter(d, testSelfURN)
	if !ok {
		t.Fatal("first Filter returned ok=false")
	}
	s.MarkSent(matched, time.Now())

	// Immediately repeating: minPeriod has not elapsed, so Filter drops it.
	_, _, ok = s.Filter(d, testSelfURN)
	if ok {
		t.Error("second immediate Filter returned ok=true, want false (throttled)")
	}
	_ = filtered
}

func TestFilterDoesNotAdvanceThrottleUntilMarkSent(t *testing.T) {
	s := &Subscription{kind: contextSelf}
	s.Apply(protocol.SubscribeRequest{Subscribe: []protocol.SubscribeEntry{
		{Path: "navigation.speedOverGround", MinPeriod: i64p(60000), Policy: strp("instant")},
	}})
	d := protocol.Delta{Updates: []protocol.Update{{Values: []protocol.PathValue{
		{Path: "navigation.speedOverGround", Value: protocol.NewValue(1.0)},
	}}}}

	// Checking twice without MarkSent must agree both times (no consuming
	// side effect from Filter alone).
	_, _, ok1 := s.Filter(d, testSelfURN)
	_, _, ok2 := s.Filter(d, testSelfURN)
	if !ok1 || !ok2 {
		t.Errorf("Filter without MarkSent: ok1=%v ok2=%v, want both true", ok1, ok2)
	}
}

func TestApplySubscribeReplacesDuplicatePattern(t *testing.T) {
	s := &Subscription{kind: contextSelf}
	s.Apply(protocol.SubscribeRequest{Subscribe: []protocol.SubscribeEntry{
		{Path: "navigation.speedOverGround", MinPeriod: i64p(1000)},
	}})
	if len(s.patterns) != 1 || s.patterns[0].minPeriodMs != 1000 {
		t.Fatalf("patterns after first subscribe: %+v", s.patterns)
	}

	s.Apply(protocol.SubscribeRequest{Subscribe: []protocol.SubscribeEntry{
		{Path: "navigation.speedOverGround", MinPeriod: i64p(5000)},
	}})
	if len(s.patterns) != 1 || s.patterns[0].minPeriodMs != 5000 {
		t.Fatalf("duplicate pattern was not replaced: %+v", s.patterns)
	}
}

func TestApplyUnsubscribeWildcardClearsPatterns(t *testing.T) {
	s := NewDefault(ModeSelf)
	s.ApplyUnsubscribe(protocol.UnsubscribeRequest{Unsubscribe: []protocol.UnsubscribeEntry{{Path: "*"}}})
	if len(s.patterns) != 0 {
		t.Errorf("patterns = %v, want empty after wildcard unsubscribe", s.patterns)
	}
}

func TestApplyUnsubscribeWildcardContextSetsNone(t *testing.T) {
	s := NewDefault(ModeSelf)
	s.ApplyUnsubscribe(protocol.UnsubscribeRequest{Context: strp("*")})
	if s.kind != contextNone {
		t.Errorf("kind = %v, want contextNone", s.kind)
	}
}

func TestInitialStateDeltaSkipsValuesKey(t *testing.T) {
	st, err := store.New(testSelfURN)
	if err != nil {
		t.Fatalf("store.New returned error: %v", err)
	}
	st.ApplyDelta(protocol.Delta{Updates: []protocol.Update{{
		SourceRef: strp("nmea0183.GP"),
		Values:    []protocol.PathValue{{Path: "navigation.speedOverGround", Value: protocol.NewValue(4.5)}},
	}}})

	s := NewDefault(ModeSelf)
	d, ok := s.InitialStateDelta(st)
	if !ok {
		t.Fatal("InitialStateDelta returned ok=false, want true")
	}
	if len(d.Updates) != 1 || len(d.Updates[0].Values) != 1 {
		t.Fatalf("InitialStateDelta = %+v", d)
	}
	if d.Updates[0].Values[0].Path != "navigation.speedOverGround" {
		t.Errorf("unexpected path %q", d.Updates[0].Values[0].Path)
	}
}

func TestInitialStateDeltaPacksMultipleLeavesIntoOneUpdate(t *testing.T) {
	st, err := store.New(testSelfURN)
	if err != nil {
		t.Fatalf("store.New returned error: %v", err)
	}
	st.ApplyDelta(protocol.Delta{Updates: []protocol.Update{{
		SourceRef: strp("nmea0183.GP"),
		Timestamp: strp("2024-01-01T00:00:00Z"),
		Values:    []protocol.PathValue{{Path: "navigation.speedOverGround", Value: protocol.NewValue(4.5)}},
	}}})
	st.ApplyDelta(protocol.Delta{Updates: []protocol.Update{{
		SourceRef: strp("nmea0183.GP2"),
		Timestamp: strp("2024-01-01T00:00:05Z"),
		Values:    []protocol.PathValue{{Path: "navigation.courseOverGroundTrue", Value: protocol.NewValue(1.2)}},
	}}})

	s := NewDefault(ModeSelf)
	d, ok := s.InitialStateDelta(st)
	if !ok {
		t.Fatal("InitialStateDelta returned ok=false, want true")
	}
	// spec.md: the synthesized Delta carries the first encountered
	// $source/timestamp as Update-level fields, so every matching leaf must
	// be packed into a single Update rather than one Update per leaf. Leaves
	// are visited in lexical path order, so "courseOverGroundTrue" precedes
	// "speedOverGround" and its source/timestamp win.
	if len(d.Updates) != 1 {
		t.Fatalf("len(d.Updates) = %d, want 1: %+v", len(d.Updates), d)
	}
	upd := d.Updates[0]
	if len(upd.Values) != 2 {
		t.Fatalf("len(upd.Values) = %d, want 2: %+v", len(upd.Values), upd)
	}
	if upd.SourceRef == nil || *upd.SourceRef != "nmea0183.GP2" {
		t.Errorf("SourceRef = %v, want first-encountered source nmea0183.GP2", upd.SourceRef)
	}
	if upd.Timestamp == nil || *upd.Timestamp != "2024-01-01T00:00:05Z" {
		t.Errorf("Timestamp = %v, want first-encountered timestamp", upd.Timestamp)
	}
	paths := map[string]bool{}
	for _, pv := range upd.Values {
		paths[pv.Path] = true
	}
	if !paths["navigation.speedOverGround"] || !paths["navigation.courseOverGroundTrue"] {
		t.Errorf("unexpected paths in packed update: %+v", upd.Values)
	}
}

func TestInitialStateDeltaEmptyWhenNoSubscriptions(t *testing.T) {
	st, err := store.New(testSelfURN)
	if err != nil {
		t.Fatalf("store.New returned error: %v", err)
	}
	s := NewDefault(ModeNone)
	if _, ok := s.InitialStateDelta(st); ok {
		t.Error("InitialStateDelta returned ok=true for an empty subscription")
	}
}
