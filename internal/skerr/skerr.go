// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package skerr defines the core's error kinds (spec §7). None of these
// unwind through the ingest task or a session's dispatch loop; every call
// site that can produce one logs it via pkg/log and continues.
package skerr

import "fmt"

// PatternEmptyError is returned by skpath.CompilePattern for the empty
// string. The offending Subscribe entry is dropped; the rest still apply.
type PatternEmptyError struct{}

func (PatternEmptyError) Error() string { return "pattern: empty pattern string" }

// PathSegmentEmptyError is returned when a path contains an empty segment
// (leading/trailing/doubled separator). The offending PathValue is skipped;
// the rest of the delta is still applied.
type PathSegmentEmptyError struct {
	Path string
}

func (e PathSegmentEmptyError) Error() string {
	return fmt.Sprintf("path: empty segment in %q", e.Path)
}

// MalformedMessageError wraps a ClientMessage that could not be classified
// as Subscribe, Unsubscribe, or Put by field presence.
type MalformedMessageError struct {
	Reason string
}

func (e MalformedMessageError) Error() string {
	return "protocol: malformed client message: " + e.Reason
}

// SubscriberLaggedError records that N buffered deltas were dropped for a
// slow subscriber. The subscriber itself is retained.
type SubscriberLaggedError struct {
	Dropped int
}

func (e SubscriberLaggedError) Error() string {
	return fmt.Sprintf("broker: subscriber lagged, dropped %d delta(s)", e.Dropped)
}

// SubscriberGoneError records that a subscriber's send side is closed and
// it has been deregistered from the broker.
type SubscriberGoneError struct {
	ID uint64
}

func (e SubscriberGoneError) Error() string {
	return fmt.Sprintf("broker: subscriber %d gone, deregistered", e.ID)
}

// PutNotImplementedError is the fixed reason code for every PutResponse
// this core emits: PUT is defined so transports can surface the request
// shape uniformly, but no core component acts on it.
type PutNotImplementedError struct{}

func (PutNotImplementedError) Error() string { return "put: not implemented by core" }
