// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/signalk-go/signalk-server/internal/protocol"
	"github.com/signalk-go/signalk-server/internal/store"
)

const testSelfURN = "vessels.urn:mrn:signalk:uuid:test-vessel"

func newTestStore(t *testing.T) *store.StateStore {
	t.Helper()
	st, err := store.New(testSelfURN)
	if err != nil {
		t.Fatalf("store.New returned error: %v", err)
	}
	return st
}

func valueDelta(path string, v float64) protocol.Delta {
	return protocol.Delta{Updates: []protocol.Update{{Values: []protocol.PathValue{{Path: path, Value: protocol.NewValue(v)}}}}}
}

func TestIngestAppliesAndBroadcasts(t *testing.T) {
	st := newTestStore(t)
	b := New(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	defer b.Stop()

	sub := b.Subscribe()
	if err := b.Ingest(ctx, valueDelta("navigation.speedOverGround", 4.5)); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	select {
	case d := <-sub.Deltas():
		if len(d.Updates) != 1 {
			t.Errorf("delivered delta = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast delta")
	}

	if _, ok := st.GetSelfPath("navigation.speedOverGround"); !ok {
		t.Error("delta was not applied to the store")
	}
}

func TestApplyDropsEmptyUpdatesDelta(t *testing.T) {
	st := newTestStore(t)
	b := New(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	defer b.Stop()

	sub := b.Subscribe()
	if err := b.Ingest(ctx, protocol.Delta{}); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	// Follow with a real delta; if the empty one had been broadcast, it
	// would arrive first.
	if err := b.Ingest(ctx, valueDelta("navigation.speedOverGround", 1.0)); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	select {
	case d := <-sub.Deltas():
		if len(d.Updates) != 1 || len(d.Updates[0].Values) != 1 {
			t.Fatalf("expected the non-empty delta first, got %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast delta")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	st := newTestStore(t)
	b := New(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub.ID())

	select {
	case _, open := <-sub.Deltas():
		if open {
			t.Error("subscriber channel still open after Unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestDeliverOneDropsOldestWhenFull(t *testing.T) {
	st := newTestStore(t)
	b := New(st, 8)
	sub := &Subscriber{id: 1, ch: make(chan protocol.Delta, 1)}

	first := valueDelta("a.b", 1.0)
	second := valueDelta("a.b", 2.0)
	b.deliverOne(1, sub, first)
	b.deliverOne(1, sub, second)

	got := <-sub.ch
	if len(got.Updates[0].Values) == 0 || !got.Updates[0].Values[0].Value.Equal(second.Updates[0].Values[0].Value) {
		t.Fatalf("unexpected delivered delta: %+v", got)
	}
	// The oldest (first) delta must have been dropped in favor of second.
	select {
	case extra := <-sub.ch:
		t.Fatalf("unexpected extra buffered delta: %+v", extra)
	default:
	}
}

func TestStopDrainsIngressBeforeClosing(t *testing.T) {
	st := newTestStore(t)
	b := New(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	sub := b.Subscribe()
	if err := b.Ingest(context.Background(), valueDelta("navigation.speedOverGround", 1.0)); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	cancel()
	b.Stop()

	select {
	case d, open := <-sub.Deltas():
		if !open {
			t.Fatal("subscriber channel closed before the queued delta was drained")
		}
		if len(d.Updates) != 1 {
			t.Errorf("drained delta = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drained delta")
	}
}
