// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalk-go/signalk-server/internal/broker"
	"github.com/signalk-go/signalk-server/internal/protocol"
	"github.com/signalk-go/signalk-server/internal/store"
	"github.com/signalk-go/signalk-server/internal/subscription"
)

const testSelfURN = "vessels.urn:mrn:signalk:uuid:test-vessel"

var errClosed = errors.New("fake transport closed")

// fakeTransport is a Transport test double: Receive replays a scripted
// sequence of frames, then blocks until closed.
type fakeTransport struct {
	inbound chan []byte
	sent    chan protocol.ServerMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 8),
		sent:    make(chan protocol.ServerMessage, 32),
	}
}

func (f *fakeTransport) Send(m protocol.ServerMessage) error {
	f.sent <- m
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	frame, ok := <-f.inbound
	if !ok {
		return nil, errClosed
	}
	return frame, nil
}

func (f *fakeTransport) close() { close(f.inbound) }

func newTestStore(t *testing.T) *store.StateStore {
	t.Helper()
	st, err := store.New(testSelfURN)
	if err != nil {
		t.Fatalf("store.New returned error: %v", err)
	}
	return st
}

func recvWithin(t *testing.T, ch <-chan protocol.ServerMessage, d time.Duration) protocol.ServerMessage {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(d):
		t.Fatal("timed out waiting for a server message")
	}
	return protocol.ServerMessage{}
}

func TestSessionEmitsHelloFirst(t *testing.T) {
	st := newTestStore(t)
	b := broker.New(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer func() { cancel(); b.Stop() }()

	ft := newFakeTransport()
	opts := DefaultOptions()
	opts.SendCachedValues = false
	sess := New(ft, st, b, opts)

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	msg := recvWithin(t, ft.sent, time.Second)
	if msg.Kind != protocol.ServerMessageHello {
		t.Fatalf("first message kind = %v, want Hello", msg.Kind)
	}
	if msg.Hello.Self != testSelfURN {
		t.Errorf("hello.Self = %q, want %q", msg.Hello.Self, testSelfURN)
	}

	ft.close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session.Run did not return after transport closed")
	}
}

func TestSessionReplaysInitialState(t *testing.T) {
	st := newTestStore(t)
	st.ApplyDelta(protocol.Delta{Updates: []protocol.Update{{Values: []protocol.PathValue{
		{Path: "navigation.speedOverGround", Value: protocol.NewValue(4.5)},
	}}}})
	b := broker.New(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer func() { cancel(); b.Stop() }()

	ft := newFakeTransport()
	sess := New(ft, st, b, DefaultOptions())

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	hello := recvWithin(t, ft.sent, time.Second)
	if hello.Kind != protocol.ServerMessageHello {
		t.Fatalf("first message kind = %v, want Hello", hello.Kind)
	}
	initial := recvWithin(t, ft.sent, time.Second)
	if initial.Kind != protocol.ServerMessageDelta {
		t.Fatalf("second message kind = %v, want Delta", initial.Kind)
	}
	if len(initial.Delta.Updates) != 1 {
		t.Fatalf("initial delta = %+v", initial.Delta)
	}

	ft.close()
	<-done
}

func TestSessionPutAlwaysFails(t *testing.T) {
	st := newTestStore(t)
	b := broker.New(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer func() { cancel(); b.Stop() }()

	ft := newFakeTransport()
	opts := DefaultOptions()
	opts.SendCachedValues = false
	sess := New(ft, st, b, opts)

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	recvWithin(t, ft.sent, time.Second) // Hello

	ft.inbound <- []byte(`{"requestId":"r1","put":{"path":"steering.autopilot.target.headingTrue","value":1.2}}`)

	resp := recvWithin(t, ft.sent, time.Second)
	if resp.Kind != protocol.ServerMessagePutResponse {
		t.Fatalf("kind = %v, want PutResponse", resp.Kind)
	}
	if resp.PutResponse.State != protocol.PutFailed || resp.PutResponse.StatusCode != 501 {
		t.Errorf("PutResponse = %+v, want FAILED/501", resp.PutResponse)
	}
	if resp.PutResponse.RequestID != "r1" {
		t.Errorf("RequestID = %q, want r1", resp.PutResponse.RequestID)
	}

	ft.close()
	<-done
}

func TestSessionMalformedFrameIgnored(t *testing.T) {
	st := newTestStore(t)
	b := broker.New(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer func() { cancel(); b.Stop() }()

	ft := newFakeTransport()
	opts := DefaultOptions()
	opts.SendCachedValues = false
	sess := New(ft, st, b, opts)

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	recvWithin(t, ft.sent, time.Second) // Hello

	ft.inbound <- []byte(`not json at all`)

	// The session must still be alive and able to process a subsequent
	// well-formed message.
	ft.inbound <- []byte(`{"context":"*","subscribe":[{"path":"*"}]}`)

	ft.close()
	select {
	case err := <-done:
		// Run ends only when the transport closes, returning its error.
		if !errors.Is(err, errClosed) {
			t.Errorf("Run returned error %v, want %v", err, errClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("session.Run did not return after transport closed")
	}
}

func TestSessionForwardsMatchingDeltas(t *testing.T) {
	st := newTestStore(t)
	b := broker.New(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer func() { cancel(); b.Stop() }()

	ft := newFakeTransport()
	opts := DefaultOptions()
	opts.SendCachedValues = false
	opts.Mode = subscription.ModeSelf
	sess := New(ft, st, b, opts)

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	recvWithin(t, ft.sent, time.Second) // Hello

	if err := b.Ingest(ctx, protocol.Delta{Updates: []protocol.Update{{Values: []protocol.PathValue{
		{Path: "navigation.speedOverGround", Value: protocol.NewValue(5.0)},
	}}}}); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	delta := recvWithin(t, ft.sent, time.Second)
	if delta.Kind != protocol.ServerMessageDelta {
		t.Fatalf("kind = %v, want Delta", delta.Kind)
	}

	ft.close()
	<-done
}
