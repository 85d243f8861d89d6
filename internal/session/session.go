// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session implements CoreSession (spec §4.F): the per-connection
// state machine that emits Hello, replays initial state, dispatches
// Subscribe/Unsubscribe/Put, and forwards broker deltas through a
// session's own Subscription filter. It is transport-agnostic: a
// transport (WebSocket, a test harness, …) supplies an io-free Transport
// implementation and drives Run.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/signalk-go/signalk-server/internal/broker"
	"github.com/signalk-go/signalk-server/internal/protocol"
	"github.com/signalk-go/signalk-server/internal/skerr"
	"github.com/signalk-go/signalk-server/internal/store"
	"github.com/signalk-go/signalk-server/internal/subscription"
	"github.com/signalk-go/signalk-server/pkg/log"
)

var logger = log.Named("session")

// State is CoreSession's lifecycle state (spec §4.F).
type State int

const (
	Opening State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the minimal send/receive surface CoreSession needs; a
// WebSocket handler or a test fixture implements it.
type Transport interface {
	Send(protocol.ServerMessage) error
	// Receive blocks for the next client frame, or returns an error once
	// the underlying connection closes.
	Receive() ([]byte, error)
}

// Options configures a session's startup behavior (spec §6 "Connection
// parameters", carried by the transport rather than the JSON wire format).
type Options struct {
	Mode             subscription.Mode
	SendCachedValues bool
	ServerName       string
	ServerVersion    string
}

// DefaultOptions matches the spec's connection-parameter defaults.
func DefaultOptions() Options {
	return Options{Mode: subscription.ModeSelf, SendCachedValues: true, ServerName: "signalk-server", ServerVersion: protocol.SpecVersion}
}

// CoreSession is one client connection's server-side state.
type CoreSession struct {
	transport Transport
	store     *store.StateStore
	broker    *broker.FanoutBroker
	opts      Options

	state            State
	sub              *subscription.Subscription
	subID            uint64
	brokerSubscriber *broker.Subscriber
}

// New constructs a session in the Opening state.
func New(t Transport, st *store.StateStore, b *broker.FanoutBroker, opts Options) *CoreSession {
	return &CoreSession{transport: t, store: st, broker: b, opts: opts, state: Opening}
}

// Run drives the session to completion: Hello, optional initial-state
// delta, subscriber registration, then alternately dispatching inbound
// client messages and forwarding outbound broker deltas until the
// transport closes or ctx is cancelled. It always leaves the session in
// Closed and releases its broker subscription before returning (spec §4.F,
// §5 "Cancellation").
func (s *CoreSession) Run(ctx context.Context) error {
	if err := s.open(); err != nil {
		s.state = Closed
		return err
	}
	defer s.close()

	inbound := make(chan []byte)
	inboundErr := make(chan error, 1)
	go s.readLoop(inbound, inboundErr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-inboundErr:
			return err
		case frame := <-inbound:
			s.dispatch(frame)
		case delta, ok := <-s.brokerSubscriber.Deltas():
			if !ok {
				return nil
			}
			s.forward(delta)
		}
	}
}

func (s *CoreSession) readLoop(out chan<- []byte, errs chan<- error) {
	for {
		frame, err := s.transport.Receive()
		if err != nil {
			errs <- err
			return
		}
		out <- frame
	}
}

// open implements the Opening→Open transition (spec §4.F): emit Hello;
// if default-send-cached is on and the subscription is non-empty, emit
// the initial-state delta; register with the broker. Outbound bytes are
// emitted in exactly this order (spec §5), never interleaved with a live
// delta, because subscriber registration happens only after both sends.
func (s *CoreSession) open() error {
	s.sub = subscription.NewDefault(s.opts.Mode)

	hello := protocol.Hello{
		Name:      s.opts.ServerName,
		Version:   s.opts.ServerVersion,
		Self:      s.store.SelfURN(),
		Roles:     []string{"main"},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.transport.Send(protocol.NewHelloMessage(hello)); err != nil {
		return err
	}

	if s.opts.SendCachedValues && !s.sub.IsEmpty() {
		if initial, ok := s.sub.InitialStateDelta(s.store); ok {
			if err := s.transport.Send(protocol.NewDeltaMessage(initial)); err != nil {
				return err
			}
		}
	}

	s.brokerSubscriber = s.broker.Subscribe()
	s.subID = s.brokerSubscriber.ID()
	s.state = Open
	return nil
}

// dispatch handles one inbound client frame (spec §4.F transitions).
// Malformed JSON is logged and ignored; the session stays open.
func (s *CoreSession) dispatch(frame []byte) {
	msg, err := protocol.ParseClientMessage(frame)
	if err != nil {
		logger.Warnf("session: %v", err)
		return
	}

	switch msg.Kind {
	case protocol.ClientMessageSubscribe:
		s.sub.Apply(*msg.Subscribe)
	case protocol.ClientMessageUnsubscribe:
		s.sub.ApplyUnsubscribe(*msg.Unsubscribe)
	case protocol.ClientMessagePut:
		s.handlePut(*msg.Put)
	}
}

// handlePut always answers FAILED/501 (spec §4.F, skerr.PutNotImplemented):
// PUT is defined so transports can surface requests uniformly, but no
// core component acts on it.
func (s *CoreSession) handlePut(req protocol.PutRequest) {
	logger.Infof("put %s: %v", req.RequestID, skerr.PutNotImplementedError{})
	resp := protocol.PutResponse{
		RequestID:  req.RequestID,
		State:      protocol.PutFailed,
		StatusCode: 501,
		Message:    skerr.PutNotImplementedError{}.Error(),
	}
	if err := s.transport.Send(protocol.NewPutResponseMessage(resp)); err != nil {
		logger.Warnf("put %s: send failed: %v", req.RequestID, err)
	}
}

// forward filters an applied delta through the session's Subscription and
// sends it if anything survives (spec §4.D Filter, §9 "drop empty
// deltas").
func (s *CoreSession) forward(d protocol.Delta) {
	filtered, matched, ok := s.sub.Filter(d, s.store.SelfURN())
	if !ok {
		return
	}
	if err := s.transport.Send(protocol.NewDeltaMessage(filtered)); err != nil {
		logger.Warnf("session: send failed: %v", err)
		return
	}
	s.sub.MarkSent(matched, time.Now())
}

// close implements the →Closed transition: deregister from the broker
// and release the subscription (spec §5 "Cancellation").
func (s *CoreSession) close() {
	s.state = Closing
	s.broker.Unsubscribe(s.subID)
	s.sub = nil
	s.state = Closed
}

// NewRequestID generates a PUT request id when a transport needs one on
// a client's behalf (spec §6 PutRequest.requestId).
func NewRequestID() string { return uuid.NewString() }
