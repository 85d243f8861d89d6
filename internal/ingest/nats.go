// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest adapts external providers onto the broker's Ingest
// entrypoint. The NATS adapter here is a direct descendant of the
// teacher's pkg/nats/client.go: same connection-option set (reconnect/
// disconnect/error handlers, optional user/password or creds file), same
// single-client-owns-its-subscriptions shape, generalized from a
// singleton global client publishing arbitrary byte payloads to one that
// owns exactly one subscription and decodes each message as a Signal K
// delta before handing it to the broker.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/signalk-go/signalk-server/internal/broker"
	"github.com/signalk-go/signalk-server/internal/protocol"
	"github.com/signalk-go/signalk-server/pkg/log"
)

var logger = log.Named("ingest")

// NATSConfig mirrors the teacher's NatsConfig, renamed to this domain's
// single subject rather than a free-form pub/sub surface.
type NATSConfig struct {
	URL           string `json:"url"`
	Subject       string `json:"subject"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"credsFilePath,omitempty"`
}

// NATSProvider subscribes to one NATS subject and ingests every message on
// it as a Delta (spec §4.E "Inputs: ingest(delta) from providers").
type NATSProvider struct {
	cfg  NATSConfig
	conn *nats.Conn

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSProvider connects to the configured NATS server. Connection
// option wiring (reconnect/disconnect/error handlers, optional
// credentials) follows the teacher's NewClient.
func NewNATSProvider(cfg NATSConfig) (*NATSProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ingest: nats url is required")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("ingest: nats subject is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Errorf("%v", err)
		}),
	)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("ingest: nats connect: %w", err)
	}
	logger.Infof("connected to %s", cfg.URL)
	return &NATSProvider{cfg: cfg, conn: nc}, nil
}

// Run subscribes to the configured subject and ingests each message into
// b until ctx is cancelled. Malformed payloads are logged and skipped;
// ingest() itself applies back-pressure to this goroutine when the
// broker's ingress queue is full (spec §4.E).
func (p *NATSProvider) Run(ctx context.Context, b *broker.FanoutBroker) error {
	msgs := make(chan *nats.Msg, 64)

	p.mu.Lock()
	sub, err := p.conn.ChanSubscribe(p.cfg.Subject, msgs)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("ingest: subscribe %q: %w", p.cfg.Subject, err)
	}
	p.sub = sub
	p.mu.Unlock()
	logger.Infof("subscribed to %q", p.cfg.Subject)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			var d protocol.Delta
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				logger.Warnf("dropping malformed delta on %q: %v", msg.Subject, err)
				continue
			}
			if err := b.Ingest(ctx, d); err != nil {
				return nil
			}
		}
	}
}

// Close unsubscribes and closes the NATS connection (teacher's
// Client.Close, minus the multi-subscription bookkeeping this adapter
// doesn't need).
func (p *NATSProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		if err := p.sub.Unsubscribe(); err != nil {
			logger.Warnf("unsubscribe: %v", err)
		}
	}
	if p.conn != nil {
		p.conn.Close()
		logger.Infof("connection closed")
	}
}
