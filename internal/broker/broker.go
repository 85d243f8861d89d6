// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker implements the FanoutBroker (spec §4.E): a single
// ingest task that applies deltas to the StateStore and fans them out to
// per-subscriber bounded buffers with drop-oldest back-pressure. Its
// ingest-queue/worker/per-consumer-channel shape is grounded on the
// teacher's pkg/nats/client.go, which drains a NATS subscription on one
// goroutine and republishes parsed points to the metric store; here the
// "publish" side is a registry of subscriber channels instead of a
// single store writer.
package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalk-go/signalk-server/internal/protocol"
	"github.com/signalk-go/signalk-server/internal/skerr"
	"github.com/signalk-go/signalk-server/internal/store"
	"github.com/signalk-go/signalk-server/internal/telemetry"
	"github.com/signalk-go/signalk-server/pkg/log"
)

var logger = log.Named("broker")

// DefaultIngressCapacity is the recommended minimum ingress queue depth
// (spec §4.E).
const DefaultIngressCapacity = 1024

// DefaultSubscriberCapacity bounds each subscriber's receive buffer.
const DefaultSubscriberCapacity = 256

var (
	ingressDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signalk",
		Subsystem: "broker",
		Name:      "ingress_queue_depth",
		Help:      "Number of deltas currently queued for the ingest task.",
	})
	subscriberCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signalk",
		Subsystem: "broker",
		Name:      "subscribers",
		Help:      "Number of currently registered subscribers.",
	})
	subscriberLagged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signalk",
		Subsystem: "broker",
		Name:      "subscriber_lagged_total",
		Help:      "Number of times a subscriber's buffer overflowed and the oldest delta was dropped.",
	})
	subscriberGone = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signalk",
		Subsystem: "broker",
		Name:      "subscriber_gone_total",
		Help:      "Number of subscribers deregistered because their send side closed.",
	})
	deltasApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signalk",
		Subsystem: "broker",
		Name:      "deltas_applied_total",
		Help:      "Number of deltas applied to the state store by the ingest task.",
	})
)

func init() {
	prometheus.MustRegister(ingressDepth, subscriberCount, subscriberLagged, subscriberGone, deltasApplied)
}

// Subscriber is one session's registered fan-out slot.
type Subscriber struct {
	id uint64
	ch chan protocol.Delta
}

// ID identifies the subscriber for logging/metrics.
func (s *Subscriber) ID() uint64 { return s.id }

// Deltas is the channel a session reads applied deltas from, in the
// global apply order (spec §4.E "Ordering guarantees").
func (s *Subscriber) Deltas() <-chan protocol.Delta { return s.ch }

// FanoutBroker is the single logical broker per process (spec §4.E).
type FanoutBroker struct {
	store *store.StateStore

	ingress chan protocol.Delta

	mu          sync.Mutex
	subscribers map[uint64]*Subscriber
	nextID      uint64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a broker over st with the given ingress queue capacity.
// capacity <= 0 falls back to DefaultIngressCapacity.
func New(st *store.StateStore, capacity int) *FanoutBroker {
	if capacity <= 0 {
		capacity = DefaultIngressCapacity
	}
	return &FanoutBroker{
		store:       st,
		ingress:     make(chan protocol.Delta, capacity),
		subscribers: make(map[uint64]*Subscriber),
	}
}

// Run starts the single ingest task. It blocks until ctx is cancelled or
// Stop is called, draining the ingress queue before returning (spec §5
// "Cancellation": cancelling the broker drains the ingress queue, then
// closes all subscriber channels).
func (b *FanoutBroker) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.wg.Add(1)
	defer b.wg.Done()

	for {
		select {
		case d, ok := <-b.ingress:
			if !ok {
				b.closeAll()
				return
			}
			ingressDepth.Set(float64(len(b.ingress)))
			b.apply(d)
		case <-ctx.Done():
			b.drainAndClose()
			return
		}
	}
}

func (b *FanoutBroker) drainAndClose() {
	for {
		select {
		case d, ok := <-b.ingress:
			if !ok {
				b.closeAll()
				return
			}
			b.apply(d)
		default:
			b.closeAll()
			return
		}
	}
}

func (b *FanoutBroker) apply(d protocol.Delta) {
	if len(d.Updates) == 0 {
		// spec §9 open question, resolved: drop empty-updates deltas here.
		return
	}
	_, span := telemetry.StartApplySpan(context.Background(), len(d.Updates))
	b.store.ApplyDelta(d)
	span.End()
	deltasApplied.Inc()
	b.broadcast(d)
}

// Ingest enqueues a delta from a provider or internal generator. It
// blocks when the ingress queue is full, applying back-pressure to the
// caller rather than dropping (spec §4.E). At-least-once redelivery of
// the same delta is safe: applying it twice just rewrites the same
// StoredValue (spec §4.E).
func (b *FanoutBroker) Ingest(ctx context.Context, d protocol.Delta) error {
	select {
	case b.ingress <- d:
		ingressDepth.Set(float64(len(b.ingress)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a new subscriber and returns its receive handle.
func (b *FanoutBroker) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := atomic.AddUint64(&b.nextID, 1)
	sub := &Subscriber{id: id, ch: make(chan protocol.Delta, DefaultSubscriberCapacity)}
	b.subscribers[id] = sub
	subscriberCount.Set(float64(len(b.subscribers)))
	return sub
}

// Unsubscribe deregisters a subscriber and closes its channel (spec §5
// "Cancellation": releases the subscriber slot).
func (b *FanoutBroker) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
	subscriberCount.Set(float64(len(b.subscribers)))
}

// broadcast delivers d to every subscriber, applying the drop-oldest
// back-pressure policy (spec §4.E) for any subscriber whose buffer is
// full.
func (b *FanoutBroker) broadcast(d protocol.Delta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		b.deliverOne(id, sub, d)
	}
}

func (b *FanoutBroker) deliverOne(id uint64, sub *Subscriber, d protocol.Delta) {
	select {
	case sub.ch <- d:
		return
	default:
	}

	// Buffer full: drop the oldest buffered delta, then retry once.
	select {
	case <-sub.ch:
		logger.Warnf("%v", skerr.SubscriberLaggedError{Dropped: 1})
		subscriberLagged.Inc()
	default:
	}
	select {
	case sub.ch <- d:
	default:
		// The buffer refilled between the drop and the retry (another
		// apply interleaved); give up on this delta for this subscriber
		// rather than block the whole broadcast loop.
		logger.Warnf("%v", skerr.SubscriberLaggedError{Dropped: 1})
		subscriberLagged.Inc()
	}
}

// closeAll deregisters every subscriber and closes its channel.
func (b *FanoutBroker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
		logger.Infof("%v", skerr.SubscriberGoneError{ID: id})
		subscriberGone.Inc()
	}
	subscriberCount.Set(0)
}

// Stop cancels the ingest task and waits for it to return.
func (b *FanoutBroker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}
