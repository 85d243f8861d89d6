// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalk-go/signalk-server/internal/store"
	"github.com/signalk-go/signalk-server/pkg/log"
)

var logger = log.Named("telemetry")

var activePaths = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "signalk",
	Subsystem: "store",
	Name:      "active_paths",
	Help:      "Distinct leaf paths currently held under vessels (spec invariant I3).",
})

func init() {
	prometheus.MustRegister(activePaths)
}

// StatsCollector periodically samples the state store and republishes its
// size as a gauge, the supplemented feature original_source runs as a
// background task reporting counters for observability rather than
// correctness (spec §9 SUPPLEMENTED FEATURES). The periodic-job mechanism
// itself follows the teacher's internal/taskManager, which schedules every
// one of its background jobs (retention, compression, footprint, duration
// updates) on a github.com/go-co-op/gocron/v2 Scheduler rather than a bare
// time.Ticker.
type StatsCollector struct {
	store    *store.StateStore
	interval time.Duration
}

// NewStatsCollector constructs a collector sampling st every interval.
// interval <= 0 defaults to 10s.
func NewStatsCollector(st *store.StateStore, interval time.Duration) *StatsCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StatsCollector{store: st, interval: interval}
}

// Run registers a gocron DurationJob that samples the store and blocks
// until ctx is cancelled, then shuts the scheduler down.
func (c *StatsCollector) Run(ctx context.Context) {
	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Errorf("could not create scheduler: %v", err)
		return
	}

	_, err = s.NewJob(
		gocron.DurationJob(c.interval),
		gocron.NewTask(func() {
			n := c.store.PathCount()
			activePaths.Set(float64(n))
			logger.Debugf("active_paths=%d", n)
		}),
	)
	if err != nil {
		logger.Errorf("could not register stats job: %v", err)
		return
	}

	s.Start()
	<-ctx.Done()
	if err := s.Shutdown(); err != nil {
		logger.Warnf("scheduler shutdown: %v", err)
	}
}
