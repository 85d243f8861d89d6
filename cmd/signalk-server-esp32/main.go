// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command signalk-server-esp32 is the constrained-host bootstrap (spec
// §5 "Constrained host"): a single cooperative event loop driving the
// same StateStore/FanoutBroker pair the full-runtime build uses, without
// gops, NATS, OpenTelemetry tracing, or the REST listener — none of
// which fit an ~200KB-RAM target. Built with GOOS=linux/GOARCH=arm or
// similar via TinyGo; this file only exercises the subset of the core
// that a constrained host can host directly, same as the teacher's
// separate cmd/ binaries share internal/ packages rather than branching
// on build tags inside one binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalk-go/signalk-server/internal/broker"
	"github.com/signalk-go/signalk-server/internal/store"
	"github.com/signalk-go/signalk-server/pkg/log"
)

func main() {
	log.SetLogDateTime(true) // no syslog-aware supervisor on a bare serial console

	selfURN := os.Getenv("SIGNALK_SELF_URN")
	if selfURN == "" {
		selfURN = "vessels.self"
	}

	st, err := store.New(selfURN)
	if err != nil {
		log.Fatal(err)
	}

	// A constrained host runs the ingest task as the one background
	// worker thread (spec §5: "a dedicated worker thread with a stack of
	// at least 16 KB"); sessions themselves are short, non-blocking
	// callbacks driven by whatever cooperative scheduler hosts this
	// binary, wired in by the board-specific transport, not here.
	b := broker.New(st, broker.DefaultIngressCapacity)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	go b.Run(ctx)

	<-ctx.Done()
	b.Stop()
	time.Sleep(10 * time.Millisecond) // let the last log line flush
}
