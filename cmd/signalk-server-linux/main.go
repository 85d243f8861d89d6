// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/signalk-go/signalk-server/internal/broker"
	"github.com/signalk-go/signalk-server/internal/config"
	"github.com/signalk-go/signalk-server/internal/ingest"
	"github.com/signalk-go/signalk-server/internal/restapi"
	"github.com/signalk-go/signalk-server/internal/runtimeenv"
	"github.com/signalk-go/signalk-server/internal/store"
	"github.com/signalk-go/signalk-server/internal/telemetry"
	"github.com/signalk-go/signalk-server/pkg/log"
)

func main() {
	var flagConfigFile string
	var flagGops, flagStopImmediately bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the global config options by those specified in `config.json`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagStopImmediately, "no-server", false, "Load and validate configuration, then exit without starting a server")
	flag.Parse()

	// See https://github.com/google/gops (runtime overhead is almost zero).
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLogLevel(cfg.LogLevel)
	log.SetLogDateTime(cfg.LogDate)

	if cfg.GopsAgent && !flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if flagStopImmediately {
		return
	}

	st, err := store.New(cfg.SelfURN)
	if err != nil {
		log.Fatal(err)
	}

	b := broker.New(st, cfg.IngressQueueCapacity)

	shutdownTracing, err := telemetry.InitTracing(cfg.ServerName, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	brokerCtx, cancelBroker := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(brokerCtx)
	}()

	stats := telemetry.NewStatsCollector(st, 10*time.Second)
	wg.Add(1)
	go func() {
		defer wg.Done()
		stats.Run(brokerCtx)
	}()

	var provider *ingest.NATSProvider
	if cfg.NATS != nil {
		provider, err = ingest.NewNATSProvider(ingest.NATSConfig{URL: cfg.NATS.URL, Subject: cfg.NATS.Subject})
		if err != nil {
			log.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := provider.Run(brokerCtx, b); err != nil {
				log.Errorf("nats provider stopped: %s", err.Error())
			}
		}()
	}

	rest := restapi.New(st, cfg.ServerName, hostFromAddr(cfg.Addr), portFromAddr(cfg.Addr))
	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      rest.Handler(),
		Addr:         cfg.Addr,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatal(err)
	}

	// The listener is bound before dropping privileges so the process can
	// still claim a privileged port (teacher's cmd/cc-backend/main.go).
	if err := runtimeenv.DropPrivileges(cfg.User, cfg.Group); err != nil {
		log.Fatalf("error while changing user: %s", err.Error())
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("REST/discovery listening at %s...", cfg.Addr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeenv.SystemdNotify(false, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("server shutdown: %s", err.Error())
		}

		if provider != nil {
			provider.Close()
		}
		b.Stop()
		cancelBroker()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warnf("tracing shutdown: %s", err.Error())
		}
	}()

	runtimeenv.SystemdNotify(true, "running")
	wg.Wait()
	log.Print("Graceful shutdown completed!")
}

func hostFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

func portFromAddr(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 3000
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 3000
	}
	return port
}
