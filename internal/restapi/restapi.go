// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package restapi is the thin REST wrapper over the StateStore (spec
// §6): discovery document, full_model(), and a path peek. Routing and
// middleware stacking is grounded directly on the teacher's
// cmd/cc-backend/main.go: a gorilla/mux router, gorilla/handlers for
// compression/recovery/CORS/logging, wrapped here with one addition the
// teacher doesn't need — a golang.org/x/time/rate limiter per remote
// address, since this REST surface is a polling path a misbehaving
// client can hammer in a tight loop in a way the teacher's
// session-cookie-gated dashboard never sees.
package restapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/signalk-go/signalk-server/internal/protocol"
	"github.com/signalk-go/signalk-server/internal/store"
	"github.com/signalk-go/signalk-server/pkg/log"
)

var logger = log.Named("restapi")

// Server is the HTTP handler for the discovery document and the REST API.
type Server struct {
	store      *store.StateStore
	serverName string
	host       string
	port       int
	limiter    *addressLimiter
}

// New builds the REST surface. host/port are only used to render the
// discovery document's URLs, not to bind the listener (the caller owns
// http.Server / net.Listen, following the teacher's main.go). serverName
// is reported in the discovery document's "name" field (spec §6).
func New(st *store.StateStore, serverName, host string, port int) *Server {
	return &Server{store: st, serverName: serverName, host: host, port: port, limiter: newAddressLimiter(rate.Limit(20), 40)}
}

// Handler assembles the full middleware-wrapped mux.Router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/signalk", s.handleDiscovery).Methods(http.MethodGet)
	r.HandleFunc("/signalk/v1/api", s.handleFullModel).Methods(http.MethodGet)
	r.PathPrefix("/signalk/v1/api/").HandlerFunc(s.handlePath).Methods(http.MethodGet)

	r.Use(s.limiter.middleware)
	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedOrigins([]string{"*"}),
	))

	return handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		logger.Infof("%s %s (%d, %dms)", params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, time.Since(params.TimeStamp).Milliseconds())
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.NewDiscovery(s.serverName, s.host, s.port))
}

func (s *Server) handleFullModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.FullModel())
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/signalk/v1/api/")
	rel = strings.Trim(rel, "/")
	dotted := strings.ReplaceAll(rel, "/", ".")

	v, ok := s.store.GetPath(dotted)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("restapi: encode response: %v", err)
	}
}

// addressLimiter holds one rate.Limiter per remote address, evicting
// nothing (bounded in practice by the number of distinct peers a small
// onboard server actually sees).
type addressLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newAddressLimiter(r rate.Limit, burst int) *addressLimiter {
	return &addressLimiter{limiters: make(map[string]*rate.Limiter), rate: r, burst: burst}
}

func (a *addressLimiter) get(addr string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[addr]
	if !ok {
		l = rate.NewLimiter(a.rate, a.burst)
		a.limiters[addr] = l
	}
	return l
}

func (a *addressLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.RemoteAddr
		if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
			host = host[:idx]
		}
		if !a.get(host).Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
