// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetwire/telemetry-gateway/internal/config"
	"github.com/fleetwire/telemetry-gateway/internal/ingest"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// healthChecker is the slice of publish.Publisher the admin shell depends
// on, kept as an interface so server_test.go can substitute a fake without
// dialing a broker.
type healthChecker interface {
	Health() bool
}

// adminServer is the thin HTTP shell spec.md §6 calls "out of core": it
// only reads a stats snapshot and a health predicate, it owns none of the
// domain logic itself.
type adminServer struct {
	cfg    config.MonitoringConfig
	stats  *ingest.Stats
	health healthChecker
	srv    *http.Server
}

func newAdminServer(cfg config.MonitoringConfig, stats *ingest.Stats, health healthChecker) *adminServer {
	a := &adminServer{cfg: cfg, stats: stats, health: health}

	r := mux.NewRouter()
	r.HandleFunc("/", a.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	a.srv = &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return a
}

func (a *adminServer) Serve() {
	cclog.Infof("admin: listening on %s", a.cfg.MetricsAddr)
	if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		cclog.Errorf("admin: server: %s", err)
	}
}

func (a *adminServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		cclog.Errorf("admin: shutdown: %s", err)
	}
}

func (a *adminServer) handleIndex(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{
		"service": a.cfg.ServiceName,
		"version": version,
	})
}

func (a *adminServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if !a.health.Health() {
		rw.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(rw).Encode(map[string]string{"status": "degraded"})
		return
	}
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

func (a *adminServer) handleStats(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(a.stats.Snapshot())
}
