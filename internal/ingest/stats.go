// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest implements the Connection Layer (spec.md §4.F): the TCP
// and UDP front doors that turn wire bytes into frames for the Pipeline.
package ingest

import (
	"sync/atomic"
	"time"
)

// Stats accumulates the Connection Layer's lifetime counters. Every field is
// read independently and recomputed on each Snapshot call; nothing is
// cached, so a snapshot always reflects the instant it was taken.
type Stats struct {
	startedAt     time.Time
	activeTCP     atomic.Int64
	udpActive     atomic.Bool
	totalMessages atomic.Int64
}

// NewStats starts the uptime clock immediately.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now()}
}

// Snapshot is a point-in-time read of the Connection Layer's health.
type Snapshot struct {
	ActiveTCPSessions     int64   `json:"activeTcpSessions"`
	UDPActive             bool    `json:"udpActive"`
	TotalMessagesReceived int64   `json:"totalMessagesReceived"`
	MessagesPerSecond     float64 `json:"messagesPerSecond"`
	UptimeSeconds         float64 `json:"uptimeSeconds"`
}

func (s *Stats) sessionOpened() { s.activeTCP.Add(1) }
func (s *Stats) sessionClosed() { s.activeTCP.Add(-1) }
func (s *Stats) messageReceived() { s.totalMessages.Add(1) }
func (s *Stats) setUDPActive(active bool) { s.udpActive.Store(active) }

// Snapshot computes messages-per-second over the server's entire lifetime,
// not a sliding window; spec.md §4.F does not call for decay.
func (s *Stats) Snapshot() Snapshot {
	uptime := time.Since(s.startedAt).Seconds()
	total := s.totalMessages.Load()
	var mps float64
	if uptime > 0 {
		mps = float64(total) / uptime
	}
	return Snapshot{
		ActiveTCPSessions:     s.activeTCP.Load(),
		UDPActive:             s.udpActive.Load(),
		TotalMessagesReceived: total,
		MessagesPerSecond:     mps,
		UptimeSeconds:         uptime,
	}
}
