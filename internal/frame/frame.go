// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package frame defines the raw unit of work handed from the Connection
// Layer to the Pipeline: a byte slice plus where and when it arrived.
package frame

import "time"

// Source identifies where a Frame came from.
type Source struct {
	Transport  string // "tcp" or "udp"
	RemoteAddr string
	SessionID  string // empty for UDP, which has no session concept
	DeviceID   string // inferred by the Connection Layer, may be ""
}

// Frame is the smallest unit the Pipeline operates on. Data is borrowed
// from a pool (see Pool) and must be released via Release once the
// Pipeline's publish step (or an early-exit path) is done with it.
type Frame struct {
	Data     []byte
	Arrived  time.Time
	Source   Source
	pool     *Pool
	original []byte // full pooled buffer, Data may be a sub-slice of it
}

// Release returns the Frame's backing buffer to its pool. It clears the
// Frame's pool reference, so any later call on the same Frame is a no-op
// and the slab is never returned twice.
func (f *Frame) Release() {
	if f.pool == nil {
		return
	}
	f.pool.put(f.original)
	f.pool = nil
	f.Data = nil
	f.original = nil
}
