// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// session tracks the state of one accepted TCP connection. The device id is
// latched once, from the first frame the session produces, and never
// overwritten afterwards — a device does not change identity mid-stream.
type session struct {
	id           string
	remoteAddr   string
	registeredAt time.Time

	mu       sync.Mutex
	deviceID string
}

func newSession(remoteAddr string) *session {
	return &session{
		id:           uuid.NewString(),
		remoteAddr:   remoteAddr,
		registeredAt: time.Now(),
	}
}

// latchDeviceID records id as the session's device id if none has been set
// yet. Subsequent calls are no-ops.
func (s *session) latchDeviceID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceID == "" {
		s.deviceID = id
	}
}

func (s *session) deviceIDOrSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceID != "" {
		return s.deviceID
	}
	return s.id
}
