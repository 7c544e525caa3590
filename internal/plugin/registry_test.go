// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/fleetwire/telemetry-gateway/internal/decoder"
	"github.com/fleetwire/telemetry-gateway/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDecoder struct{ protocol string }

func (s stubDecoder) Decode(ctx context.Context, data []byte, deviceID string) (*record.Record, error) {
	return record.New(deviceID, 1, 1, time.Now()), nil
}

func descriptor(name string, proto decoder.Protocol, match func([]byte) bool) Descriptor {
	return Descriptor{Name: name, Version: "1.0", Protocol: proto, Matches: match, Decoder: stubDecoder{}}
}

func TestRegisterAndMatchForBytesHonorsRegistrationOrderTieBreak(t *testing.T) {
	r := NewRegistry()
	alwaysTrue := func([]byte) bool { return true }

	require.NoError(t, r.Register(descriptor("first", decoder.ProtocolNMEA, alwaysTrue), nil))
	require.NoError(t, r.Register(descriptor("second", decoder.ProtocolOther, alwaysTrue), nil))

	d, ok := r.MatchForBytes([]byte("$GPRMC,..."))
	require.True(t, ok)
	assert.Equal(t, "first", d.Name)
}

func TestRegisterIsolatesFailingInitHook(t *testing.T) {
	r := NewRegistry()
	desc := descriptor("broken", decoder.ProtocolNMEA, func([]byte) bool { return true })
	desc.Init = func(cfg map[string]any) error { return assert.AnError }

	err := r.Register(desc, nil)
	assert.Error(t, err)

	_, ok := r.GetByProtocol(decoder.ProtocolNMEA)
	assert.False(t, ok, "a plugin whose Init failed must not be registered")
}

func TestRegisterIsolatesPanickingInitHook(t *testing.T) {
	r := NewRegistry()
	desc := descriptor("panics", decoder.ProtocolTAIP, func([]byte) bool { return true })
	desc.Init = func(cfg map[string]any) error { panic("boom") }

	err := r.Register(desc, nil)
	assert.Error(t, err)
}

func TestMatchForBytesIsolatesPanickingPredicate(t *testing.T) {
	r := NewRegistry()
	panics := descriptor("panics", decoder.ProtocolNMEA, func([]byte) bool { panic("boom") })
	fallback := descriptor("fallback", decoder.ProtocolOther, func([]byte) bool { return true })

	require.NoError(t, r.Register(panics, nil))
	require.NoError(t, r.Register(fallback, nil))

	d, ok := r.MatchForBytes([]byte("anything"))
	require.True(t, ok)
	assert.Equal(t, "fallback", d.Name)
}

func TestShutdownRunsCleanupInReverseOrderAndIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	var order []string

	d1 := descriptor("one", decoder.ProtocolNMEA, func([]byte) bool { return true })
	d1.Cleanup = func() error { order = append(order, "one"); return nil }
	d2 := descriptor("two", decoder.ProtocolUBLOX, func([]byte) bool { return true })
	d2.Cleanup = func() error { order = append(order, "two"); panic("cleanup boom") }
	d3 := descriptor("three", decoder.ProtocolTAIP, func([]byte) bool { return true })
	d3.Cleanup = func() error { order = append(order, "three"); return nil }

	require.NoError(t, r.Register(d1, nil))
	require.NoError(t, r.Register(d2, nil))
	require.NoError(t, r.Register(d3, nil))

	r.Shutdown()
	assert.Equal(t, []string{"three", "two", "one"}, order)
}
