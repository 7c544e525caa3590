// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwire/telemetry-gateway/internal/decoder"
	"github.com/fleetwire/telemetry-gateway/internal/frame"
	"github.com/fleetwire/telemetry-gateway/internal/ingesterr"
	"github.com/fleetwire/telemetry-gateway/internal/plugin"
	"github.com/fleetwire/telemetry-gateway/internal/record"
	"github.com/fleetwire/telemetry-gateway/internal/resilience"
)

type fakeDecoder struct {
	rec *record.Record
	err error
}

func (f fakeDecoder) Decode(ctx context.Context, data []byte, deviceID string) (*record.Record, error) {
	return f.rec, f.err
}

type fakePublisher struct {
	mu         sync.Mutex
	published  []*record.Record
	err        error
	circuitFor int // number of Publish calls that report an open circuit before succeeding
}

func (f *fakePublisher) Publish(ctx context.Context, r *record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.circuitFor > 0 {
		f.circuitFor--
		return &ingesterr.CircuitOpenError{Policy: "kafka"}
	}
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, r)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func noopPolicy() *resilience.Policy {
	return resilience.NewPolicy(resilience.Config{Name: "test", Retries: 1, Backoff: resilience.BackoffLinear, BackoffBase: time.Millisecond})
}

func registryWith(t *testing.T, d fakeDecoder) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(plugin.Descriptor{
		Name: "fake", Version: "1.0", Protocol: decoder.ProtocolNMEA,
		Matches: func([]byte) bool { return true },
		Decoder: d,
	}, nil))
	return r
}

func TestPipelinePublishesValidFrame(t *testing.T) {
	now := time.Now()
	rec := record.New("truck-1", 48.1, 11.5, now)
	reg := registryWith(t, fakeDecoder{rec: rec})
	pub := &fakePublisher{}

	p := New(Config{QueueCapacity: 4, Workers: 1}, reg, record.NewValidator(), pub, noopPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	pool := frame.NewPool(64)
	buf := pool.Get()
	f := pool.NewFrame(buf, 5, frame.Source{Transport: "tcp", DeviceID: "truck-1"})
	require.NoError(t, p.Enqueue(ctx, f))

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, time.Millisecond)
	p.Close()
}

func TestPipelineDropsWhenNoDecoderMatches(t *testing.T) {
	reg := plugin.NewRegistry() // empty: nothing ever matches
	pub := &fakePublisher{}

	p := New(Config{QueueCapacity: 4, Workers: 1}, reg, record.NewValidator(), pub, noopPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	pool := frame.NewPool(64)
	f := pool.NewFrame(pool.Get(), 5, frame.Source{Transport: "tcp"})
	require.NoError(t, p.Enqueue(ctx, f))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, pub.count())
	p.Close()
}

func TestPipelineDropsInvalidRecordWithoutPublishing(t *testing.T) {
	rec := record.New("", 0, 0, time.Now()) // empty device id + null island: fails validation
	reg := registryWith(t, fakeDecoder{rec: rec})
	pub := &fakePublisher{}

	p := New(Config{QueueCapacity: 4, Workers: 1}, reg, record.NewValidator(), pub, noopPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	f := frame.NewPool(64).NewFrame(make([]byte, 64), 5, frame.Source{})
	require.NoError(t, p.Enqueue(ctx, f))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, pub.count())
	p.Close()
}

func TestPipelineStallsOnOpenCircuitThenPublishesOnRecovery(t *testing.T) {
	now := time.Now()
	rec := record.New("truck-1", 48.1, 11.5, now)
	reg := registryWith(t, fakeDecoder{rec: rec})
	pub := &fakePublisher{circuitFor: 1}

	p := New(Config{QueueCapacity: 4, Workers: 1}, reg, record.NewValidator(), pub, noopPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	pool := frame.NewPool(64)
	f := pool.NewFrame(pool.Get(), 5, frame.Source{Transport: "tcp", DeviceID: "truck-1"})
	require.NoError(t, p.Enqueue(ctx, f))

	// The first Publish call reports an open circuit; the worker must
	// stall and retry rather than counting it as a dropped message.
	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	p.Close()
}

func TestPipelineWorkerUnstallsOnCancelWithoutPublishing(t *testing.T) {
	now := time.Now()
	rec := record.New("truck-1", 48.1, 11.5, now)
	reg := registryWith(t, fakeDecoder{rec: rec})
	pub := &fakePublisher{circuitFor: 1000} // circuit never recovers within the test

	p := New(Config{QueueCapacity: 4, Workers: 1, ShutdownDrain: time.Second}, reg, record.NewValidator(), pub, noopPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	pool := frame.NewPool(64)
	f := pool.NewFrame(pool.Get(), 5, frame.Source{Transport: "tcp", DeviceID: "truck-1"})
	require.NoError(t, p.Enqueue(ctx, f))

	time.Sleep(50 * time.Millisecond) // let the worker enter the stall loop
	cancel()

	p.Close() // must return promptly instead of hanging on the stalled worker
	assert.Equal(t, 0, pub.count())
}

func TestTryEnqueueDropsWhenQueueFull(t *testing.T) {
	reg := plugin.NewRegistry()
	pub := &fakePublisher{}
	p := New(Config{QueueCapacity: 1, Workers: 0}, reg, record.NewValidator(), pub, noopPolicy())

	pool := frame.NewPool(32)
	ok1 := p.TryEnqueue(pool.NewFrame(pool.Get(), 1, frame.Source{}))
	ok2 := p.TryEnqueue(pool.NewFrame(pool.Get(), 1, frame.Source{}))

	assert.True(t, ok1)
	assert.False(t, ok2, "second enqueue should drop once the single-slot queue is full")
}
