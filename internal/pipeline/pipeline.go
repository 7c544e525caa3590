// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipeline implements the Pipeline (spec.md §4.E): a bounded,
// back-pressured worker pool binding the Plugin Registry, the central
// Validator, and the Publisher together, modeled as a fixed set of
// goroutines draining one channel — the same worker-pool-over-a-channel
// shape the teacher uses for its background task supervision, generalized
// from a fixed task list to an unbounded frame stream.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/fleetwire/telemetry-gateway/internal/frame"
	"github.com/fleetwire/telemetry-gateway/internal/ingesterr"
	"github.com/fleetwire/telemetry-gateway/internal/plugin"
	"github.com/fleetwire/telemetry-gateway/internal/record"
	"github.com/fleetwire/telemetry-gateway/internal/resilience"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// Publisher is the slice of publish.Publisher the Pipeline depends on.
// Declaring it here (rather than importing the concrete type) lets tests
// substitute a fake bus without dialing a broker.
type Publisher interface {
	Publish(ctx context.Context, r *record.Record) error
}

// Config parameterizes a Pipeline.
type Config struct {
	// QueueCapacity bounds the intake channel; spec.md §4.E recommends
	// 4×MaxConcurrentConnections as a default.
	QueueCapacity int
	// Workers is the fixed worker-pool size (spec.md §5: "size ≈ CPU
	// count, configurable").
	Workers int
	// ShutdownDrain bounds how long Close waits for in-flight frames to
	// finish before giving up on the remainder.
	ShutdownDrain time.Duration
}

// Pipeline binds Registry → Decoder → Validator → Publisher.
type Pipeline struct {
	cfg        Config
	registry   *plugin.Registry
	validator  *record.Validator
	publisher  Publisher
	processing *resilience.Policy

	queue chan *frame.Frame
	wg    sync.WaitGroup

	done chan struct{}
}

// New builds a Pipeline. Start must be called before frames are enqueued.
func New(cfg Config, registry *plugin.Registry, validator *record.Validator, publisher Publisher, processing *resilience.Policy) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Pipeline{
		cfg:        cfg,
		registry:   registry,
		validator:  validator,
		publisher:  publisher,
		processing: processing,
		queue:      make(chan *frame.Frame, cfg.QueueCapacity),
		done:       make(chan struct{}),
	}
}

// Start launches the fixed worker pool. Call once.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Enqueue blocks on channel back-pressure (spec.md §5's suspension point)
// until the frame is accepted or ctx is cancelled. It is not safe once
// Close has run: Close closes the intake channel, and a send on it panics.
func (p *Pipeline) Enqueue(ctx context.Context, f *frame.Frame) error {
	queueDepth.Set(float64(len(p.queue)))
	select {
	case p.queue <- f:
		return nil
	case <-ctx.Done():
		f.Release()
		return ingesterr.ErrOperationCancelled
	case <-p.done:
		f.Release()
		return ingesterr.ErrOperationCancelled
	}
}

// TryEnqueue attempts a non-blocking send, for callers (the UDP endpoint)
// that cannot exert back-pressure on their source and must drop instead of
// block. Returns false if the queue was full. Like Enqueue, it panics if
// called after Close has closed the intake channel.
func (p *Pipeline) TryEnqueue(f *frame.Frame) bool {
	select {
	case p.queue <- f:
		queueDepth.Set(float64(len(p.queue)))
		return true
	default:
		f.Release()
		return false
	}
}

// Close stops accepting new frames, signals workers to drain, and waits up
// to cfg.ShutdownDrain for the queue to empty (spec.md §4.E / §5 shutdown
// sequence, step 4).
func (p *Pipeline) Close() {
	close(p.done)
	close(p.queue)

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	deadline := p.cfg.ShutdownDrain
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	select {
	case <-drained:
	case <-time.After(deadline):
		cclog.Errorf("pipeline: shutdown drain deadline (%s) exceeded, abandoning remaining workers", deadline)
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for f := range p.queue {
		p.process(ctx, f)
	}
}

// process implements the seven-step workflow of spec.md §4.E.
func (p *Pipeline) process(ctx context.Context, f *frame.Frame) {
	defer f.Release() // step 7, always attempted even on early-exit drops

	queueDepth.Set(float64(len(p.queue)))

	desc, ok := p.registry.MatchForBytes(f.Data)
	if !ok {
		messagesFailed.WithLabelValues("no_decoder").Inc()
		cclog.Warnf("pipeline: no decoder matched frame from %s", f.Source.RemoteAddr)
		return
	}

	deviceID := f.Source.DeviceID

	// Decode and validation failures are deterministic: the same bytes will
	// fail the same way every time, so they're marked permanent and bypass
	// the policy's retry/backoff — only a genuinely transient processing
	// error pays the retry cost.
	var rec *record.Record
	err := p.processing.Run(ctx, func(ctx context.Context) error {
		var decodeErr error
		rec, decodeErr = desc.Decoder.Decode(ctx, f.Data, deviceID)
		if decodeErr != nil {
			return backoff.Permanent(decodeErr)
		}

		if rec.Timestamp.IsZero() {
			rec.Timestamp = f.Arrived.UTC()
		}

		if desc.Validate != nil {
			if verr := desc.Validate.Validate(rec); verr != nil {
				return backoff.Permanent(&ingesterr.ValidationError{Reasons: []string{verr.Error()}})
			}
		}
		result := p.validator.Validate(rec)
		if !result.Valid {
			return backoff.Permanent(&ingesterr.ValidationError{Reasons: result.Errors})
		}
		return nil
	})

	if err != nil {
		p.countProcessingFailure(err)
		return
	}

	rec.ExtendedData[record.KeyProtocol] = string(desc.Protocol)
	rec.ExtendedData[record.KeyProcessedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	rec.ExtendedData[record.KeyProcessingID] = uuid.NewString()
	rec.ExtendedData[record.KeyDataSize] = len(f.Data)

	p.publishWithBackpressure(ctx, rec, deviceID)
}

// circuitRecheckInterval paces a stalled worker's retries against an open
// breaker.
const circuitRecheckInterval = 500 * time.Millisecond

// publishWithBackpressure implements spec.md §4.D's distinction between a
// dropped record and an open breaker: the latter is back-pressure, so the
// worker blocks here instead of counting a failure and returning to drain
// the next frame. With every worker sharing the same Kafka policy, an open
// breaker stalls the whole pool, which backs up the intake channel and
// from there the Connection Layer, exactly as spec.md §8 scenario 5
// describes.
func (p *Pipeline) publishWithBackpressure(ctx context.Context, rec *record.Record, deviceID string) {
	stalled := false
	defer func() {
		if stalled {
			workersStalled.Dec()
		}
	}()

	for {
		err := p.publisher.Publish(ctx, rec)
		if err == nil {
			messagesPublished.Inc()
			return
		}

		var circuitErr *ingesterr.CircuitOpenError
		if errors.As(err, &circuitErr) {
			if !stalled {
				stalled = true
				workersStalled.Inc()
				cclog.Warnf("pipeline: policy %s circuit open, stalling worker for device %s until it recovers", circuitErr.Policy, deviceID)
			}
			select {
			case <-time.After(circuitRecheckInterval):
				continue
			case <-ctx.Done():
				messagesFailed.WithLabelValues("publish").Inc()
				return
			}
		}

		messagesFailed.WithLabelValues("publish").Inc()
		cclog.Warnf("pipeline: publish failed for device %s: %v", deviceID, err)
		return
	}
}

func (p *Pipeline) countProcessingFailure(err error) {
	var decErr *ingesterr.DecodeError
	var valErr *ingesterr.ValidationError
	switch {
	case errors.As(err, &decErr):
		messagesFailed.WithLabelValues("decode").Inc()
		cclog.Warnf("pipeline: decode failed: %v", err)
	case errors.As(err, &valErr):
		messagesFailed.WithLabelValues("validation").Inc()
		cclog.Warnf("pipeline: validation failed: %v", err)
	default:
		messagesFailed.WithLabelValues("decode").Inc()
		cclog.Warnf("pipeline: processing failed: %v", err)
	}
}
