// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resilience implements the Resilience Core (spec.md §4.G): three
// independently configured retry/backoff/circuit-breaker policies shared
// by the Publisher and the Connection Layer's reconnect paths.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/fleetwire/telemetry-gateway/internal/ingesterr"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// BackoffStrategy selects the retry delay curve.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear       BackoffStrategy = "linear"
)

// Config parameterizes one named policy; it's the in-memory form of
// internal/config.PolicyConfig once its duration strings are parsed.
type Config struct {
	Name    string
	Retries int
	Backoff BackoffStrategy
	BackoffBase,
	BackoffCap time.Duration
	// Timeout is a wall-clock bound on the whole Run call, including every
	// retry; zero means unbounded (the "—" row in spec.md §4.G's table).
	Timeout time.Duration

	// Breaker* are zero-valued to mean "no breaker" (the message
	// processing policy has none).
	BreakerFailureRatio float64
	BreakerWindow       time.Duration
	BreakerMinThroughput uint32
	BreakerOpenDuration  time.Duration
}

func (c Config) hasBreaker() bool { return c.BreakerMinThroughput > 0 || c.BreakerFailureRatio > 0 }

// Policy wraps an operation with retry, backoff, a wall-clock timeout, and
// (optionally) a circuit breaker. A cancelled context surfaces as
// ingesterr.ErrOperationCancelled regardless of the operation's own error,
// per spec.md §4.G.
type Policy struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
}

// NewPolicy builds a Policy from cfg. The breaker is disabled only when both
// BreakerMinThroughput and BreakerFailureRatio are zero (see Config.hasBreaker).
func NewPolicy(cfg Config) *Policy {
	p := &Policy{cfg: cfg}
	if cfg.hasBreaker() {
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1,
			Interval:    cfg.BreakerWindow,
			Timeout:     cfg.BreakerOpenDuration,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.BreakerMinThroughput {
					return false
				}
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.BreakerFailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				cclog.Warnf("resilience: policy %s breaker %s -> %s", name, from, to)
			},
		})
	}
	return p
}

// Run executes op, retrying on error per cfg's backoff strategy, gated by
// the circuit breaker (if configured) and bounded by cfg.Timeout.
func (p *Policy) Run(ctx context.Context, op func(ctx context.Context) error) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	attempt := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ingesterr.ErrOperationCancelled)
		}
		return op(ctx)
	}

	if p.breaker == nil {
		return p.retrying(ctx, attempt)
	}

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.retrying(ctx, attempt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ingesterr.CircuitOpenError{Policy: p.cfg.Name}
	}
	return err
}

// retrying drives the configured number of attempts through
// cenkalti/backoff, translating backoff's "give up" into the last
// observed error.
func (p *Policy) retrying(ctx context.Context, attempt func() error) error {
	var b backoff.BackOff = p.backoffCurve()
	if p.cfg.Retries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(p.cfg.Retries))
	}
	b = backoff.WithContext(b, ctx)

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = attempt()
		return lastErr
	}, b)
	if err != nil {
		if errors.Is(err, ingesterr.ErrOperationCancelled) || ctx.Err() != nil {
			return ingesterr.ErrOperationCancelled
		}
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func (p *Policy) backoffCurve() backoff.BackOff {
	switch p.cfg.Backoff {
	case BackoffLinear:
		return &linearBackOff{step: p.cfg.BackoffBase, cap: p.cfg.BackoffCap}
	default:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.cfg.BackoffBase
		eb.MaxInterval = p.cfg.BackoffCap
		eb.MaxElapsedTime = 0 // bounded by Retries / the outer context timeout instead
		return eb
	}
}

// linearBackOff implements backoff.BackOff with a constant step, capped —
// cenkalti/backoff/v4 only ships exponential and constant curves; the
// Resilience Core's "linear" policy needs a fixed, non-jittered delay.
type linearBackOff struct {
	step time.Duration
	cap  time.Duration
}

func (l *linearBackOff) NextBackOff() time.Duration {
	if l.cap > 0 && l.step > l.cap {
		return l.cap
	}
	return l.step
}

func (l *linearBackOff) Reset() {}
