// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetwire/telemetry-gateway/internal/ingesterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRetriesUntilSuccess(t *testing.T) {
	p := NewPolicy(Config{Name: "test", Retries: 5, Backoff: BackoffLinear, BackoffBase: time.Millisecond})

	attempts := 0
	err := p.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	p := NewPolicy(Config{Name: "test", Retries: 2, Backoff: BackoffLinear, BackoffBase: time.Millisecond})

	attempts := 0
	err := p.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("persistent")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // one initial try + 2 retries
}

func TestRunRespectsCancellation(t *testing.T) {
	p := NewPolicy(Config{Name: "test", Retries: 5, Backoff: BackoffExponential, BackoffBase: 50 * time.Millisecond, BackoffCap: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, func(ctx context.Context) error {
		t.Fatal("operation should never run against an already-cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, ingesterr.ErrOperationCancelled)
}

func TestRunOpensBreakerAfterFailureRatioExceeded(t *testing.T) {
	p := NewPolicy(Config{
		Name: "kafka", Retries: 0, Backoff: BackoffLinear, BackoffBase: time.Millisecond,
		BreakerFailureRatio: 0.5, BreakerWindow: time.Minute, BreakerMinThroughput: 2, BreakerOpenDuration: time.Minute,
	})

	fail := func(ctx context.Context) error { return errors.New("broker down") }
	_ = p.Run(context.Background(), fail)
	_ = p.Run(context.Background(), fail)

	var circuitErr *ingesterr.CircuitOpenError
	err := p.Run(context.Background(), fail)
	require.ErrorAs(t, err, &circuitErr)
	assert.Equal(t, "kafka", circuitErr.Policy)
}
