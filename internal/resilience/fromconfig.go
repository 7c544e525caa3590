// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resilience

import (
	"time"

	"github.com/fleetwire/telemetry-gateway/internal/config"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// FromConfig turns one of the three named sections of
// internal/config.ResilienceConfig into a runnable Policy, parsing its
// duration strings and falling back to zero (meaning "disabled" for
// timeouts/breakers) on a malformed value rather than crashing a running
// process over a typo'd duration string.
func FromConfig(name string, c config.PolicyConfig) *Policy {
	parse := func(s string) time.Duration {
		if s == "" {
			return 0
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			cclog.Warnf("resilience: policy %s: malformed duration %q, treating as 0", name, s)
			return 0
		}
		return d
	}

	strategy := BackoffExponential
	if c.BackoffStrategy == string(BackoffLinear) {
		strategy = BackoffLinear
	}

	return NewPolicy(Config{
		Name:                 name,
		Retries:              c.Retries,
		Backoff:              strategy,
		BackoffBase:          parse(c.BackoffBase),
		BackoffCap:           parse(c.BackoffCap),
		Timeout:              parse(c.Timeout),
		BreakerFailureRatio:  c.BreakerFailureRatio,
		BreakerWindow:        parse(c.BreakerWindow),
		BreakerMinThroughput: c.BreakerMinThroughput,
		BreakerOpenDuration:  parse(c.BreakerOpenDuration),
	})
}
