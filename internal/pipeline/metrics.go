// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_failed_total",
		Help: "Frames dropped by the pipeline, by the step and reason that dropped them.",
	}, []string{"error_type"})

	messagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messages_published_total",
		Help: "Records successfully published to the bus.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Current number of frames waiting in the pipeline's intake channel.",
	})

	workersStalled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_workers_stalled",
		Help: "Workers currently blocked retrying a publish against an open circuit breaker.",
	})
)
