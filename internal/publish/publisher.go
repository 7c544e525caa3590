// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package publish implements the Publisher (spec.md §4.D): a
// sarama-backed synchronous Kafka producer with device-partitioned keys,
// idempotence, and Resilience Core-gated retries.
package publish

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"github.com/fleetwire/telemetry-gateway/internal/config"
	"github.com/fleetwire/telemetry-gateway/internal/ingesterr"
	"github.com/fleetwire/telemetry-gateway/internal/record"
	"github.com/fleetwire/telemetry-gateway/internal/resilience"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// SchemaVersion is attached to every published message's headers.
const SchemaVersion = "1.0"

var ErrPublisherClosed = errors.New("publisher: closed")

// Publisher accepts validated records, derives topic/partition key,
// serializes to JSON, and emits via sarama under the Kafka resilience
// policy.
type Publisher struct {
	cfg      config.KafkaConfig
	producer sarama.SyncProducer
	policy   *resilience.Policy

	closed     atomic.Bool
	fatal      atomic.Bool
	inFlight   atomic.Int64
}

// New dials the configured brokers and returns a ready Publisher.
func New(cfg config.KafkaConfig, policy *resilience.Policy) (*Publisher, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = acksFromString(cfg.Acks)
	sc.Producer.Idempotent = cfg.EnableIdempotence
	if cfg.EnableIdempotence {
		sc.Net.MaxOpenRequests = 1
	}
	sc.Producer.Compression = compressionFromString(cfg.Compression)
	if cfg.BatchSize > 0 {
		sc.Producer.Flush.MaxMessages = cfg.BatchSize
	}
	if cfg.BatchTimeout != "" {
		if d, err := time.ParseDuration(cfg.BatchTimeout); err == nil {
			sc.Producer.Flush.Frequency = d
		}
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("publish: connect to brokers %v: %w", cfg.Brokers, err)
	}

	return &Publisher{cfg: cfg, producer: producer, policy: policy}, nil
}

func acksFromString(s string) sarama.RequiredAcks {
	switch s {
	case "none":
		return sarama.NoResponse
	case "leader":
		return sarama.WaitForLocal
	default:
		return sarama.WaitForAll
	}
}

func compressionFromString(s string) sarama.CompressionCodec {
	switch s {
	case "gzip":
		return sarama.CompressionGZIP
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	case "none":
		return sarama.CompressionNone
	default:
		return sarama.CompressionSnappy
	}
}

// partitionKey implements spec.md §6's "<device-id>_<|hash(device-id)| mod
// partition-count>" scheme.
func partitionKey(deviceID string, partitionCount int) string {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	idx := int(h.Sum32()) % partitionCount
	if idx < 0 {
		idx = -idx
	}
	return fmt.Sprintf("%s_%d", deviceID, idx)
}

// Publish derives the topic and partition key, serializes r, and sends it
// under the Kafka resilience policy. On success it stamps r's
// KafkaPartition/KafkaOffset extended-data keys.
func (p *Publisher) Publish(ctx context.Context, r *record.Record) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	protocol := r.Protocol()
	topic := fmt.Sprintf("%s.%s", p.cfg.TopicPrefix, lower(protocol))
	key := partitionKey(r.DeviceID, p.cfg.PartitionCount)

	payload, err := r.MarshalJSON()
	if err != nil {
		return fmt.Errorf("publish: marshal record: %w", err)
	}

	qualityScore := 0
	if v, ok := r.ExtendedData[record.KeyQualityScore]; ok {
		if n, ok := v.(int); ok {
			qualityScore = n
		}
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("device_id"), Value: []byte(r.DeviceID)},
			{Key: []byte("schema_version"), Value: []byte(SchemaVersion)},
			{Key: []byte("content_type"), Value: []byte("application/json")},
			{Key: []byte("producer"), Value: []byte(p.cfg.ClientID)},
			{Key: []byte("protocol"), Value: []byte(protocol)},
			{Key: []byte("quality_score"), Value: []byte(fmt.Sprintf("%d", qualityScore))},
		},
	}

	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	err = p.policy.Run(ctx, func(ctx context.Context) error {
		partition, offset, sendErr := p.producer.SendMessage(msg)
		if sendErr != nil {
			if isFatalBrokerError(sendErr) {
				p.fatal.Store(true)
				return backoff.Permanent(sendErr)
			}
			return sendErr
		}
		r.ExtendedData[record.KeyKafkaPartition] = partition
		r.ExtendedData[record.KeyKafkaOffset] = offset
		return nil
	})
	if err != nil {
		var circuitErr *ingesterr.CircuitOpenError
		if errors.As(err, &circuitErr) {
			return err
		}
		return &ingesterr.PublishError{Err: err}
	}
	return nil
}

// isFatalBrokerError reports errors sarama will never resolve by retrying
// (e.g. the topic/message itself is invalid), as opposed to transient
// connectivity failures. Per spec.md's Open Question #4, such failures are
// terminal drops, never retried at the application layer.
func isFatalBrokerError(err error) bool {
	return errors.Is(err, sarama.ErrMessageTooLarge) ||
		errors.Is(err, sarama.ErrInvalidMessage) ||
		errors.Is(err, sarama.ErrUnknownTopicOrPartition)
}

// Flush awaits delivery of all in-flight records (sends already blocked on
// SendMessage, so "in flight" here means "retry loop still running") until
// deadline elapses.
func (p *Publisher) Flush(deadline time.Duration) error {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-timer.C:
			return &ingesterr.FlushTimeoutError{Pending: int(p.inFlight.Load())}
		case <-ticker.C:
		}
	}
}

// Health reports false iff Close has been called or a fatal broker error
// has been observed since the last Reset.
func (p *Publisher) Health() bool {
	return !p.closed.Load() && !p.fatal.Load()
}

// Reset clears a latched fatal-error state, e.g. after an operator
// confirms the broker is healthy again.
func (p *Publisher) Reset() { p.fatal.Store(false) }

// Close marks the publisher unhealthy and releases the underlying sarama
// producer. Safe to call once.
func (p *Publisher) Close() error {
	p.closed.Store(true)
	if err := p.producer.Close(); err != nil {
		cclog.Errorf("publish: close producer: %v", err)
		return err
	}
	return nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
