// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// TelemetryServerConfig configures the TCP/UDP Connection Layer.
type TelemetryServerConfig struct {
	TCPPort                   int    `json:"tcpPort"`
	UDPPort                   int    `json:"udpPort"`
	BufferSize                int    `json:"bufferSize"`
	MaxConcurrentConnections  int    `json:"maxConcurrentConnections"`
	ShutdownTimeout           string `json:"shutdownTimeout"`
}

// KafkaConfig configures the sarama-backed Publisher.
type KafkaConfig struct {
	Brokers           []string `json:"brokers"`
	TopicPrefix       string   `json:"topicPrefix"`
	PartitionCount    int      `json:"partitionCount"`
	Compression       string   `json:"compression"`
	BatchSize         int      `json:"batchSize"`
	BatchTimeout      string   `json:"batchTimeout"`
	Acks              string   `json:"acks"`
	EnableIdempotence bool     `json:"enableIdempotence"`
	ClientID          string   `json:"clientId"`
}

// PluginSettingsConfig configures the (static-registration) Plugin Registry.
type PluginSettingsConfig struct {
	Directory       string `json:"directory"`
	EnableHotReload bool   `json:"enableHotReload"`
}

// PolicyConfig configures one named Resilience Core policy.
type PolicyConfig struct {
	Retries              int     `json:"retries"`
	BackoffBase          string  `json:"backoffBase"`
	BackoffCap           string  `json:"backoffCap"`
	BackoffStrategy      string  `json:"backoffStrategy"`
	Timeout               string  `json:"timeout"`
	BreakerFailureRatio   float64 `json:"breakerFailureRatio"`
	BreakerWindow         string  `json:"breakerWindow"`
	BreakerMinThroughput  uint32  `json:"breakerMinThroughput"`
	BreakerOpenDuration   string  `json:"breakerOpenDuration"`
}

// ResilienceConfig holds the three named policies spec.md §4.G requires.
type ResilienceConfig struct {
	Kafka             PolicyConfig `json:"kafka"`
	MessageProcessing PolicyConfig `json:"messageProcessing"`
	Connection        PolicyConfig `json:"connection"`
}

// MonitoringConfig configures logging and the Prometheus exporter.
type MonitoringConfig struct {
	ServiceName string `json:"serviceName"`
	MetricsAddr string `json:"metricsAddr"`
	LogLevel    string `json:"logLevel"`
	LogDate     bool   `json:"logDate"`
}

// ProgramConfig is the top-level configuration document.
type ProgramConfig struct {
	TelemetryServer TelemetryServerConfig `json:"telemetryServer"`
	Kafka           KafkaConfig           `json:"kafka"`
	PluginSettings  PluginSettingsConfig  `json:"pluginSettings"`
	Resilience      ResilienceConfig      `json:"resilience"`
	Monitoring      MonitoringConfig      `json:"monitoring"`
}

// Keys holds the process-wide configuration loaded via Init. Defaults here
// match SPEC_FULL.md A.1 and are overwritten field-by-field by whatever the
// config file and environment supply.
var Keys = ProgramConfig{
	TelemetryServer: TelemetryServerConfig{
		TCPPort:                  8080,
		UDPPort:                  8081,
		BufferSize:               4096,
		MaxConcurrentConnections: 10000,
		ShutdownTimeout:          "30s",
	},
	Kafka: KafkaConfig{
		TopicPrefix:       "telemetry.gps",
		PartitionCount:    16,
		Compression:       "snappy",
		Acks:              "all",
		EnableIdempotence: true,
		ClientID:          "telemetry-gateway",
	},
	PluginSettings: PluginSettingsConfig{
		EnableHotReload: false,
	},
	Resilience: ResilienceConfig{
		Kafka: PolicyConfig{
			Retries: 3, BackoffBase: "1s", BackoffCap: "30s", BackoffStrategy: "exponential",
			Timeout: "30s", BreakerFailureRatio: 0.5, BreakerWindow: "60s", BreakerMinThroughput: 10,
			BreakerOpenDuration: "30s",
		},
		MessageProcessing: PolicyConfig{
			Retries: 2, BackoffBase: "500ms", BackoffCap: "500ms", BackoffStrategy: "linear",
			Timeout: "10s",
		},
		Connection: PolicyConfig{
			Retries: 5, BackoffBase: "2s", BackoffCap: "60s", BackoffStrategy: "exponential",
			BreakerFailureRatio: 0.7, BreakerWindow: "120s", BreakerMinThroughput: 5,
			BreakerOpenDuration: "60s",
		},
	},
	Monitoring: MonitoringConfig{
		ServiceName: "telemetry-gateway",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		LogDate:     false,
	},
}

// Init loads an optional .env file, reads and validates the JSON config file
// at path, decodes it over the defaults in Keys, and then applies
// TELEMETRY_<Section>__<Key> environment overrides. Config errors are the
// one class of startup failure allowed to crash the process (spec.md §7).
func Init(path string) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Warnf("config: could not load .env: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Fatalf("config: reading %s: %v", path, err)
		}
	} else {
		if err := Validate(configSchema, raw); err != nil {
			cclog.Fatalf("config: schema validation: %v", err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&Keys); err != nil {
			cclog.Fatalf("config: decode %s: %v", path, err)
		}
	}

	applyEnvOverrides(&Keys)

	if len(Keys.Kafka.Brokers) == 0 {
		cclog.Fatal("config: kafka.brokers must list at least one broker")
	}
}

// ShutdownTimeoutDuration parses TelemetryServer.ShutdownTimeout, falling
// back to 30s on a malformed value rather than crashing a running process.
func (c ProgramConfig) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.TelemetryServer.ShutdownTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// applyEnvOverrides walks the well-known TELEMETRY_<Section>__<Key>
// variables rather than using reflection, mirroring the flat, explicit
// style of the teacher's config package.
func applyEnvOverrides(c *ProgramConfig) {
	str := func(section, key string, dst *string) {
		if v, ok := lookupEnv(section, key); ok {
			*dst = v
		}
	}
	i := func(section, key string, dst *int) {
		if v, ok := lookupEnv(section, key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	b := func(section, key string, dst *bool) {
		if v, ok := lookupEnv(section, key); ok {
			if bv, err := strconv.ParseBool(v); err == nil {
				*dst = bv
			}
		}
	}

	i("TelemetryServer", "TCPPort", &c.TelemetryServer.TCPPort)
	i("TelemetryServer", "UDPPort", &c.TelemetryServer.UDPPort)
	i("TelemetryServer", "BufferSize", &c.TelemetryServer.BufferSize)
	i("TelemetryServer", "MaxConcurrentConnections", &c.TelemetryServer.MaxConcurrentConnections)
	str("TelemetryServer", "ShutdownTimeout", &c.TelemetryServer.ShutdownTimeout)

	if v, ok := lookupEnv("Kafka", "Brokers"); ok {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	str("Kafka", "TopicPrefix", &c.Kafka.TopicPrefix)
	i("Kafka", "PartitionCount", &c.Kafka.PartitionCount)
	str("Kafka", "Compression", &c.Kafka.Compression)
	str("Kafka", "Acks", &c.Kafka.Acks)
	b("Kafka", "EnableIdempotence", &c.Kafka.EnableIdempotence)
	str("Kafka", "ClientId", &c.Kafka.ClientID)

	str("Monitoring", "LogLevel", &c.Monitoring.LogLevel)
	str("Monitoring", "MetricsAddr", &c.Monitoring.MetricsAddr)
	b("Monitoring", "LogDate", &c.Monitoring.LogDate)
}

func lookupEnv(section, key string) (string, bool) {
	return os.LookupEnv(fmt.Sprintf("TELEMETRY_%s__%s", section, key))
}
