// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestInitAppliesFileOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `{
		"kafka": {"brokers": ["broker-a:9092", "broker-b:9092"], "topicPrefix": "custom.gps"},
		"telemetryServer": {"tcpPort": 9000}
	}`)

	Init(path)

	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, Keys.Kafka.Brokers)
	assert.Equal(t, "custom.gps", Keys.Kafka.TopicPrefix)
	assert.Equal(t, 9000, Keys.TelemetryServer.TCPPort)
	// untouched defaults survive a partial file
	assert.Equal(t, 8081, Keys.TelemetryServer.UDPPort)
	assert.Equal(t, 16, Keys.Kafka.PartitionCount)
}

func TestValidateRejectsUnknownAcks(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"kafka": map[string]any{"brokers": []string{"b:9092"}, "acks": "sometimes"},
	})
	require.NoError(t, err)
	assert.Error(t, Validate(configSchema, raw))
}
