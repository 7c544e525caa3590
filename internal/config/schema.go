// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

var configSchema = `
{
  "type": "object",
  "properties": {
    "telemetryServer": {
      "type": "object",
      "properties": {
        "tcpPort": { "type": "integer" },
        "udpPort": { "type": "integer" },
        "bufferSize": { "type": "integer" },
        "maxConcurrentConnections": { "type": "integer" },
        "shutdownTimeout": { "type": "string" }
      }
    },
    "kafka": {
      "type": "object",
      "properties": {
        "brokers": { "type": "array", "items": { "type": "string" } },
        "topicPrefix": { "type": "string" },
        "partitionCount": { "type": "integer" },
        "compression": { "type": "string", "enum": ["none", "gzip", "snappy", "lz4", "zstd"] },
        "batchSize": { "type": "integer" },
        "batchTimeout": { "type": "string" },
        "acks": { "type": "string", "enum": ["none", "leader", "all"] },
        "enableIdempotence": { "type": "boolean" },
        "clientId": { "type": "string" }
      },
      "required": ["brokers"]
    },
    "pluginSettings": {
      "type": "object",
      "properties": {
        "directory": { "type": "string" },
        "enableHotReload": { "type": "boolean" }
      }
    },
    "resilience": {
      "type": "object",
      "properties": {
        "kafka": { "$ref": "#/$defs/policy" },
        "messageProcessing": { "$ref": "#/$defs/policy" },
        "connection": { "$ref": "#/$defs/policy" }
      }
    },
    "monitoring": {
      "type": "object",
      "properties": {
        "serviceName": { "type": "string" },
        "metricsAddr": { "type": "string" },
        "logLevel": { "type": "string", "enum": ["debug", "info", "notice", "warn", "err", "crit"] },
        "logDate": { "type": "boolean" }
      }
    }
  },
  "required": ["kafka"],
  "$defs": {
    "policy": {
      "type": "object",
      "properties": {
        "retries": { "type": "integer" },
        "backoffBase": { "type": "string" },
        "backoffCap": { "type": "string" },
        "backoffStrategy": { "type": "string", "enum": ["exponential", "linear"] },
        "timeout": { "type": "string" },
        "breakerFailureRatio": { "type": "number" },
        "breakerWindow": { "type": "string" },
        "breakerMinThroughput": { "type": "integer" },
        "breakerOpenDuration": { "type": "string" }
      }
    }
  }
}`
