// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package record defines the canonical GPS position record produced by
// every decoder plugin and the Validator that enforces its invariants.
package record

import (
	"encoding/json"
	"time"
)

// Reserved extended-data keys. The Validator writes QualityScore, the
// Pipeline writes Protocol, ProcessedAt, ProcessingId and DataSize, and the
// Publisher writes KafkaPartition and KafkaOffset. A decoder may set
// Protocol itself; the Pipeline overwrites it with the matched plugin's tag.
const (
	KeyProtocol      = "Protocol"
	KeyProcessedAt   = "ProcessedAt"
	KeyProcessingID  = "ProcessingId"
	KeyDataSize      = "DataSize"
	KeyQualityScore  = "QualityScore"
	KeyKafkaPartition = "KafkaPartition"
	KeyKafkaOffset   = "KafkaOffset"
)

// Record is the normalized output of a decoder. Required fields are always
// populated before a decoder returns; optional fields are nil when absent
// so JSON marshaling can omit them rather than emit a sentinel zero value,
// per the tagged-option-type guidance for nullable fields.
//
// A Record is conceptually immutable once Validate has run: after that,
// only the Pipeline's enrichment and publish steps add the reserved
// extended-data keys above. Nothing in this type enforces that at compile
// time; it is a calling convention the Pipeline and Publisher honor.
type Record struct {
	DeviceID       string
	Latitude       float64
	Longitude      float64
	Timestamp      time.Time
	Speed          *float64
	Heading        *float64
	Altitude       *float64
	SatelliteCount *int
	HDOP           *float64
	ExtendedData   map[string]any
}

// New returns a Record with required fields set and an initialized
// ExtendedData map, ready for a decoder to populate.
func New(deviceID string, lat, lon float64, ts time.Time) *Record {
	return &Record{
		DeviceID:     deviceID,
		Latitude:     lat,
		Longitude:    lon,
		Timestamp:    ts,
		ExtendedData: make(map[string]any),
	}
}

type wireRecord struct {
	DeviceID       string         `json:"deviceId"`
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	Timestamp      string         `json:"timestamp"`
	Speed          *float64       `json:"speed,omitempty"`
	Heading        *float64       `json:"heading,omitempty"`
	Altitude       *float64       `json:"altitude,omitempty"`
	SatelliteCount *int           `json:"satelliteCount,omitempty"`
	HDOP           *float64       `json:"hdop,omitempty"`
	ExtendedData   map[string]any `json:"extendedData,omitempty"`
}

// timestampLayout renders ISO-8601 UTC with millisecond precision, exactly
// as spec.md §6 requires (RFC3339Nano's variable fractional digits would
// not satisfy that).
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// MarshalJSON implements the wire format of spec.md §6: camelCase keys,
// millisecond-precision UTC timestamps, and omission (not null) of unset
// optional fields.
func (r *Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		DeviceID:       r.DeviceID,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		Timestamp:      r.Timestamp.UTC().Format(timestampLayout),
		Speed:          r.Speed,
		Heading:        r.Heading,
		Altitude:       r.Altitude,
		SatelliteCount: r.SatelliteCount,
		HDOP:           r.HDOP,
		ExtendedData:   r.ExtendedData,
	}
	return json.Marshal(w)
}

// Protocol returns the extended-data Protocol tag, or "unknown" when the
// decoder never set one (spec.md §6).
func (r *Record) Protocol() string {
	if v, ok := r.ExtendedData[KeyProtocol]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}
