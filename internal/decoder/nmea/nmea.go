// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nmea is the reference NMEA 0183 decoder plugin (spec.md §4.B): a
// hand-rolled sentence parser, chosen over a library wrapper per the
// source's Open Question #3 (two overlapping implementations existed
// upstream; this one is the canonical semantics).
package nmea

import (
	"context"
	"strings"
	"time"

	"github.com/fleetwire/telemetry-gateway/internal/decoder"
	"github.com/fleetwire/telemetry-gateway/internal/ingesterr"
	"github.com/fleetwire/telemetry-gateway/internal/record"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// Name and Version identify this plugin to the Plugin Registry.
const (
	Name    = "nmea0183"
	Version = "1.0"
)

// Decoder implements decoder.Decoder and decoder.Validator for NMEA 0183.
// It holds no mutable state and is safe for concurrent use by every
// Pipeline worker.
type Decoder struct{}

// New returns a ready-to-register NMEA decoder.
func New() *Decoder { return &Decoder{} }

var _ decoder.Decoder = (*Decoder)(nil)
var _ decoder.Validator = (*Decoder)(nil)

// Matches is the capability predicate the Plugin Registry consults: NMEA
// demands a leading "$" and at least one comma on the first line.
func Matches(data []byte) bool {
	nl := strings.IndexAny(string(data), "\r\n")
	first := string(data)
	if nl >= 0 {
		first = first[:nl]
	}
	return strings.HasPrefix(first, "$") && strings.Contains(first, ",")
}

// Decode implements the framing, checksum, sentence-dispatch, and
// multi-sentence merge rules of spec.md §4.B.
func (d *Decoder) Decode(ctx context.Context, data []byte, deviceID string) (*record.Record, error) {
	lines := splitLines(string(data))

	rec := record.New(deviceID, 0, 0, time.Time{})
	rec.ExtendedData[record.KeyProtocol] = string(decoder.ProtocolNMEA)

	haveFix := false

	for _, line := range lines {
		if !strings.HasPrefix(line, "$") {
			continue // lines not beginning with '$' are skipped silently
		}

		payload, ok := splitChecksum(line)
		if !ok {
			cclog.Warnf("nmea: invalid checksum, dropping sentence: %q", line)
			continue
		}

		fields := strings.Split(payload, ",")
		if len(fields) == 0 || fields[0] == "" {
			continue
		}
		header := fields[0]
		sType := sentenceType(header)

		var (
			applied bool
			err     error
		)
		switch sType {
		case "RMC":
			applied, err = handleRMC(fields, rec)
		case "GGA":
			applied, err = handleGGA(fields, rec)
		case "GSA":
			applied, err = handleGSA(fields, rec)
		case "GSV":
			applied, err = handleGSV(fields, rec)
		default:
			applied, err = handleUnknown(sType, payload, rec)
		}

		if err != nil {
			cclog.Warnf("nmea: sentence %s: %v", sType, err)
			continue
		}
		if applied && (sType == "RMC" || sType == "GGA") {
			haveFix = true
		}
	}

	if !haveFix {
		return nil, &ingesterr.DecodeError{Plugin: Name, Reason: "no sentence produced a fix (RMC status=A or GGA fix-quality!=0)"}
	}
	return rec, nil
}

// Validate is the plugin-level check (spec.md §4.E step 4, before the
// central record.Validator runs). The NMEA plugin has nothing beyond what
// the central validator already enforces.
func (d *Decoder) Validate(r *record.Record) error { return nil }

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

