// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package nmea

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetwire/telemetry-gateway/internal/record"
)

// sentenceType strips the two-character talker id from a sentence header
// ("GPRMC" -> "RMC"). Headers shorter than 3 characters have no usable
// type and are reported as-is.
func sentenceType(header string) string {
	if len(header) <= 2 {
		return header
	}
	return header[2:]
}

// handleRMC applies a $--RMC sentence. It reports applied=false (no field
// writes, no error) when status is anything but "A", per spec.md §4.B.
func handleRMC(fields []string, rec *record.Record) (applied bool, err error) {
	if len(fields) < 10 {
		return false, fmt.Errorf("RMC: want >=10 fields, got %d", len(fields))
	}
	if fields[2] != "A" {
		return false, nil
	}

	lat, err := parseLatitude(fields[3], fields[4])
	if err != nil {
		return false, fmt.Errorf("RMC latitude: %w", err)
	}
	lon, err := parseLongitude(fields[5], fields[6])
	if err != nil {
		return false, fmt.Errorf("RMC longitude: %w", err)
	}
	speedKnots, err := strconv.ParseFloat(fields[7], 64)
	if err != nil {
		return false, fmt.Errorf("RMC speed: %w", err)
	}
	course, err := strconv.ParseFloat(fields[8], 64)
	if err != nil {
		return false, fmt.Errorf("RMC course: %w", err)
	}

	rec.Latitude = lat
	rec.Longitude = lon
	speed := speedKnots * 1.852
	rec.Speed = record.Float(speed)
	rec.Heading = record.Float(course)

	if ts, ok := parseTimestamp(fields[1], fields[9]); ok {
		rec.Timestamp = ts
	}
	return true, nil
}

// handleGGA applies a $--GGA sentence. It reports applied=false when
// fix-quality is "0" (no fix).
func handleGGA(fields []string, rec *record.Record) (applied bool, err error) {
	if len(fields) < 10 {
		return false, fmt.Errorf("GGA: want >=10 fields, got %d", len(fields))
	}
	if fields[6] == "0" {
		return false, nil
	}

	lat, err := parseLatitude(fields[2], fields[3])
	if err != nil {
		return false, fmt.Errorf("GGA latitude: %w", err)
	}
	lon, err := parseLongitude(fields[4], fields[5])
	if err != nil {
		return false, fmt.Errorf("GGA longitude: %w", err)
	}

	rec.Latitude = lat
	rec.Longitude = lon

	if sats, err := strconv.Atoi(fields[7]); err == nil {
		rec.SatelliteCount = record.Int(sats)
	}
	if hdop, err := strconv.ParseFloat(fields[8], 64); err == nil {
		rec.HDOP = record.Float(hdop)
	}
	if alt, err := strconv.ParseFloat(fields[9], 64); err == nil {
		rec.Altitude = record.Float(alt)
	}

	// GGA carries a time-of-day but no date; per spec.md §4.B the decoder
	// leaves Timestamp unset here and the Pipeline stamps wall-clock UTC on
	// ingress if no RMC in the same buffer supplies a full date+time.
	return true, nil
}

// handleGSA applies a $--GSA sentence: it has no discard condition, so it
// always contributes. HDOP is the second of the three dilution-of-precision
// fields at the end of the sentence (PDOP, HDOP, VDOP); reading from the
// end is robust to the exact satellite-slot count some receivers vary.
func handleGSA(fields []string, rec *record.Record) (applied bool, err error) {
	if len(fields) < 4 {
		return false, fmt.Errorf("GSA: want >=4 fields, got %d", len(fields))
	}
	if len(fields) >= 3 {
		rec.ExtendedData["Mode"] = fields[1]
		rec.ExtendedData["FixType"] = fields[2]
	}
	if len(fields) >= 2 {
		if hdop, err := strconv.ParseFloat(fields[len(fields)-2], 64); err == nil {
			rec.HDOP = record.Float(hdop)
		}
	}
	return true, nil
}

// handleGSV applies a $--GSV sentence: always contributes, populating
// SatellitesInView from the third data field.
func handleGSV(fields []string, rec *record.Record) (applied bool, err error) {
	if len(fields) < 4 {
		return false, fmt.Errorf("GSV: want >=4 fields, got %d", len(fields))
	}
	if n, err := strconv.Atoi(fields[3]); err == nil {
		rec.ExtendedData["SatellitesInView"] = n
	}
	return true, nil
}

// handleUnknown stores the raw sentence under Unknown_<type>.
func handleUnknown(sentenceTag, payload string, rec *record.Record) (applied bool, err error) {
	rec.ExtendedData["Unknown_"+sentenceTag] = strings.TrimSpace(payload)
	return true, nil
}
