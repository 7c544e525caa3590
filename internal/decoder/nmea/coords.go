// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package nmea

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseCoordinate converts a DDMM.MMMM (degDigits=2, latitude) or
// DDDMM.MMMM (degDigits=3, longitude) field plus its hemisphere letter into
// signed decimal degrees: DD + MM.MMMM/60, negated for S or W.
func parseCoordinate(raw, hemisphere string, degDigits int) (float64, error) {
	dot := strings.IndexByte(raw, '.')
	if dot < degDigits {
		return 0, fmt.Errorf("malformed coordinate %q", raw)
	}

	degPart := raw[:degDigits]
	minPart := raw[degDigits:]

	deg, err := strconv.ParseFloat(degPart, 64)
	if err != nil {
		return 0, fmt.Errorf("degrees in %q: %w", raw, err)
	}
	min, err := strconv.ParseFloat(minPart, 64)
	if err != nil {
		return 0, fmt.Errorf("minutes in %q: %w", raw, err)
	}

	val := deg + min/60
	switch strings.ToUpper(hemisphere) {
	case "S", "W":
		val = -val
	case "N", "E", "":
		// no-op
	default:
		return 0, fmt.Errorf("unrecognized hemisphere %q", hemisphere)
	}
	return val, nil
}

// parseLatitude parses a DDMM.MMMM latitude field.
func parseLatitude(raw, hemisphere string) (float64, error) {
	return parseCoordinate(raw, hemisphere, 2)
}

// parseLongitude parses a DDDMM.MMMM longitude field.
func parseLongitude(raw, hemisphere string) (float64, error) {
	return parseCoordinate(raw, hemisphere, 3)
}

// parseTimestamp reconstructs a UTC time.Time from an HHMMSS[.sss] field and
// a DDMMYY field (two-digit year, offset +2000), per spec.md §4.B. If date
// is empty, ok is false and the caller (the pipeline, on ingress) is
// responsible for stamping wall-clock UTC instead.
func parseTimestamp(hhmmss, ddmmyy string) (t time.Time, ok bool) {
	if len(hhmmss) < 6 || len(ddmmyy) != 6 {
		return time.Time{}, false
	}

	hh, err1 := strconv.Atoi(hhmmss[0:2])
	mm, err2 := strconv.Atoi(hhmmss[2:4])
	secStr := hhmmss[4:]
	secFloat, err3 := strconv.ParseFloat(secStr, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	sec := int(secFloat)
	nsec := int((secFloat - float64(sec)) * 1e9)

	dd, err4 := strconv.Atoi(ddmmyy[0:2])
	mo, err5 := strconv.Atoi(ddmmyy[2:4])
	yy, err6 := strconv.Atoi(ddmmyy[4:6])
	if err4 != nil || err5 != nil || err6 != nil {
		return time.Time{}, false
	}

	return time.Date(2000+yy, time.Month(mo), dd, hh, mm, sec, nsec, time.UTC), true
}
