// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package record

import (
	"fmt"
	"time"
)

// ValidationResult is the outcome of running Validate against a Record.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validator enforces the range and freshness invariants of spec.md §3/§4.C
// and computes a quality score. It holds no mutable state, so a single
// Validator is safely shared across every Pipeline worker.
type Validator struct {
	// now is overridable in tests; NewValidator sets it to time.Now, and a
	// nil value also falls back to time.Now.
	now func() time.Time
}

// NewValidator returns a Validator using wall-clock time.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

func (v *Validator) clock() time.Time {
	if v.now != nil {
		return v.now()
	}
	return time.Now()
}

// Validate checks r against every hard invariant, then — regardless of
// whether hard invariants held — computes and stores a quality score.
// Only hard invariants cause Valid=false; a score of 0 never does.
func (v *Validator) Validate(r *Record) ValidationResult {
	var errs []string

	if r.DeviceID == "" {
		errs = append(errs, "device-id must not be empty")
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		errs = append(errs, fmt.Sprintf("latitude %v out of range [-90,90]", r.Latitude))
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		errs = append(errs, fmt.Sprintf("longitude %v out of range [-180,180]", r.Longitude))
	}
	if r.Latitude == 0 && r.Longitude == 0 {
		errs = append(errs, "null island (0,0) is not a valid fix")
	}

	now := v.clock()
	if r.Timestamp.Before(now.Add(-24*time.Hour)) || r.Timestamp.After(now.Add(1*time.Hour)) {
		errs = append(errs, fmt.Sprintf("timestamp %s outside [now-24h, now+1h]", r.Timestamp.UTC().Format(time.RFC3339)))
	}
	if r.Timestamp.Year() < 2000 {
		errs = append(errs, "timestamp year before 2000")
	}

	if r.Speed != nil && *r.Speed < 0 {
		errs = append(errs, "speed must be >= 0")
	}
	if r.Speed != nil && *r.Speed > 1000 {
		errs = append(errs, fmt.Sprintf("speed %v exceeds [0,1000]", *r.Speed))
	}
	if r.Heading != nil && (*r.Heading < 0 || *r.Heading >= 360) {
		errs = append(errs, fmt.Sprintf("heading %v out of range [0,360)", *r.Heading))
	}
	if r.SatelliteCount != nil && (*r.SatelliteCount < 0 || *r.SatelliteCount > 50) {
		errs = append(errs, fmt.Sprintf("satellite-count %d out of range [0,50]", *r.SatelliteCount))
	}
	if r.HDOP != nil && (*r.HDOP < 0 || *r.HDOP > 50) {
		errs = append(errs, fmt.Sprintf("hdop %v out of range [0,50]", *r.HDOP))
	}

	if r.ExtendedData == nil {
		r.ExtendedData = make(map[string]any)
	}
	r.ExtendedData[KeyQualityScore] = v.qualityScore(r, now)

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// qualityScore implements the deduction table in spec.md §4.C. It never
// goes below 0.
func (v *Validator) qualityScore(r *Record, now time.Time) int {
	score := 100

	if r.Speed == nil {
		score -= 3
	}
	if r.Heading == nil {
		score -= 3
	}
	if r.Altitude == nil {
		score -= 3
	}
	if r.SatelliteCount == nil {
		score -= 5
	}
	if r.HDOP == nil {
		score -= 5
	}

	if r.SatelliteCount != nil {
		switch {
		case *r.SatelliteCount < 4:
			score -= 30
		case *r.SatelliteCount < 6:
			score -= 15
		case *r.SatelliteCount < 8:
			score -= 5
		}
	}

	if r.HDOP != nil {
		switch {
		case *r.HDOP > 10:
			score -= 40
		case *r.HDOP > 5:
			score -= 20
		case *r.HDOP > 2:
			score -= 10
		}
	}

	age := now.Sub(r.Timestamp)
	switch {
	case age > 60*time.Minute:
		score -= 20
	case age > 10*time.Minute:
		score -= 10
	}

	if score < 0 {
		score = 0
	}
	return score
}
