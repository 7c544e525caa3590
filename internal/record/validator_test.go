// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedValidator(at time.Time) *Validator {
	return &Validator{now: func() time.Time { return at }}
}

func TestValidateAcceptsGoodFix(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	v := fixedValidator(now)
	r := New("truck-1", 48.1173, 11.5167, now.Add(-time.Minute))
	r.SatelliteCount = Int(9)
	r.HDOP = Float(0.9)

	res := v.Validate(r)
	assert.True(t, res.Valid, "expected valid, got errors: %v", res.Errors)
	// only speed/heading/altitude are missing (-9); 9 satellites, HDOP 0.9
	// and a one-minute-old fix cost nothing
	assert.Equal(t, 91, r.ExtendedData[KeyQualityScore])
}

func TestValidateRejectsNullIsland(t *testing.T) {
	now := time.Now()
	v := fixedValidator(now)
	r := New("truck-1", 0, 0, now)
	res := v.Validate(r)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "null island")
}

func TestValidateRejectsOutOfRangeLatitude(t *testing.T) {
	now := time.Now()
	v := fixedValidator(now)
	r := New("truck-1", 91, 0, now)
	res := v.Validate(r)
	assert.False(t, res.Valid)
}

func TestValidateRejectsStaleAndFutureTimestamps(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	v := fixedValidator(now)

	stale := New("truck-1", 1, 1, now.Add(-25*time.Hour))
	assert.False(t, v.Validate(stale).Valid)

	future := New("truck-1", 1, 1, now.Add(2*time.Hour))
	assert.False(t, v.Validate(future).Valid)
}

func TestValidateRejectsHeadingEqualTo360(t *testing.T) {
	now := time.Now()
	v := fixedValidator(now)
	r := New("truck-1", 1, 1, now)
	r.Heading = Float(360)
	assert.False(t, v.Validate(r).Valid)
}

func TestQualityScoreDeductsForLowSatellitesAndHighHDOP(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	v := fixedValidator(now)
	r := New("truck-1", 1, 1, now)
	r.SatelliteCount = Int(3)
	r.HDOP = Float(12)

	res := v.Validate(r)
	assert.True(t, res.Valid, "low quality is still a valid fix")
	// missing speed/heading/altitude (-9) + low satellites (-30) + high hdop (-40) = 21
	assert.Equal(t, 21, r.ExtendedData[KeyQualityScore])
}

func TestQualityScoreNeverNegative(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	v := fixedValidator(now)
	r := New("truck-1", 1, 1, now.Add(-2*time.Hour))
	r.SatelliteCount = Int(1)
	r.HDOP = Float(20)

	res := v.Validate(r)
	assert.True(t, res.Valid)
	// missing speed/heading/altitude (-9) + low satellites (-30) + high hdop (-40)
	// + stale by 2h (-20) = 1, the lowest score a record carrying both
	// satellite count and HDOP can reach
	assert.Equal(t, 1, r.ExtendedData[KeyQualityScore])
}
