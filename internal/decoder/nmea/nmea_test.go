// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package nmea

import (
	"context"
	"testing"
	"time"

	"github.com/fleetwire/telemetry-gateway/internal/ingesterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRMC = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"

func TestDecodeValidRMCScenario1(t *testing.T) {
	d := New()
	rec, err := d.Decode(context.Background(), []byte(validRMC), "truck-1")
	require.NoError(t, err)

	assert.InDelta(t, 48.1173, rec.Latitude, 1e-4)
	assert.InDelta(t, 11.5167, rec.Longitude, 1e-4)
	require.NotNil(t, rec.Speed)
	assert.InDelta(t, 41.4848, *rec.Speed, 1e-3)
	require.NotNil(t, rec.Heading)
	assert.InDelta(t, 84.4, *rec.Heading, 1e-9)
	assert.Equal(t, time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, "NMEA", rec.ExtendedData["Protocol"])
}

func TestDecodeInvalidChecksumScenario2(t *testing.T) {
	d := New()
	bad := "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*00"
	_, err := d.Decode(context.Background(), []byte(bad), "truck-1")
	require.Error(t, err)
	var decErr *ingesterr.DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecodeStatusVoidScenario3(t *testing.T) {
	d := New()
	void := "$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D"
	_, err := d.Decode(context.Background(), []byte(void), "truck-1")
	require.Error(t, err)
}

func TestDecodeGGAScenario6(t *testing.T) {
	d := New()
	gga := "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	rec, err := d.Decode(context.Background(), []byte(gga), "GPGGA_10.0.0.5_40000")
	require.NoError(t, err)

	assert.InDelta(t, 545.4, *rec.Altitude, 1e-9)
	require.NotNil(t, rec.SatelliteCount)
	assert.Equal(t, 8, *rec.SatelliteCount)
	assert.InDelta(t, 0.9, *rec.HDOP, 1e-9)
	assert.True(t, rec.Timestamp.IsZero(), "GGA alone leaves the timestamp for the Pipeline to stamp")
}

func TestDecodeMultiSentenceLastWriteWins(t *testing.T) {
	d := New()
	buf := validRMC + "\r\n" + "$GPGGA,123519,4807.100,N,01131.100,E,1,09,0.8,600.0,M,46.9,M,,*4A"
	rec, err := d.Decode(context.Background(), []byte(buf), "truck-1")
	require.NoError(t, err)

	// GGA comes after RMC in the buffer, so its lat/lon wins.
	assert.InDelta(t, 48.1183, rec.Latitude, 1e-4)
	assert.InDelta(t, 11.5183, rec.Longitude, 1e-4)
	// But RMC's speed/heading survive since GGA never sets them.
	require.NotNil(t, rec.Speed)
	assert.InDelta(t, 41.4848, *rec.Speed, 1e-3)
}

func TestDecodeSkipsNonDollarLines(t *testing.T) {
	d := New()
	buf := "garbage line\r\n" + validRMC
	rec, err := d.Decode(context.Background(), []byte(buf), "truck-1")
	require.NoError(t, err)
	assert.InDelta(t, 48.1173, rec.Latitude, 1e-4)
}

func TestDecodeUnknownSentenceStored(t *testing.T) {
	d := New()
	buf := validRMC + "\r\n" + "$GPZZZ,1,2,3*51"
	rec, err := d.Decode(context.Background(), []byte(buf), "truck-1")
	require.NoError(t, err)
	assert.Contains(t, rec.ExtendedData, "Unknown_ZZZ")
}

func TestParseCoordinateKnownValues(t *testing.T) {
	lat, err := parseLatitude("4807.038", "N")
	require.NoError(t, err)
	assert.InDelta(t, 48.1173, lat, 1e-4)

	lon, err := parseLongitude("01131.000", "E")
	require.NoError(t, err)
	assert.InDelta(t, 11.5167, lon, 1e-4)
}

func TestMatchesRequiresDollarAndComma(t *testing.T) {
	assert.True(t, Matches([]byte(validRMC)))
	assert.False(t, Matches([]byte("not nmea")))
	assert.False(t, Matches([]byte("$NOFIELDSHERE")))
}
