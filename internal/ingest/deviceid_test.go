// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferDeviceTagExtractsTalkerAndType(t *testing.T) {
	tag, ok := inferDeviceTag([]byte("$GPRMC,123519,A,4807.038,N*6A"))
	assert.True(t, ok)
	assert.Equal(t, "GPRMC", tag)
}

func TestInferDeviceTagRejectsShortOrMalformedFrames(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("$GP"),
		[]byte("no-dollar,here"),
		[]byte("$GPRMCnocomma"),
		[]byte("$gprmc,lowercase"),
	}
	for _, c := range cases {
		_, ok := inferDeviceTag(c)
		assert.False(t, ok, "expected inference to fail for %q", c)
	}
}

func TestUDPDeviceIDCombinesTagAndPeerWithUnderscores(t *testing.T) {
	id := udpDeviceID([]byte("$GPGGA,123519,*47"), "10.0.0.5:40000")
	assert.Equal(t, "GPGGA_10.0.0.5_40000", id)
}

func TestUDPDeviceIDFallsBackToUnknownTag(t *testing.T) {
	id := udpDeviceID([]byte("not nmea shaped"), "10.0.0.5:40000")
	assert.Equal(t, "unknown_10.0.0.5_40000", id)
}
