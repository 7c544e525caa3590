// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decoder defines the contract every protocol plugin implements
// and the closed set of protocol tags the registry dispatches on.
package decoder

import (
	"context"

	"github.com/fleetwire/telemetry-gateway/internal/record"
)

// Protocol is the closed set of protocol tags a Plugin Descriptor may
// carry. OTHER is reserved for third-party decoders that don't fit one of
// the named protocols.
type Protocol string

const (
	ProtocolNMEA  Protocol = "NMEA"
	ProtocolUBLOX Protocol = "UBLOX"
	ProtocolTAIP  Protocol = "TAIP"
	ProtocolOther Protocol = "OTHER"
)

// Decoder turns a raw frame into a canonical Record. Implementations must
// be reentrant: the Pipeline's worker pool may invoke the same Decoder
// concurrently from multiple goroutines. Decode never panics on malformed
// input — it returns a *ingesterr.DecodeError instead, per the
// exception-as-control-flow guidance.
type Decoder interface {
	Decode(ctx context.Context, data []byte, deviceID string) (*record.Record, error)
}

// Validator is the lightweight, plugin-specific check run before the
// central record.Validator (spec.md §4.E step 4). Plugins with nothing to
// add can return nil unconditionally.
type Validator interface {
	Validate(r *record.Record) error
}
