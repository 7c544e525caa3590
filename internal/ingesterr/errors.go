// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingesterr collects the typed errors raised across the gateway's
// decode/validate/publish pipeline so callers can use errors.As/errors.Is
// instead of string matching.
package ingesterr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOperationCancelled is returned by resilience.Policy.Run when the
// caller's context is cancelled before an operation completes.
var ErrOperationCancelled = errors.New("operation cancelled")

// DecodeError reports that a plugin failed to turn a Frame into a Record.
type DecodeError struct {
	Plugin string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: plugin %s: %s", e.Plugin, e.Reason)
}

// ValidationError reports one or more Record invariant violations.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Reasons, "; "))
}

// PublishError wraps a failure from the Publisher's send path, after the
// Resilience Core has exhausted its retries.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish: %v", e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }

// CircuitOpenError reports that a named Resilience Core policy is
// currently refusing calls.
type CircuitOpenError struct {
	Policy string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open: policy %s", e.Policy)
}

// PluginInitError reports that a plugin's Init hook failed or panicked
// during Registry.Register. The plugin is not registered.
type PluginInitError struct {
	Plugin string
	Err    error
}

func (e *PluginInitError) Error() string {
	return fmt.Sprintf("plugin %s: init failed: %v", e.Plugin, e.Err)
}
func (e *PluginInitError) Unwrap() error { return e.Err }

// PluginRuntimeError reports that a registered plugin panicked in its
// capability predicate or failed or panicked in its Cleanup hook. The
// registry logs it and carries on: a panicking predicate counts as no
// match, and a failing Cleanup does not stop the shutdown sweep. Panics
// inside Decode are not recovered by the registry.
type PluginRuntimeError struct {
	Plugin string
	Err    error
}

func (e *PluginRuntimeError) Error() string {
	return fmt.Sprintf("plugin %s: runtime error: %v", e.Plugin, e.Err)
}
func (e *PluginRuntimeError) Unwrap() error { return e.Err }

// FlushTimeoutError reports that Publisher.Flush's deadline elapsed while
// messages were still in flight.
type FlushTimeoutError struct {
	Pending int
}

func (e *FlushTimeoutError) Error() string {
	return fmt.Sprintf("flush timed out with %d message(s) still in flight", e.Pending)
}
