// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package plugin implements the Plugin Registry (spec.md §4.A): an
// ordered, read-mostly collection of protocol decoders, matched against
// raw frame bytes. The shape — an ordered table plus a lookup-by-tag map,
// with isolated init/cleanup hooks — follows the same plugin-helper
// pattern heka's pipeline package uses for its filter/decoder registry.
package plugin

import (
	"fmt"
	"sync"

	"github.com/fleetwire/telemetry-gateway/internal/decoder"
	"github.com/fleetwire/telemetry-gateway/internal/ingesterr"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// CapabilityFunc inspects the leading bytes of a frame and reports whether
// its decoder can handle them. Must be pure and cheap (microsecond-scale):
// it runs on every frame until a match is found.
type CapabilityFunc func(data []byte) bool

// Descriptor is a Plugin Descriptor (spec.md §3): everything the registry
// needs to dispatch to, initialize, and tear down one decoder plugin.
type Descriptor struct {
	Name     string
	Version  string
	Protocol decoder.Protocol
	Matches  CapabilityFunc
	Decoder  decoder.Decoder
	Validate decoder.Validator // may be nil: treated as an always-pass check

	// Init and Cleanup are optional lifecycle hooks. Init receives an
	// opaque configuration view (the plugin's own config.json section, or
	// nil); Cleanup takes nothing and returns an error to log.
	Init    func(cfg map[string]any) error
	Cleanup func() error
}

type entry struct {
	desc Descriptor
}

// Registry holds the ordered plugin table. It is read-mostly: membership
// grows only through Register, and there is no removal or reload
// operation. A sync.RWMutex is enough; there is no hot path contention.
type Registry struct {
	mu         sync.RWMutex
	ordered    []*entry
	byProtocol map[decoder.Protocol]*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byProtocol: make(map[decoder.Protocol]*entry)}
}

// Register runs d's Init hook (if any) and, on success, appends d to the
// registration-order table. A failing or panicking Init hook isolates the
// plugin: it returns a *ingesterr.PluginInitError and the plugin is never
// added, so it can never be matched or shut down.
func (r *Registry) Register(d Descriptor, cfg map[string]any) (err error) {
	if d.Init != nil {
		err = func() (initErr error) {
			defer func() {
				if p := recover(); p != nil {
					initErr = fmt.Errorf("panic: %v", p)
				}
			}()
			return d.Init(cfg)
		}()
		if err != nil {
			pluginErr := &ingesterr.PluginInitError{Plugin: d.Name, Err: err}
			cclog.Errorf("plugin registry: %v", pluginErr)
			return pluginErr
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{desc: d}
	r.ordered = append(r.ordered, e)
	r.byProtocol[d.Protocol] = e
	cclog.Infof("plugin registry: registered %s v%s (%s), position %d", d.Name, d.Version, d.Protocol, len(r.ordered)-1)
	return nil
}

// MatchForBytes consults every registered plugin's capability predicate in
// registration order and returns the first match. This registration-order
// tie-break is observable and part of the contract (spec.md §4.A): two
// predicates that both match the same bytes never race for precedence.
func (r *Registry) MatchForBytes(data []byte) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.ordered {
		if matches(e.desc, data) {
			d := e.desc
			return &d, true
		}
	}
	return nil, false
}

// matches invokes a capability predicate with panic isolation: a
// misbehaving plugin never takes down a Pipeline worker mid-match.
func matches(d Descriptor, data []byte) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			cclog.Errorf("plugin registry: %v", &ingesterr.PluginRuntimeError{Plugin: d.Name, Err: fmt.Errorf("panic in capability predicate: %v", p)})
			ok = false
		}
	}()
	return d.Matches(data)
}

// GetByProtocol is a direct lookup by protocol tag, bypassing the
// registration-order scan.
func (r *Registry) GetByProtocol(tag decoder.Protocol) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byProtocol[tag]
	if !ok {
		return nil, false
	}
	d := e.desc
	return &d, true
}

// Shutdown invokes every plugin's Cleanup hook in reverse registration
// order. Individual failures (including panics) are logged but never abort
// the sweep — every plugin gets a chance to clean up regardless of its
// neighbors' fate.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	ordered := make([]*entry, len(r.ordered))
	copy(ordered, r.ordered)
	r.mu.RUnlock()

	for i := len(ordered) - 1; i >= 0; i-- {
		d := ordered[i].desc
		if d.Cleanup == nil {
			continue
		}
		if err := safeCleanup(d); err != nil {
			cclog.Errorf("plugin registry: %v", &ingesterr.PluginRuntimeError{Plugin: d.Name, Err: err})
		}
	}
}

func safeCleanup(d Descriptor) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in cleanup: %v", p)
		}
	}()
	return d.Cleanup()
}
