// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package frame

import (
	"sync"
	"time"
)

// Pool hands out fixed-size byte slabs for the Connection Layer to read
// into, the same sync.Pool-backed scheme the teacher uses for its
// memorystore write buffers: a pool avoids a per-frame heap allocation on
// the hottest path in the gateway without needing a custom free list.
type Pool struct {
	bufSize int
	sp      sync.Pool
}

// NewPool builds a Pool whose buffers are bufSize bytes.
func NewPool(bufSize int) *Pool {
	p := &Pool{bufSize: bufSize}
	p.sp.New = func() any {
		return make([]byte, p.bufSize)
	}
	return p
}

// Get returns a buffer sliced to its full bufSize length, ready to be read
// into via io.Reader.Read or net.PacketConn.ReadFrom.
func (p *Pool) Get() []byte {
	buf := p.sp.Get().([]byte)
	return buf[:cap(buf)]
}

func (p *Pool) put(buf []byte) {
	p.sp.Put(buf[:cap(buf)]) //nolint:staticcheck // restoring full capacity before returning to the pool
}

// NewFrame wraps n bytes read into buf (as returned by Get) into a Frame
// owned by this pool. The caller must not touch buf again until the Frame
// is Released.
func (p *Pool) NewFrame(buf []byte, n int, src Source) *Frame {
	return &Frame{
		Data:     buf[:n],
		Arrived:  time.Now(),
		Source:   src,
		pool:     p,
		original: buf,
	}
}
