// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fleetwire/telemetry-gateway/internal/frame"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// TryEnqueuer is the non-blocking counterpart to Enqueuer: UDP has no
// transport-level back-pressure to push against, so a full queue means the
// datagram is dropped, never stalled on.
type TryEnqueuer interface {
	TryEnqueue(f *frame.Frame) bool
}

const perPeerRateLimit = rate.Limit(50) // datagrams/sec
const perPeerBurst = 100

// UDPServer is a single-goroutine, stateless datagram receiver. There is no
// session concept: every datagram carries its own inferred device id.
type UDPServer struct {
	addr  string
	pool  *frame.Pool
	sink  TryEnqueuer
	stats *Stats

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	conn *net.UDPConn

	// done closes once ListenAndServe's receive loop has returned, so Close
	// can be sure no further TryEnqueue call is in flight before it returns.
	done chan struct{}
}

// NewUDPServer builds a UDPServer. bufSize sizes the pooled read buffer.
func NewUDPServer(addr string, bufSize int, sink TryEnqueuer, stats *Stats) *UDPServer {
	return &UDPServer{
		addr:     addr,
		pool:     frame.NewPool(bufSize),
		sink:     sink,
		stats:    stats,
		limiters: make(map[string]*rate.Limiter),
		done:     make(chan struct{}),
	}
}

// ListenAndServe binds the UDP socket and reads datagrams until Close is
// called. ctx is consulted only after a read error, so cancelling it alone
// does not end the loop.
func (s *UDPServer) ListenAndServe(ctx context.Context) error {
	defer close(s.done)

	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	s.conn = conn
	s.stats.setUDPActive(true)
	defer s.stats.setUDPActive(false)

	cclog.Infof("ingest: udp server listening on %s", s.addr)

	for {
		buf := s.pool.Get()
		n, peer, err := conn.ReadFromUDP(buf)
		if n > 0 {
			s.handle(buf, n, peer)
		} else {
			s.pool.NewFrame(buf, 0, frame.Source{}).Release()
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			cclog.Warnf("ingest: udp read: %v", err)
		}
	}
}

func (s *UDPServer) handle(buf []byte, n int, peer *net.UDPAddr) {
	data := buf[:n]
	peerKey := peer.IP.String()

	if !s.limiterFor(peerKey).Allow() {
		s.pool.NewFrame(buf, 0, frame.Source{}).Release()
		return
	}

	deviceID := udpDeviceID(data, peer.String())
	f := s.pool.NewFrame(buf, n, frame.Source{
		Transport:  "udp",
		RemoteAddr: peer.String(),
		DeviceID:   deviceID,
	})
	s.stats.messageReceived()
	if !s.sink.TryEnqueue(f) {
		cclog.Debugf("ingest: udp frame from %s dropped, pipeline queue full", peer)
	}
}

func (s *UDPServer) limiterFor(peerKey string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[peerKey]
	if !ok {
		l = rate.NewLimiter(perPeerRateLimit, perPeerBurst)
		s.limiters[peerKey] = l
	}
	return l
}

// Addr returns the bound socket address, or nil before ListenAndServe has
// completed its bind.
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close stops the receive loop and waits for it to fully return (spec.md §5
// step 3) before returning, so no TryEnqueue call is still in flight once
// Close is done.
func (s *UDPServer) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	<-s.done
	return err
}
