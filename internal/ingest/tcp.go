// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"

	"github.com/fleetwire/telemetry-gateway/internal/frame"
	"github.com/fleetwire/telemetry-gateway/internal/resilience"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
)

// Enqueuer is the slice of pipeline.Pipeline the Connection Layer depends
// on: a blocking Enqueue that exerts back-pressure all the way back to the
// TCP reader loop.
type Enqueuer interface {
	Enqueue(ctx context.Context, f *frame.Frame) error
}

const keepAlivePeriod = 30 * time.Second

// TCPServer accepts connections, infers a device id from the first frame of
// each session, and feeds every subsequent frame to the Pipeline.
type TCPServer struct {
	addr             string
	maxConns         int
	pool             *frame.Pool
	sink             Enqueuer
	stats            *Stats
	connectionPolicy *resilience.Policy

	sem chan struct{}
	ln  *net.TCPListener

	// connsMu/conns/connWG track live sessions so Close can actively tear
	// them down and wait out every serve goroutine — otherwise a reader
	// could still be calling sink.Enqueue after the Pipeline has closed its
	// intake channel.
	connsMu sync.Mutex
	conns   map[*net.TCPConn]struct{}
	connWG  sync.WaitGroup

	// acceptDone closes once ListenAndServe's loop has returned, so Close
	// knows no further connection can be registered before it tears down
	// the ones already tracked.
	acceptDone chan struct{}
}

// NewTCPServer builds a TCPServer. bufSize sizes the per-read pooled buffer
// (spec.md A.1's telemetryServer.bufferSize).
func NewTCPServer(addr string, bufSize, maxConns int, sink Enqueuer, stats *Stats, connectionPolicy *resilience.Policy) *TCPServer {
	return &TCPServer{
		addr:             addr,
		maxConns:         maxConns,
		pool:             frame.NewPool(bufSize),
		sink:             sink,
		stats:            stats,
		connectionPolicy: connectionPolicy,
		sem:              make(chan struct{}, maxConns),
		conns:            make(map[*net.TCPConn]struct{}),
		acceptDone:       make(chan struct{}),
	}
}

// reuseAddrControl sets SO_REUSEADDR on the listening socket before bind, so
// a restarted gateway can rebind the port without waiting out TIME_WAIT.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// ListenAndServe binds the listener and runs the accept loop until Close is
// called. A cancelled ctx does not interrupt a blocked Accept; the loop
// returns on it only when its next accept attempt starts.
func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	defer close(s.acceptDone)

	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ingest: tcp listen %s: %w", s.addr, err)
	}
	tln, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return fmt.Errorf("ingest: tcp listen %s: not a TCP listener", s.addr)
	}
	s.ln = tln

	cclog.Infof("ingest: tcp server listening on %s (max %d concurrent connections)", s.addr, s.maxConns)

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			cclog.Errorf("ingest: tcp accept gave up: %v", err)
			return err
		}

		select {
		case s.sem <- struct{}{}:
			s.registerConn(conn)
			go s.serve(ctx, conn)
		default:
			cclog.Warnf("ingest: refusing %s, at max concurrent connections (%d)", conn.RemoteAddr(), s.maxConns)
			conn.Close()
		}
	}
}

// registerConn and deregisterConn must only be called from the single
// accept-loop goroutine (register) and a session's own serve goroutine
// (deregister): Close relies on acceptDone to know registerConn can no
// longer run before it takes its closing snapshot of conns.
func (s *TCPServer) registerConn(conn *net.TCPConn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	s.connWG.Add(1)
}

func (s *TCPServer) deregisterConn(conn *net.TCPConn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	s.connWG.Done()
}

// accept wraps net.TCPListener.Accept with the Connection resilience
// policy, retrying on transient (non-permanent) net.Error values and
// giving up immediately on anything else, including listener closure.
func (s *TCPServer) accept(ctx context.Context) (*net.TCPConn, error) {
	var conn *net.TCPConn
	err := s.connectionPolicy.Run(ctx, func(ctx context.Context) error {
		c, err := s.ln.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Temporary() { //nolint:staticcheck // Temporary is deprecated but still the right signal for Accept
				return err
			}
			return backoff.Permanent(err)
		}
		conn = c.(*net.TCPConn)
		return nil
	})
	if err != nil {
		var permErr *backoff.PermanentError
		if errors.As(err, &permErr) {
			return nil, permErr.Err
		}
		return nil, err
	}
	return conn, nil
}

// Addr returns the bound listener address, or nil before ListenAndServe has
// completed its bind.
func (s *TCPServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the accept loop, actively closes every live session
// connection, and waits for their serve goroutines to return (spec.md §5
// step 3) before returning — so once Close returns, no session can still
// be calling sink.Enqueue.
func (s *TCPServer) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	<-s.acceptDone

	s.connsMu.Lock()
	conns := make([]*net.TCPConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		c.Close()
	}

	s.connWG.Wait()
	return err
}

func (s *TCPServer) serve(ctx context.Context, conn *net.TCPConn) {
	remote := conn.RemoteAddr().String()
	sess := newSession(remote)

	defer func() {
		conn.Close()
		s.deregisterConn(conn)
		<-s.sem
		s.stats.sessionClosed()
	}()

	if err := conn.SetNoDelay(true); err != nil {
		cclog.Warnf("ingest: tcp %s: SetNoDelay: %v", remote, err)
	}
	if err := conn.SetKeepAlive(true); err != nil {
		cclog.Warnf("ingest: tcp %s: SetKeepAlive: %v", remote, err)
	}
	if err := conn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
		cclog.Warnf("ingest: tcp %s: SetKeepAlivePeriod: %v", remote, err)
	}

	s.stats.sessionOpened()
	cclog.Debugf("ingest: tcp session %s opened from %s", sess.id, remote)

	for {
		buf := s.pool.Get()
		n, err := conn.Read(buf)
		if n > 0 {
			data := buf[:n]
			if tag, ok := inferDeviceTag(data); ok {
				sess.latchDeviceID(tag)
			}
			f := s.pool.NewFrame(buf, n, frame.Source{
				Transport:  "tcp",
				RemoteAddr: remote,
				SessionID:  sess.id,
				DeviceID:   sess.deviceIDOrSessionID(),
			})
			s.stats.messageReceived()
			if enqErr := s.sink.Enqueue(ctx, f); enqErr != nil {
				cclog.Debugf("ingest: tcp session %s: enqueue: %v", sess.id, enqErr)
				return
			}
		} else {
			s.pool.NewFrame(buf, 0, frame.Source{}).Release()
		}

		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				cclog.Debugf("ingest: tcp session %s closed: %v", sess.id, err)
			}
			return
		}
	}
}
