// Package hsha composes a tcp.Server with a pool.WorkerPool, implementing
// the half-sync/half-async pattern: connection I/O and framing run on the
// event loop, the user's handler runs on the worker pool, and the
// response is sent back on the owning loop. It does not compose a
// udp.Server.
package hsha

import (
	"time"

	"github.com/halfsync/reactor"
	"github.com/halfsync/reactor/codec"
	"github.com/halfsync/reactor/pool"
	"github.com/halfsync/reactor/tcp"
)

// Handler processes one decoded frame from conn and returns the response
// payload to send back, or a nil response to send nothing.
type Handler func(conn *tcp.Connection, frame []byte) []byte

// Server composes a tcp.Server with a worker pool: the installed
// OnMessage callback (on the connection's loop) copies the frame to a
// worker-owned buffer and submits handler to the pool; the worker's
// response is scheduled back onto the connection's own loop via
// reactor.EventLoop.Submit, and only sent if the connection is still
// StateConnected by the time that runs.
type Server struct {
	tcpServer *tcp.Server
	pool      *pool.WorkerPool
	handler   Handler
}

// Listen starts a half-sync/half-async TCP server: framing via cdc on
// workers (the accept loop and one LoopGroup for connection I/O),
// handler execution on a pool of n worker goroutines.
func Listen(acceptLoop *reactor.EventLoop, ioWorkers *reactor.LoopGroup, host string, port uint16, cdc codec.Codec, n int, handler Handler, opts ...tcp.ServerOption) (*Server, error) {
	p, err := pool.New(n, 0)
	if err != nil {
		return nil, err
	}
	p.Start()

	s := &Server{pool: p, handler: handler}

	srv, err := tcp.Listen(acceptLoop, ioWorkers, host, port, opts...)
	if err != nil {
		p.Close()
		p.Join()
		return nil, err
	}
	s.tcpServer = srv

	srv.OnConnect(func(conn *tcp.Connection) {
		conn.OnMessage(cdc.Clone(), s.onMessage)
	})

	return s, nil
}

func (s *Server) onMessage(conn *tcp.Connection, frame []byte) {
	owned := make([]byte, len(frame))
	copy(owned, frame)

	loop := conn.Loop()
	err := s.pool.Submit(func() {
		resp := s.handler(conn, owned)
		if resp == nil {
			return
		}
		_ = loop.Submit(func() {
			if conn.State() == tcp.StateConnected {
				_ = conn.SendMessage(resp)
			}
		})
	})
	if err != nil {
		reactor.Log().Err().Err(err).Log("hsha: failed to submit handler to worker pool")
	}
}

// Addr returns the server's bound local address.
func (s *Server) Addr() reactor.Address { return s.tcpServer.Addr() }

// Close stops accepting new connections and drains the worker pool,
// waiting up to timeout for in-flight handler invocations to finish.
func (s *Server) Close(timeout time.Duration) error {
	err := s.tcpServer.Close()
	s.pool.Close()

	done := make(chan struct{})
	go func() {
		s.pool.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
	return err
}
