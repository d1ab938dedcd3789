package tcp

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halfsync/reactor"
	"github.com/halfsync/reactor/codec"
)

// startEchoListener runs a bare net.Listener echo server for exercising the
// client-side Connection/Connect path without depending on tcp.Server.
func startEchoListener(t *testing.T) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						_, _ = c.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String(), func() { _ = ln.Close() }
}

func TestConnect_ReachesConnectedState(t *testing.T) {
	addr, closeListener := startEchoListener(t)
	defer closeListener()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	loop, err := reactor.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	stateCh := make(chan ConnState, 4)
	conn, err := Connect(loop, host, uint16(port), time.Second, "")
	require.NoError(t, err)
	conn.OnStateChange(func(_ *Connection, s ConnState) { stateCh <- s })

	select {
	case s := <-stateCh:
		require.Equal(t, StateConnected, s)
	case <-time.After(2 * time.Second):
		t.Fatal("connection never reached StateConnected")
	}
	require.Equal(t, StateConnected, conn.State())
	conn.Close()
}

func TestConnect_FailsAgainstClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	loop, err := reactor.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	stateCh := make(chan ConnState, 4)
	conn, err := Connect(loop, host, uint16(port), time.Second, "")
	require.NoError(t, err)
	conn.OnStateChange(func(_ *Connection, s ConnState) { stateCh <- s })

	select {
	case s := <-stateCh:
		require.Equal(t, StateFailed, s)
	case <-time.After(2 * time.Second):
		t.Fatal("connection never reached StateFailed against a closed port")
	}
}

func TestConnection_SendMessageAndReceive(t *testing.T) {
	addr, closeListener := startEchoListener(t)
	defer closeListener()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	loop, err := reactor.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	connected := make(chan struct{})
	received := make(chan []byte, 1)

	conn, err := Connect(loop, host, uint16(port), time.Second, "")
	require.NoError(t, err)
	conn.OnStateChange(func(c *Connection, s ConnState) {
		if s == StateConnected {
			close(connected)
		}
	})

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never reached StateConnected")
	}

	require.NoError(t, loop.Submit(func() {
		conn.OnMessage(codec.NewLineCodec(), func(_ *Connection, frame []byte) {
			received <- frame
		})
	}))

	require.NoError(t, loop.Submit(func() {
		conn.Send([]byte("hello\n"))
	}))

	select {
	case frame := <-received:
		require.Equal(t, "hello", string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("never received the echoed frame back")
	}
	conn.Close()
}
