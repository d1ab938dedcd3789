package udp

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halfsync/reactor"
)

func TestServer_EchoesDatagrams(t *testing.T) {
	loop, err := reactor.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	var srv *Server
	srv, err = Listen(loop, "127.0.0.1", 0, func(s *Server, payload []byte, peer reactor.Address) {
		echoed := append([]byte{}, payload...)
		_ = s.SendTo(peer, echoed)
	})
	require.NoError(t, err)
	defer srv.Close()

	addr := srv.Addr()
	clientAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(addr.Port())}
	conn, err := net.DialUDP("udp", nil, clientAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestConnection_SendAndReceive(t *testing.T) {
	loop, err := reactor.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	srv, err := Listen(loop, "127.0.0.1", 0, func(s *Server, payload []byte, peer reactor.Address) {
		_ = s.SendTo(peer, payload)
	})
	require.NoError(t, err)
	defer srv.Close()

	peer, err := reactor.ParseAddress("127.0.0.1:" + strconv.Itoa(int(srv.Addr().Port())))
	require.NoError(t, err)

	received := make(chan []byte, 1)
	connCh := make(chan *Connection, 1)
	require.NoError(t, loop.Submit(func() {
		c, err := Connect(loop, peer)
		require.NoError(t, err)
		c.OnMessage(func(_ *Connection, payload []byte) {
			received <- payload
		})
		connCh <- c
	}))

	conn := <-connCh
	defer conn.Close()

	require.NoError(t, loop.Submit(func() {
		require.NoError(t, conn.Send([]byte("hello")))
	}))

	select {
	case payload := <-received:
		require.Equal(t, "hello", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("connection never received the echoed datagram")
	}
}
