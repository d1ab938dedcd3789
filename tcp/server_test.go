package tcp

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halfsync/reactor"
	"github.com/halfsync/reactor/codec"
)

func TestServer_AcceptAndEchoLines(t *testing.T) {
	acceptLoop, err := reactor.New()
	require.NoError(t, err)
	workers, err := reactor.NewLoopGroup(2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = acceptLoop.Run(ctx) }()
	go func() { _ = workers.Run(ctx) }()

	srv, err := Listen(acceptLoop, workers, "127.0.0.1", 0, WithCodec(codec.NewLineCodec()))
	require.NoError(t, err)
	defer srv.Close()

	srv.OnConnect(func(conn *Connection) {
		conn.OnMessage(conn.codec, func(c *Connection, frame []byte) {
			echoed := append([]byte{}, frame...)
			require.NoError(t, c.SendMessage(echoed))
		})
	})

	addr := srv.Addr()
	rawConn, err := net.Dial("tcp", net.JoinHostPort(addr.TCPAddr().IP.String(), strconv.Itoa(int(addr.Port()))))
	require.NoError(t, err)
	defer rawConn.Close()

	_, err = rawConn.Write([]byte("ping\r\n"))
	require.NoError(t, err)

	reply, err := bufio.NewReader(rawConn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ping", strings.TrimRight(reply, "\r\n"))
}

func TestServer_IdleTimeoutClosesConnection(t *testing.T) {
	acceptLoop, err := reactor.New()
	require.NoError(t, err)
	workers, err := reactor.NewLoopGroup(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = acceptLoop.Run(ctx) }()
	go func() { _ = workers.Run(ctx) }()

	srv, err := Listen(acceptLoop, workers, "127.0.0.1", 0, WithIdleTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer srv.Close()

	addr := srv.Addr()
	rawConn, err := net.Dial("tcp", net.JoinHostPort(addr.TCPAddr().IP.String(), strconv.Itoa(int(addr.Port()))))
	require.NoError(t, err)
	defer rawConn.Close()

	_ = rawConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = rawConn.Read(buf)
	require.Error(t, err)
}
