package hsha

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
	"github.com/halfsync/reactor/tcp"
)

func TestHSHAServer_EchoUppercase(t *testing.T) {
	acceptLoop, err := reactor.New()
	require.NoError(t, err)
	workers, err := reactor.NewLoopGroup(2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = acceptLoop.Run(ctx) }()
	go func() { _ = workers.Run(ctx) }()

	srv, err := Listen(acceptLoop, workers, "127.0.0.1", 0, codec.NewLineCodec(), 4, func(conn *tcp.Connection, frame []byte) []byte {
		return []byte(strings.ToUpper(string(frame)))
	})
	require.NoError(t, err)
	defer srv.Close(time.Second)

	addr := srv.Addr()
	conn, err := net.Dial("tcp", net.JoinHostPort(addr.TCPAddr().IP.String(), strconv.Itoa(int(addr.Port()))))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\r\n"))
	require.NoError(t, err)

	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HELLO", strings.TrimRight(reply, "\r\n"))
}
