// Package udp provides non-blocking UDP datagram handling on top of the
// reactor event loop: a stateless Server for connectionless request/reply
// traffic, and a Connection for a connect()-bound datagram socket.
package udp

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/halfsync/reactor"
)

// DefaultMaxDatagramSize is the default buffer size for a single recvfrom
// call, large enough for the common unfragmented UDP payload.
const DefaultMaxDatagramSize = 4096

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func setCloexec(fd int) {
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
}

func sockaddrToAddress(sa unix.Sockaddr) reactor.Address {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		a := in4.Addr
		return reactor.NewAddress(a[0], a[1], a[2], a[3], uint16(in4.Port))
	}
	return reactor.Address{}
}

// Server is a stateless, non-blocking UDP socket: reads every inbound
// datagram and invokes a user callback with (server, payload, peerAddr).
type Server struct {
	loop    *reactor.EventLoop
	channel *reactor.Channel
	fd      int
	addr    reactor.Address

	maxDatagramSize int
	reusePort       bool
	onMessage       func(*Server, []byte, reactor.Address)

	closeOnce sync.Once
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithMaxDatagramSize overrides the per-recvfrom buffer size.
func WithMaxDatagramSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxDatagramSize = n
		}
	}
}

// WithReusePort enables SO_REUSEPORT on the bound socket.
func WithReusePort() ServerOption {
	return func(s *Server) { s.reusePort = true }
}

// Listen creates a non-blocking UDP socket bound to host:port on loop,
// invoking onMessage for every datagram received.
func Listen(loop *reactor.EventLoop, host string, port uint16, onMessage func(*Server, []byte, reactor.Address), opts ...ServerOption) (*Server, error) {
	s := &Server{loop: loop, maxDatagramSize: DefaultMaxDatagramSize, onMessage: onMessage}
	for _, opt := range opts {
		opt(s)
	}

	addr, err := resolveBindAddress(host, port)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if s.reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	setCloexec(fd)

	sa := &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.IP()}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("udp: bind %s: %w", addr, err)
	}
	if lsa, err := unix.Getsockname(fd); err == nil {
		addr = sockaddrToAddress(lsa)
	}

	s.fd = fd
	s.addr = addr

	ch := reactor.NewChannel(loop, fd)
	ch.OnReadable = s.onReadable
	s.channel = ch
	if err := ch.EnableReading(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := ch.Attach(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return s, nil
}

// Addr returns the server's bound local address.
func (s *Server) Addr() reactor.Address { return s.addr }

func (s *Server) onReadable() {
	buf := make([]byte, s.maxDatagramSize)
	for {
		n, sa, err := unix.Recvfrom(s.fd, buf, 0)
		if err != nil {
			if isTransient(err) {
				return
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			reactor.Log().Err().Err(err).Log("udp: recvfrom failed")
			return
		}
		if s.onMessage != nil {
			peer := sockaddrToAddress(sa)
			payload := make([]byte, n)
			copy(payload, buf[:n])
			s.onMessage(s, payload, peer)
		}
	}
}

// SendTo issues a single sendto of payload to peer.
func (s *Server) SendTo(peer reactor.Address, payload []byte) error {
	sa := &unix.SockaddrInet4{Port: int(peer.Port()), Addr: peer.IP()}
	return unix.Sendto(s.fd, payload, 0, sa)
}

// Close unregisters and closes the server's socket.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.loop.SubmitInternal(func() {
			_ = s.channel.Detach()
			_ = unix.Close(s.fd)
		})
	})
	return err
}

func resolveBindAddress(host string, port uint16) (reactor.Address, error) {
	if host == "" || host == "0.0.0.0" {
		return reactor.NewAddress(0, 0, 0, 0, port), nil
	}
	return reactor.ParseAddress(fmt.Sprintf("%s:%d", host, port))
}
