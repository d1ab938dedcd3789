package tcp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-catrate"

	"github.com/halfsync/reactor"
	"github.com/halfsync/reactor/codec"
)

const listenBacklog = 20

// ErrServerClosed names the condition of a Server that has been closed.
// No Server method returns it; a repeated Close returns nil.
var ErrServerClosed = errors.New("tcp: server closed")

// ServerOption configures a Server at construction time.
type ServerOption interface {
	applyServer(*serverOptions)
}

type serverOptions struct {
	reusePort         bool
	idleTimeout       time.Duration
	codec             codec.Codec
	connectionFactory func(loop *reactor.EventLoop) *Connection
	acceptRateLimiter *catrate.Limiter
}

type serverOptionFunc func(*serverOptions)

func (f serverOptionFunc) applyServer(o *serverOptions) { f(o) }

// WithReusePort enables SO_REUSEPORT on the listening socket, letting
// multiple processes (or multiple Servers) load-balance the same port at
// the kernel level.
func WithReusePort() ServerOption {
	return serverOptionFunc(func(o *serverOptions) { o.reusePort = true })
}

// WithIdleTimeout closes accepted connections idle for longer than d. Zero
// (the default) disables idle tracking.
func WithIdleTimeout(d time.Duration) ServerOption {
	return serverOptionFunc(func(o *serverOptions) { o.idleTimeout = d })
}

// WithCodec installs cdc as the framing codec for accepted connections.
// Each accepted Connection receives its own Clone() of cdc, which
// SendMessage uses. Frames are only decoded and delivered once a callback
// is installed with OnMessage, which replaces the codec with the one it is
// given.
func WithCodec(cdc codec.Codec) ServerOption {
	return serverOptionFunc(func(o *serverOptions) { o.codec = cdc })
}

// WithConnectionFactory overrides how accepted connections are
// constructed, e.g. to return a type embedding *Connection with extra
// application state.
func WithConnectionFactory(factory func(loop *reactor.EventLoop) *Connection) ServerOption {
	return serverOptionFunc(func(o *serverOptions) { o.connectionFactory = factory })
}

// WithAcceptRateLimit caps accepted connections to perSecond per second,
// per peer IP, backed by github.com/joeycumines/go-catrate's multi-window
// limiter. Connections rejected by the limiter are accepted then
// immediately closed, since the kernel has already completed the
// three-way handshake by the time accept(2) returns it.
func WithAcceptRateLimit(perSecond int) ServerOption {
	return serverOptionFunc(func(o *serverOptions) {
		if perSecond <= 0 {
			return
		}
		o.acceptRateLimiter = catrate.NewLimiter(map[time.Duration]int{
			time.Second: perSecond,
		})
	})
}

// Server listens on a TCP address, accepting connections on one
// designated loop and dispatching each accepted connection to a worker
// loop chosen round-robin from a LoopGroup.
type Server struct {
	acceptLoop *reactor.EventLoop
	workers    *reactor.LoopGroup

	listenFD int
	channel  *reactor.Channel
	addr     reactor.Address

	opts serverOptions

	onConnect func(*Connection)

	closeOnce sync.Once
	closed    bool
}

// Listen creates a non-blocking listening socket bound to host:port,
// registers its accept loop on acceptLoop, and dispatches accepted
// connections round-robin across workers.
func Listen(acceptLoop *reactor.EventLoop, workers *reactor.LoopGroup, host string, port uint16, opts ...ServerOption) (*Server, error) {
	var o serverOptions
	for _, opt := range opts {
		opt.applyServer(&o)
	}

	addr, err := resolveBindAddress(host, port)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if o.reusePort {
		if err := setReusePort(fd); err != nil {
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
		return nil, fmt.Errorf("tcp: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}

	if lsa, err := unix.Getsockname(fd); err == nil {
		addr = sockaddrToAddress(lsa)
	}

	s := &Server{
		acceptLoop: acceptLoop,
		workers:    workers,
		listenFD:   fd,
		addr:       addr,
		opts:       o,
	}

	ch := reactor.NewChannel(acceptLoop, fd)
	ch.OnReadable = s.acceptLoopIteration
	s.channel = ch
	if err := ch.EnableReading(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := ch.Attach(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	reactor.Log().Info().Str("addr", addr.String()).Log("tcp: server listening")
	return s, nil
}

// OnConnect installs a callback invoked once per accepted connection, on
// its worker loop, after the connection has been attached and the
// server's codec/idle-timeout options applied. Use it to install
// application-level OnMessage/OnStateChange handlers.
func (s *Server) OnConnect(fn func(*Connection)) { s.onConnect = fn }

// Addr returns the server's bound local address.
func (s *Server) Addr() reactor.Address { return s.addr }

func (s *Server) acceptLoopIteration() {
	for {
		fd, sa, err := unix.Accept(s.listenFD)
		if err != nil {
			if isTransient(err) {
				return
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			reactor.Log().Err().Err(err).Log("tcp: accept failed")
			return
		}

		peer := sockaddrToAddress(sa)

		if s.opts.acceptRateLimiter != nil {
			ip := peer.IP()
			if _, ok := s.opts.acceptRateLimiter.Allow(fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])); !ok {
				_ = unix.Close(fd)
				continue
			}
		}

		_ = unix.SetNonblock(fd, true)
		setCloexec(fd)

		var local reactor.Address
		if lsa, err := unix.Getsockname(fd); err == nil {
			local = sockaddrToAddress(lsa)
		}

		workerLoop, idx := s.workers.Next()
		s.dispatch(workerLoop, idx, fd, local, peer)
	}
}

func (s *Server) dispatch(workerLoop *reactor.EventLoop, loopIdx int, fd int, local, peer reactor.Address) {
	err := workerLoop.Submit(func() {
		var conn *Connection
		if s.opts.connectionFactory != nil {
			conn = s.opts.connectionFactory(workerLoop)
		} else {
			conn = NewConnection(workerLoop)
		}

		if err := conn.Attach(fd, local, peer); err != nil {
			reactor.Log().Err().Err(err).Log("tcp: failed to attach accepted connection")
			_ = unix.Close(fd)
			return
		}
		s.workers.IncrementConnections(loopIdx)
		conn.onTerminal = func(*Connection, ConnState) {
			s.workers.DecrementConnections(loopIdx)
		}

		if s.opts.codec != nil {
			conn.codec = s.opts.codec.Clone()
		}
		if s.opts.idleTimeout > 0 {
			conn.SetIdleTimeout(workerLoop.Idle(), s.opts.idleTimeout)
		}

		if s.onConnect != nil {
			s.onConnect(conn)
		}
	})
	if err != nil {
		_ = unix.Close(fd)
	}
}

// Close stops accepting new connections and releases the listening
// socket. In-flight connections are left running; callers that want a
// full graceful drain should track and Close() their own connections.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		err = s.acceptLoop.SubmitInternal(func() {
			_ = s.channel.Detach()
			_ = unix.Close(s.listenFD)
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
