// Package tcp provides a non-blocking TCP connection and server built on
// top of the reactor event loop: a handshake/connected/closed state
// machine, buffered send/receive, pluggable framing via reactor/codec, and
// automatic reconnect for client connections.
package tcp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/halfsync/reactor"
	"github.com/halfsync/reactor/codec"
)

// Standard connection errors.
var (
	ErrNoChannel        = errors.New("tcp: connection has no channel")
	ErrNoCodec          = errors.New("tcp: SendMessage requires a codec installed via OnMessage")
	ErrInvalidAttach    = errors.New("tcp: attach called with an invalid precondition state")
	ErrConnectFailed    = errors.New("tcp: connect failed")
	ErrHandshakeTimeout = errors.New("tcp: handshake timed out")
)

// Connection is a non-blocking TCP socket bound to an EventLoop, with
// buffered I/O, a state machine, optional framing, and optional automatic
// reconnect when used as a client.
//
// Callback fields and reconnect parameters may be set from any goroutine
// (guarded by mu); all actual I/O, including Close, is always performed on
// the owning EventLoop's goroutine.
type Connection struct { // betteralign:ignore
	id uuid.UUID

	loop    *reactor.EventLoop
	channel *reactor.Channel
	fd      int

	inputBuf  *reactor.Buffer
	outputBuf *reactor.Buffer

	localAddr reactor.Address
	peerAddr  reactor.Address

	state *connState

	mu         sync.Mutex
	onState    func(*Connection, ConnState)
	onReadable func(*Connection)
	onWritable func(*Connection)
	onMessage  func(*Connection, []byte)
	codec      codec.Codec

	idle        *reactor.IdleManager
	idleEntry   *reactor.IdleEntry
	idleTimeout time.Duration

	handshakeTimer    reactor.TimerID
	hasHandshakeTimer bool

	connectTimeout    time.Duration
	reconnectInterval time.Duration
	hasReconnect      bool
	connectedAt       time.Time

	targetHost  string
	targetPort  uint16
	localBindIP string

	// onTerminal is an internal hook fired alongside onState on every
	// terminal transition, for bookkeeping (e.g. Server's per-loop
	// connection counts) that must survive the public callback being
	// replaced via OnStateChange.
	onTerminal func(*Connection, ConnState)
}

// NewConnection creates an unattached Connection. Call Attach (for a
// server-accepted socket) or Connect (for a client) to bring it to life.
func NewConnection(loop *reactor.EventLoop) *Connection {
	return &Connection{
		id:                uuid.New(),
		loop:              loop,
		inputBuf:          reactor.NewBuffer(0),
		outputBuf:         reactor.NewBuffer(0),
		state:             newConnState(StateInvalid),
		reconnectInterval: -1,
	}
}

// ID returns the connection's correlation UUID, stable across reconnects,
// for log correlation independent of the per-attach Channel ID.
func (c *Connection) ID() uuid.UUID { return c.id }

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState { return c.state.Load() }

// Loop returns the EventLoop the connection is bound to, so callers (e.g.
// reactor/hsha) can schedule a response back onto the right thread after
// off-loop work completes.
func (c *Connection) Loop() *reactor.EventLoop { return c.loop }

// LocalAddr returns the local socket address.
func (c *Connection) LocalAddr() reactor.Address { return c.localAddr }

// PeerAddr returns the remote socket address.
func (c *Connection) PeerAddr() reactor.Address { return c.peerAddr }

// OnStateChange installs the state-transition callback, invoked once per
// terminal transition (to Failed or Closed) and once on reaching
// Connected.
func (c *Connection) OnStateChange(fn func(*Connection, ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// OnMessage installs cdc (used as given, not cloned) and a callback fired
// once per successfully decoded frame. Installing this
// replaces any raw OnReadable callback.
func (c *Connection) OnMessage(cdc codec.Codec, fn func(*Connection, []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codec = cdc
	c.onMessage = fn
	c.onReadable = nil
}

// OnReadable installs a raw readable callback, invoked whenever the input
// buffer has unread bytes and no codec-driven OnMessage handler is
// installed.
func (c *Connection) OnReadable(fn func(*Connection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReadable = fn
	c.onMessage = nil
}

// OnWritableCallback installs a callback fired whenever the output buffer
// transitions from non-empty to empty.
func (c *Connection) OnWritableCallback(fn func(*Connection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWritable = fn
}

// SetIdleTimeout registers the connection with manager under timeout,
// closing it (via the onIdle callback) if it becomes the head of an expired
// bucket. A zero timeout disables idle tracking.
func (c *Connection) SetIdleTimeout(manager *reactor.IdleManager, timeout time.Duration) {
	c.idle = manager
	c.idleTimeout = timeout
	if manager != nil && timeout > 0 {
		c.idleEntry = manager.Register(c.id, timeout, c.loop.CurrentTickTime(), func() {
			reactor.Log().Info().Str("conn_id", c.id.String()).Log("tcp: closing idle connection")
			c.closeLocked()
		})
	}
}

// SetReconnect configures automatic reconnect for a client connection.
// interval < 0 disables reconnect (default); interval == 0 reconnects
// immediately on failure; interval > 0 waits out whatever remains of
// interval since the connection last reached Connected (a connection that
// never did reconnects at once).
func (c *Connection) SetReconnect(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectInterval = interval
}

// Attach binds fd (already a valid, non-blocking socket) to the connection
// and transitions it to Handshaking, arming both read and write interest
// so the handshake completion check runs on the first writable event.
//
// For server-accepted sockets, the connection must be in StateInvalid. For
// client sockets mid-connect, it is already StateHandshaking (Connect calls
// Attach internally).
func (c *Connection) Attach(fd int, local, peer reactor.Address) error {
	st := c.state.Load()
	if st != StateInvalid && st != StateHandshaking {
		return fmt.Errorf("%w: state=%s", ErrInvalidAttach, st)
	}

	c.fd = fd
	c.localAddr = local
	c.peerAddr = peer
	c.state.Store(StateHandshaking)

	ch := reactor.NewChannel(c.loop, fd)
	ch.OnReadable = c.onChannelReadable
	ch.OnWritable = c.onChannelWritable
	ch.OnError = c.onChannelError
	ch.OnHangup = c.onChannelError
	c.channel = ch

	if err := ch.EnableReading(); err != nil {
		return err
	}
	if err := ch.EnableWriting(); err != nil {
		return err
	}
	return ch.Attach()
}

// Connect creates a non-blocking client socket, optionally binds localIP,
// issues connect() (EINPROGRESS is expected), and attaches. If timeout > 0,
// a handshake timer forces the connection to Failed if still Handshaking
// once it fires.
// Connect creates a Connection and submits the actual socket/connect/attach
// work onto loop's goroutine, so fd registration never races the poller.
// Synchronous setup failures (bad address, socket(2) failure) surface
// through the OnStateChange callback as a transition to StateFailed,
// exactly like an asynchronous connect failure would.
func Connect(loop *reactor.EventLoop, host string, port uint16, timeout time.Duration, localIP string) (*Connection, error) {
	c := NewConnection(loop)
	c.targetHost = host
	c.targetPort = port
	c.localBindIP = localIP
	c.connectTimeout = timeout
	if err := loop.Submit(func() {
		if err := c.doConnect(); err != nil {
			c.cleanup(err)
		}
	}); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) doConnect() error {
	addr, err := reactor.ParseAddress(fmt.Sprintf("%s:%d", c.targetHost, c.targetPort))
	if err != nil {
		return err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return err
	}
	setCloexec(fd)

	var local reactor.Address
	if c.localBindIP != "" {
		localAddr, err := reactor.ParseAddress(fmt.Sprintf("%s:0", c.localBindIP))
		if err == nil {
			sa := &unix.SockaddrInet4{Port: int(localAddr.Port()), Addr: localAddr.IP()}
			if err := unix.Bind(fd, sa); err != nil {
				_ = unix.Close(fd)
				return err
			}
		}
	}

	c.state.Store(StateHandshaking)

	sa := &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.IP()}
	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	if lsa, err := unix.Getsockname(fd); err == nil {
		local = sockaddrToAddress(lsa)
	}

	if err := c.Attach(fd, local, addr); err != nil {
		return err
	}

	if c.connectTimeout > 0 {
		c.handshakeTimer = c.loop.ScheduleTimer(c.connectTimeout, func() {
			if c.state.Load() == StateHandshaking {
				c.cleanup(ErrHandshakeTimeout)
			}
		})
		c.hasHandshakeTimer = true
	}
	return nil
}

// Send writes bytes to the connection, buffering any residual that a
// non-blocking write can't accept immediately and arming write interest.
// If no channel is attached, the bytes are silently dropped (logged).
func (c *Connection) Send(data []byte) {
	if c.channel == nil {
		reactor.Log().Warning().Str("conn_id", c.id.String()).Log("tcp: send on connection with no channel, dropping")
		return
	}

	if c.outputBuf.Len() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil && !isTransient(err) {
			c.cleanup(err)
			return
		}
		if n < len(data) {
			if n < 0 {
				n = 0
			}
			c.outputBuf.Append(data[n:])
			_ = c.channel.EnableWriting()
		}
		return
	}

	c.outputBuf.Append(data)
	_ = c.channel.EnableWriting()
}

// SendMessage encodes frame via the installed codec and sends it.
func (c *Connection) SendMessage(frame []byte) error {
	c.mu.Lock()
	cdc := c.codec
	c.mu.Unlock()
	if cdc == nil {
		return ErrNoCodec
	}

	encoded, err := cdc.Encode(nil, frame)
	if err != nil {
		return err
	}
	c.Send(encoded)
	return nil
}

// Close schedules the connection's channel to close on the owning loop.
// Safe to call from any goroutine.
func (c *Connection) Close() {
	if c.loop == nil {
		return
	}
	_ = c.loop.SubmitInternal(func() {
		c.closeLocked()
	})
}

func (c *Connection) closeLocked() {
	if c.state.IsTerminal() {
		return
	}
	c.cleanup(nil)
}

func (c *Connection) onChannelReadable() {
	if c.state.Load() == StateHandshaking {
		c.driveHandshake()
		return
	}
	if c.state.Load() != StateConnected {
		return
	}

	for {
		buf := c.inputBuf.Reserve(4096)
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			c.inputBuf.Commit(n)
		}
		if err != nil {
			if isTransient(err) {
				c.onReadQuiesced()
				return
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			c.cleanup(err)
			return
		}
		if n == 0 {
			c.cleanup(nil)
			return
		}
	}
}

func (c *Connection) onReadQuiesced() {
	if c.idleEntry != nil {
		c.idleEntry.Touch(c.loop.CurrentTickTime())
	}
	c.dispatchInput()
}

func (c *Connection) dispatchInput() {
	c.mu.Lock()
	cdc := c.codec
	onMsg := c.onMessage
	onRead := c.onReadable
	c.mu.Unlock()

	if cdc != nil && onMsg != nil {
		for c.inputBuf.Len() > 0 {
			n, frame, err := cdc.TryDecode(c.inputBuf.Bytes())
			if err != nil {
				c.inputBuf.Reset()
				c.cleanup(err)
				return
			}
			if n == 0 {
				break
			}
			onMsg(c, frame)
			c.inputBuf.Consume(n)
		}
		return
	}

	if onRead != nil && c.inputBuf.Len() > 0 {
		onRead(c)
	}
}

func (c *Connection) onChannelWritable() {
	if c.state.Load() == StateHandshaking {
		c.driveHandshake()
		return
	}
	if c.state.Load() != StateConnected {
		return
	}

	if c.outputBuf.Len() > 0 {
		n, err := unix.Write(c.fd, c.outputBuf.Bytes())
		if n > 0 {
			c.outputBuf.Consume(n)
		}
		if err != nil && !isTransient(err) && !errors.Is(err, unix.EINTR) {
			c.cleanup(err)
			return
		}
	}

	if c.outputBuf.Len() == 0 && c.channel.IsWriting() {
		_ = c.channel.DisableWriting()
		c.mu.Lock()
		onWrite := c.onWritable
		c.mu.Unlock()
		if onWrite != nil {
			onWrite(c)
		}
	}
}

func (c *Connection) onChannelError() {
	c.cleanup(errors.New("tcp: socket error or hangup"))
}

// driveHandshake polls the fd's SO_ERROR once; POLLOUT with SO_ERROR==0
// means the connect succeeded.
func (c *Connection) driveHandshake() {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		c.cleanup(fmt.Errorf("%w: errno=%d", ErrConnectFailed, errno))
		return
	}

	if c.hasHandshakeTimer {
		c.loop.CancelTimer(c.handshakeTimer)
		c.hasHandshakeTimer = false
	}

	c.state.Store(StateConnected)
	c.connectedAt = c.loop.CurrentTickTime()
	_ = c.channel.DisableWriting()

	c.mu.Lock()
	onState := c.onState
	c.mu.Unlock()
	if onState != nil {
		onState(c, StateConnected)
	}
}

// cleanup runs the connection's terminal transition: fires any pending
// readable callback one last time, transitions to Failed (from
// Handshaking, or on an error before attach) or Closed, cancels the
// handshake timer, fires the state
// callback, and either schedules a reconnect (keeping the fd's logical
// slot alive) or fully tears down the channel and socket.
func (c *Connection) cleanup(cause error) {
	prevState := c.state.Load()
	if prevState == StateFailed || prevState == StateClosed {
		return
	}

	c.dispatchInput()
	if c.state.IsTerminal() {
		return
	}

	var next ConnState
	if prevState == StateConnected || (cause == nil && prevState != StateHandshaking) {
		next = StateClosed
	} else {
		next = StateFailed
	}
	c.state.Store(next)

	if c.hasHandshakeTimer {
		c.loop.CancelTimer(c.handshakeTimer)
		c.hasHandshakeTimer = false
	}

	if cause != nil {
		reactor.Log().Debug().Str("conn_id", c.id.String()).Err(cause).Log("tcp: connection terminated")
	}

	c.mu.Lock()
	onState := c.onState
	reconnectInterval := c.reconnectInterval
	c.mu.Unlock()
	if c.onTerminal != nil {
		c.onTerminal(c, next)
	}
	if onState != nil {
		onState(c, next)
	}

	if reconnectInterval >= 0 && c.targetPort > 0 && c.loop.State() != reactor.StateTerminated {
		c.scheduleReconnect(reconnectInterval)
		return
	}

	c.teardown()
}

func (c *Connection) scheduleReconnect(interval time.Duration) {
	c.hasReconnect = true
	elapsed := c.loop.CurrentTickTime().Sub(c.connectedAt)
	wait := interval - elapsed
	if wait < 0 {
		wait = 0
	}
	c.loop.ScheduleTimer(wait, func() {
		c.hasReconnect = false
		if err := c.doConnect(); err != nil {
			reactor.Log().Err().Str("conn_id", c.id.String()).Err(err).Log("tcp: reconnect attempt failed")
		}
	})
}

func (c *Connection) teardown() {
	if c.idleEntry != nil {
		c.idleEntry.Remove()
		c.idleEntry = nil
	}
	if c.channel != nil {
		_ = c.channel.Detach()
		_ = unix.Close(c.fd)
		c.channel = nil
	}

	c.mu.Lock()
	c.onState = nil
	c.onReadable = nil
	c.onWritable = nil
	c.onMessage = nil
	c.mu.Unlock()
}
