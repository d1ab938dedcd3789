package udp

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/halfsync/reactor"
)

// Connection is a connect()-bound UDP datagram socket: after connect(2),
// the kernel filters inbound datagrams to the one peer, so reads and
// writes use plain read/write rather than recvfrom/sendto.
type Connection struct {
	loop    *reactor.EventLoop
	channel *reactor.Channel
	fd      int

	localAddr reactor.Address
	peerAddr  reactor.Address

	maxDatagramSize int

	mu      sync.Mutex
	onMsg   func(*Connection, []byte)
	onError func(*Connection, error)

	closeOnce sync.Once
}

// Connect creates a non-blocking UDP socket, connects it to peer, and
// attaches it to loop.
func Connect(loop *reactor.EventLoop, peer reactor.Address) (*Connection, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	setCloexec(fd)

	sa := &unix.SockaddrInet4{Port: int(peer.Port()), Addr: peer.IP()}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("udp: connect %s: %w", peer, err)
	}

	var local reactor.Address
	if lsa, err := unix.Getsockname(fd); err == nil {
		local = sockaddrToAddress(lsa)
	}

	c := &Connection{
		loop:            loop,
		fd:              fd,
		localAddr:       local,
		peerAddr:        peer,
		maxDatagramSize: DefaultMaxDatagramSize,
	}

	ch := reactor.NewChannel(loop, fd)
	ch.OnReadable = c.onReadable
	ch.OnError = c.onChannelError
	c.channel = ch
	if err := ch.EnableReading(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := ch.Attach(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return c, nil
}

// LocalAddr returns the connection's local socket address.
func (c *Connection) LocalAddr() reactor.Address { return c.localAddr }

// PeerAddr returns the connection's connected peer address.
func (c *Connection) PeerAddr() reactor.Address { return c.peerAddr }

// OnMessage installs the callback fired once per received datagram.
func (c *Connection) OnMessage(fn func(*Connection, []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = fn
}

// OnError installs the callback fired on a fatal socket error.
func (c *Connection) OnError(fn func(*Connection, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Send writes payload to the connected peer via write(2). UDP datagrams
// are all-or-nothing; there is no partial-write buffering as with TCP.
func (c *Connection) Send(payload []byte) error {
	_, err := unix.Write(c.fd, payload)
	return err
}

func (c *Connection) onReadable() {
	buf := make([]byte, c.maxDatagramSize)
	for {
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if isTransient(err) {
				return
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			c.reportError(err)
			return
		}
		c.mu.Lock()
		onMsg := c.onMsg
		c.mu.Unlock()
		if onMsg != nil {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			onMsg(c, payload)
		}
	}
}

func (c *Connection) onChannelError() {
	c.reportError(errors.New("udp: socket error"))
}

func (c *Connection) reportError(err error) {
	c.mu.Lock()
	onErr := c.onError
	c.mu.Unlock()
	if onErr != nil {
		onErr(c, err)
	}
}

// Close unregisters and closes the connection's socket.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.loop.SubmitInternal(func() {
			_ = c.channel.Detach()
			_ = unix.Close(c.fd)
		})
	})
	return err
}
