package reactor

import "sync/atomic"

var channelIDCounter atomic.Uint64

// Channel binds a single file descriptor to an EventLoop, dispatching
// readable/writable/error events to user-supplied handlers. TCP and UDP
// connections are built on top of a Channel; codec framing and
// connection state machines live above this layer.
//
// A Channel is only ever touched from its owning loop's goroutine once
// registered, matching the reactor pattern's single-threaded callback
// guarantee.
type Channel struct {
	id   uint64
	loop *EventLoop
	fd   int

	events IOEvents

	OnReadable func()
	OnWritable func()
	OnError    func()
	OnHangup   func()

	registered bool
}

// NewChannel creates an unregistered Channel for fd on loop. Call
// Attach to register it with the poller.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		id:   channelIDCounter.Add(1),
		loop: loop,
		fd:   fd,
	}
}

// ID returns the channel's process-unique identifier, useful for log
// correlation.
func (c *Channel) ID() uint64 { return c.id }

// FD returns the underlying file descriptor.
func (c *Channel) FD() int { return c.fd }

// EnableReading registers interest in readability, in addition to any
// existing interest.
func (c *Channel) EnableReading() error { return c.setEvents(c.events | EventRead) }

// EnableWriting registers interest in writability, in addition to any
// existing interest.
func (c *Channel) EnableWriting() error { return c.setEvents(c.events | EventWrite) }

// DisableWriting removes interest in writability. Connections call this
// once their outbound buffer drains, to avoid a storm of spurious
// writable notifications (the classic epoll level-triggered pitfall).
func (c *Channel) DisableWriting() error { return c.setEvents(c.events &^ EventWrite) }

// IsWriting reports whether writability interest is currently enabled.
func (c *Channel) IsWriting() bool { return c.events&EventWrite != 0 }

func (c *Channel) setEvents(events IOEvents) error {
	if !c.registered {
		c.events = events
		return nil
	}
	if err := c.loop.ModifyFD(c.fd, events); err != nil {
		return err
	}
	c.events = events
	return nil
}

// Attach registers the channel with the loop's poller for the events
// enabled so far, or for readability if none are.
func (c *Channel) Attach() error {
	if c.registered {
		return nil
	}
	events := c.events
	if events == 0 {
		events = EventRead
	}
	if err := c.loop.RegisterFD(c.fd, events, c.dispatch); err != nil {
		return err
	}
	c.registered = true
	c.events = events
	return nil
}

// Detach unregisters the channel from the poller. It does not close the
// underlying fd; callers close it separately once detached.
func (c *Channel) Detach() error {
	if !c.registered {
		return nil
	}
	if err := c.loop.UnregisterFD(c.fd); err != nil {
		return err
	}
	c.registered = false
	return nil
}

func (c *Channel) dispatch(events IOEvents) {
	if events&(EventError) != 0 && c.OnError != nil {
		c.OnError()
		return
	}
	if events&EventHangup != 0 && c.OnHangup != nil {
		c.OnHangup()
	}
	if events&EventRead != 0 && c.OnReadable != nil {
		c.OnReadable()
	}
	if events&EventWrite != 0 && c.OnWritable != nil {
		c.OnWritable()
	}
}
