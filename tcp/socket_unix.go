//go:build linux || darwin

package tcp

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/halfsync/reactor"
)

// isTransient reports whether err is the kind of non-blocking I/O error
// that simply means "try again later", rather than a real failure.
func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.ENOBUFS)
}

// setCloexec marks fd close-on-exec, best-effort; failures here don't
// affect correctness of the connection itself, only fd leakage across
// exec boundaries.
func setCloexec(fd int) {
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
}

// setReusePort enables SO_REUSEPORT so multiple listeners (in this
// process or another) can bind the same port for kernel-level load
// balancing across accept queues.
func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// sockaddrToAddress converts a raw unix.Sockaddr (as returned by
// Getsockname/Getpeername/Accept) to a reactor.Address. Only IPv4 is
// supported, matching reactor.Address's own IPv4-only model.
func sockaddrToAddress(sa unix.Sockaddr) reactor.Address {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		a := in4.Addr
		return reactor.NewAddress(a[0], a[1], a[2], a[3], uint16(in4.Port))
	}
	return reactor.Address{}
}
