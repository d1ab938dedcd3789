package reactor

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// ErrInvalidAddress is returned when an Address cannot be constructed
// from the given input.
var ErrInvalidAddress = errors.New("reactor: invalid address")

// dnsMu serializes DNS resolution process-wide. The teacher's pack has no
// direct analog, but a single global mutex around net.LookupHost mirrors
// how C++ reactors of this style (muduo, handy) serialize gethostbyname
// since it is not reentrant on every platform; Go's resolver is already
// safe for concurrent use, but the spec calls for a single point of
// resolution so behavior (ordering, caching) stays predictable in tests.
var dnsMu sync.Mutex

// Address is an immutable IPv4 socket address: a 32-bit address plus a
// port. Constructing one never blocks on the network unless created via
// NewAddressFromHost, which resolves a hostname.
type Address struct {
	ip    [4]byte
	port  uint16
	valid bool
}

// NewAddress constructs an Address directly from four octets and a port.
func NewAddress(a, b, c, d byte, port uint16) Address {
	return Address{ip: [4]byte{a, b, c, d}, port: port, valid: true}
}

// ParseAddress parses a "host:port" or "ip:port" string. If host is not a
// dotted-quad IPv4 literal, it is resolved via DNS (see NewAddressFromHost).
func ParseAddress(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, portStr)
	}
	if ip4 := net.ParseIP(host).To4(); ip4 != nil {
		return NewAddress(ip4[0], ip4[1], ip4[2], ip4[3], uint16(port)), nil
	}
	return NewAddressFromHost(host, uint16(port))
}

// NewAddressFromHost resolves host (a DNS name) to its first IPv4
// address. Resolution is serialized process-wide via dnsMu.
func NewAddressFromHost(host string, port uint16) (Address, error) {
	dnsMu.Lock()
	addrs, err := net.LookupHost(host)
	dnsMu.Unlock()
	if err != nil {
		return Address{}, fmt.Errorf("%w: resolving %q: %v", ErrInvalidAddress, host, err)
	}
	for _, a := range addrs {
		if ip4 := net.ParseIP(a).To4(); ip4 != nil {
			return NewAddress(ip4[0], ip4[1], ip4[2], ip4[3], port), nil
		}
	}
	return Address{}, fmt.Errorf("%w: %q has no IPv4 address", ErrInvalidAddress, host)
}

// Valid reports whether the address was successfully constructed.
func (a Address) Valid() bool { return a.valid }

// Port returns the port number.
func (a Address) Port() uint16 { return a.port }

// IP returns the 4-byte IPv4 address.
func (a Address) IP() [4]byte { return a.ip }

// String renders the address as "a.b.c.d:port".
func (a Address) String() string {
	if !a.valid {
		return "<invalid>"
	}
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.ip[0], a.ip[1], a.ip[2], a.ip[3], a.port)
}

// TCPAddr converts the Address to a *net.TCPAddr for use with syscalls
// that require one.
func (a Address) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(a.ip[0], a.ip[1], a.ip[2], a.ip[3]), Port: int(a.port)}
}

// UDPAddr converts the Address to a *net.UDPAddr.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(a.ip[0], a.ip[1], a.ip[2], a.ip[3]), Port: int(a.port)}
}
