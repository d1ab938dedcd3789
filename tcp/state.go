package tcp

import "sync/atomic"

// ConnState is a TCP connection's lifecycle state.
//
//	INVALID ──attach()──▶ HANDSHAKING ──writable, SO_ERROR==0──▶ CONNECTED
//	                           │                                     │
//	                     timeout/error                      EOF/error/close()
//	                           ▼                                     ▼
//	                        FAILED                                CLOSED
//	                           └──────── reconnect scheduled ───────┘
type ConnState int32

const (
	StateInvalid ConnState = iota
	StateHandshaking
	StateConnected
	StateFailed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connState is a lock-free CAS state machine for ConnState, grounded in the
// same pattern as reactor.FastState but typed for this package's own state
// set.
type connState struct {
	v atomic.Int32
}

func newConnState(initial ConnState) *connState {
	s := &connState{}
	s.v.Store(int32(initial))
	return s
}

func (s *connState) Load() ConnState { return ConnState(s.v.Load()) }

func (s *connState) Store(state ConnState) { s.v.Store(int32(state)) }

func (s *connState) TryTransition(from, to ConnState) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}

func (s *connState) IsTerminal() bool {
	st := s.Load()
	return st == StateFailed || st == StateClosed
}
