package reactor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// LoopGroup owns a fixed pool of EventLoops and hands out the next one in
// round-robin order, the way a TCP Server distributes accepted
// connections across worker threads.
type LoopGroup struct {
	loops []*EventLoop
	next  atomic.Uint64

	conns []atomic.Int64 // per-loop connection count, index-aligned with loops

	runOnce  sync.Once
	stopOnce sync.Once
	runErrs  []error
	wg       sync.WaitGroup
}

// NewLoopGroup creates n EventLoops (n must be >= 1), configured with opts.
func NewLoopGroup(n int, opts ...LoopOption) (*LoopGroup, error) {
	if n < 1 {
		return nil, fmt.Errorf("reactor: LoopGroup size must be >= 1, got %d", n)
	}
	g := &LoopGroup{
		loops: make([]*EventLoop, n),
		conns: make([]atomic.Int64, n),
	}
	for i := range g.loops {
		loop, err := New(opts...)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = g.loops[j].Close()
			}
			return nil, err
		}
		g.loops[i] = loop
	}
	return g, nil
}

// Run starts every loop in its own goroutine, each pinned to its own OS
// thread, and blocks until ctx is cancelled and every loop has stopped.
func (g *LoopGroup) Run(ctx context.Context) error {
	var result error
	g.runOnce.Do(func() {
		g.runErrs = make([]error, len(g.loops))
		g.wg.Add(len(g.loops))
		for i, loop := range g.loops {
			i, loop := i, loop
			go func() {
				defer g.wg.Done()
				g.runErrs[i] = loop.Run(ctx)
			}()
		}
		g.wg.Wait()
		for _, err := range g.runErrs {
			if err != nil && err != context.Canceled {
				result = err
				break
			}
		}
	})
	return result
}

// Shutdown gracefully stops every loop in the group.
func (g *LoopGroup) Shutdown(ctx context.Context) error {
	var firstErr error
	g.stopOnce.Do(func() {
		var wg sync.WaitGroup
		errs := make([]error, len(g.loops))
		wg.Add(len(g.loops))
		for i, loop := range g.loops {
			i, loop := i, loop
			go func() {
				defer wg.Done()
				errs[i] = loop.Shutdown(ctx)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil && err != ErrLoopTerminated && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// Next returns the next EventLoop in round-robin order along with its
// index within the group, for use by a Server's accept loop when
// dispatching a freshly accepted connection.
func (g *LoopGroup) Next() (*EventLoop, int) {
	idx := int(g.next.Add(1)-1) % len(g.loops)
	return g.loops[idx], idx
}

// Size returns the number of loops in the group.
func (g *LoopGroup) Size() int { return len(g.loops) }

// Loop returns the loop at index i.
func (g *LoopGroup) Loop(i int) *EventLoop { return g.loops[i] }

// IncrementConnections records a new connection assigned to loop index i.
func (g *LoopGroup) IncrementConnections(i int) { g.conns[i].Add(1) }

// DecrementConnections records a connection closing on loop index i.
func (g *LoopGroup) DecrementConnections(i int) { g.conns[i].Add(-1) }

// ConnectionCounts returns the current connection count for every loop in
// the group, index-aligned, for simple load-balancing diagnostics.
func (g *LoopGroup) ConnectionCounts() []int64 {
	counts := make([]int64, len(g.conns))
	for i := range g.conns {
		counts[i] = g.conns[i].Load()
	}
	return counts
}
