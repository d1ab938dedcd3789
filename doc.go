// Package reactor implements a single-process, multi-threaded reactor
// pattern network I/O core: a platform event loop (epoll on Linux, kqueue
// on Darwin/BSD) driving non-blocking TCP and UDP sockets, timers, idle
// connection management, and cross-thread task injection.
//
// # Architecture
//
// Each [EventLoop] owns exactly one OS thread and a single poller instance.
// Channels (file descriptor registrations), timers, and cross-thread task
// submission are all funneled through the loop so that every callback it
// invokes runs on that one goroutine, giving connection-level code a
// single-threaded programming model without locks.
//
// A [LoopGroup] pools multiple EventLoops and assigns new connections to
// them round-robin, so a multi-core machine can still parallelize across
// independent connections.
//
// # Layering
//
//   - L0: [FastPoller] (epoll/kqueue), [Address], [Buffer]
//   - L1: [EventLoop], [TaskQueue], timers, [Channel]
//   - L2: [LoopGroup], idle connection management
//   - L3 (subpackages): reactor/codec (framing), reactor/tcp, reactor/udp
//   - L4 (subpackages): reactor/pool (worker pool), reactor/hsha (half-sync/
//     half-async server composition)
//
// # Concurrency
//
// [EventLoop.Submit] and [EventLoop.SubmitInternal] are safe to call from
// any goroutine. Timer scheduling and channel registration are only safe
// from the loop's own goroutine (connection and server code is always
// invoked there). [TaskQueue] is a bounded MPMC queue usable independently
// of the loop, e.g. as the work queue behind a worker pool.
package reactor
