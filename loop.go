package reactor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// Standard EventLoop errors.
var (
	ErrLoopAlreadyRunning = errors.New("reactor: loop is already running")
	ErrLoopTerminated     = errors.New("reactor: loop has been terminated")
	ErrReentrantRun       = errors.New("reactor: cannot call Run() from within the loop")
)

var loopIDCounter atomic.Uint64

// EventLoop is a single-threaded reactor core: one poller instance, one
// timer store, and one task queue, all driven from exactly one goroutine
// pinned to an OS thread once I/O is registered.
//
// Cross-thread submission (Submit/SubmitInternal) is safe from any
// goroutine. Everything else - RegisterFD, ScheduleTimer, channel
// callbacks - only ever runs on the loop goroutine, so connection code
// built on top never needs its own locking.
type EventLoop struct { // betteralign:ignore
	id uint64

	state *FastState

	external *TaskQueue // Submit() - user-facing external work
	internal *TaskQueue // SubmitInternal() - loop-internal priority work

	timers *TimerStore
	idle   *IdleManager

	poller FastPoller

	metrics *Metrics

	stopOnce  sync.Once
	closeOnce sync.Once

	// Wake-up mechanism: pipe-based (Linux: eventfd, Darwin: self-pipe),
	// registered with the poller so a cross-thread Submit() can interrupt
	// a blocking poll.
	wakePipe      int
	wakePipeWrite int
	wakeBuf       [8]byte

	// Fast wakeup channel used when no user I/O FDs are registered, to
	// avoid the ~10us syscall round trip of the pipe for task-only
	// workloads (e.g. a pure worker-pool dispatch loop).
	fastWakeupCh  chan struct{}
	userIOFDCount atomic.Int32

	wakeUpSignalPending atomic.Uint32

	tickAnchorMu sync.RWMutex
	tickAnchor   time.Time

	loopGoroutineID atomic.Uint64
	tickCount       uint64

	loopDone chan struct{}

	lastIdleSweep time.Time

	// OnOverload is invoked if the external queue backlog exceeds the
	// per-tick processing budget.
	OnOverload func(error)
}

// New creates an EventLoop. opts configure metrics, external queue
// capacity, and the rest of loopOptions.
func New(opts ...LoopOption) (*EventLoop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeFd, wakeWriteFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}

	loop := &EventLoop{
		id:       loopIDCounter.Add(1),
		state:    NewFastState(),
		external: NewTaskQueue(cfg.externalQueueCapacity),
		internal: NewTaskQueue(0),
		timers:   NewTimerStore(),
		idle:     NewIdleManager(),

		wakePipe:      wakeFd,
		wakePipeWrite: wakeWriteFd,
		fastWakeupCh:  make(chan struct{}, 1),
		loopDone:      make(chan struct{}),
	}

	if cfg.metricsEnabled {
		loop.metrics = &Metrics{}
	}

	if err := loop.poller.Init(); err != nil {
		_ = closeFD(wakeFd)
		if wakeWriteFd != wakeFd {
			_ = closeFD(wakeWriteFd)
		}
		return nil, err
	}

	if err := loop.poller.RegisterFD(wakeFd, EventRead, func(IOEvents) {
		loop.drainWakeUpPipe()
	}); err != nil {
		_ = loop.poller.Close()
		_ = closeFD(wakeFd)
		if wakeWriteFd != wakeFd {
			_ = closeFD(wakeWriteFd)
		}
		return nil, err
	}

	return loop, nil
}

// ID returns the loop's process-unique identifier.
func (l *EventLoop) ID() uint64 { return l.id }

// Metrics returns the loop's metrics snapshot, or nil if WithMetrics was
// not passed to New.
func (l *EventLoop) Metrics() *Metrics { return l.metrics }

// Run runs the event loop, blocking until ctx is cancelled or Shutdown/
// Close is called. To run in the background: `go loop.Run(ctx)`.
func (l *EventLoop) Run(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	defer close(l.loopDone)

	l.tickAnchorMu.Lock()
	l.tickAnchor = time.Now()
	l.tickAnchorMu.Unlock()
	l.lastIdleSweep = time.Now()

	return l.run(ctx)
}

// Shutdown gracefully stops the loop: the loop goroutine runs every task
// already queued (internal, then external, repeating until both are
// empty) before terminating, and Shutdown returns once that completes or
// ctx expires. Timers that have not fired yet are not run. A loop whose
// Run was never started is terminated directly: its queues are closed
// and tasks already queued in it are not run.
func (l *EventLoop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		result = l.shutdownImpl(ctx)
	})
	if result == nil && l.state.Load() != StateTerminated {
		return ErrLoopTerminated
	}
	return result
}

func (l *EventLoop) shutdownImpl(ctx context.Context) error {
	for {
		current := l.state.Load()
		if current == StateTerminated || current == StateTerminating {
			return ErrLoopTerminated
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.state.Store(StateTerminated)
				l.internal.Close()
				l.external.Close()
				l.closeFDs()
				return nil
			}
			l.doWakeup()
			break
		}
	}

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately terminates the loop without waiting for queues to
// drain.
func (l *EventLoop) Close() error {
	for {
		current := l.state.Load()
		if current == StateTerminated {
			return ErrLoopTerminated
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.state.Store(StateTerminated)
				l.internal.Close()
				l.external.Close()
				l.closeFDs()
				return nil
			}
			if current == StateSleeping {
				l.doWakeup()
			}
			return nil
		}
	}
}

func (l *EventLoop) run(ctx context.Context) error {
	var osThreadLocked bool

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.doWakeup()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	defer func() {
		if osThreadLocked {
			runtime.UnlockOSThread()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			for {
				current := l.state.Load()
				if current == StateTerminating || current == StateTerminated {
					break
				}
				if l.state.TryTransition(current, StateTerminating) {
					if current == StateSleeping {
						l.doWakeup()
					}
					break
				}
			}
			l.drainAndClose()
			return ctx.Err()
		default:
		}

		if l.state.Load() == StateTerminating || l.state.Load() == StateTerminated {
			l.drainAndClose()
			return nil
		}

		if !osThreadLocked {
			runtime.LockOSThread()
			osThreadLocked = true
		}

		l.tick()
	}
}

// tick is a single iteration: run expired timers, drain internal then
// external task queues, sweep idle connections, poll for I/O.
func (l *EventLoop) tick() {
	l.tickCount++

	now := time.Now()
	l.tickAnchorMu.Lock()
	l.tickAnchor = now
	l.tickAnchorMu.Unlock()

	l.timers.RunExpired(now)

	l.drainQueue(l.internal, -1)
	l.drainQueue(l.external, 1024)

	if l.metrics != nil {
		l.metrics.Queue.UpdateInternal(l.internal.Size())
		l.metrics.Queue.UpdateExternal(l.external.Size())
	}

	if now.Sub(l.lastIdleSweep) >= idleSweepInterval {
		l.idle.Sweep(now)
		l.lastIdleSweep = now
	}

	l.poll()
}

// drainQueue pops up to budget tasks (or all of them, if budget<0)
// without blocking, executing each with panic recovery. If more remain
// after budget is exhausted, OnOverload is invoked once.
func (l *EventLoop) drainQueue(q *TaskQueue, budget int) {
	n := 0
	for budget < 0 || n < budget {
		task, ok := q.TryPop()
		if !ok {
			return
		}
		l.safeExecute(task)
		n++
	}
	if q.Size() > 0 && l.OnOverload != nil {
		l.OnOverload(errors.New("reactor: loop overloaded"))
	}
}

func (l *EventLoop) drainAndClose() {
	// Keep draining both queues until a full pass finds nothing, so a
	// task that submits another task during shutdown still runs.
	for {
		drained := false
		for {
			task, ok := l.internal.TryPop()
			if !ok {
				break
			}
			l.safeExecute(task)
			drained = true
		}
		for {
			task, ok := l.external.TryPop()
			if !ok {
				break
			}
			l.safeExecute(task)
			drained = true
		}
		if !drained {
			break
		}
	}

	l.state.Store(StateTerminated)
	l.internal.Close()
	l.external.Close()
	l.closeFDs()
}

// poll blocks for I/O readiness (or a task wakeup) for up to the next
// timer deadline.
func (l *EventLoop) poll() {
	if l.state.Load() != StateRunning {
		return
	}

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	if l.external.Size() > 0 || l.internal.Size() > 0 {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	if l.state.Load() == StateTerminating {
		return
	}

	timeout := l.calculateTimeout()

	if l.userIOFDCount.Load() == 0 {
		l.pollFastMode(timeout)
		return
	}

	start := time.Now()
	_, err := l.poller.PollIO(timeout)
	if l.metrics != nil {
		l.metrics.Latency.Record(time.Since(start))
	}
	if err != nil {
		l.handlePollError(err)
		return
	}
	l.state.TryTransition(StateSleeping, StateRunning)
}

func (l *EventLoop) pollFastMode(timeoutMs int) {
	select {
	case <-l.fastWakeupCh:
		l.wakeUpSignalPending.Store(0)
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	default:
	}

	if timeoutMs == 0 {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	select {
	case <-l.fastWakeupCh:
		timer.Stop()
		l.wakeUpSignalPending.Store(0)
	case <-timer.C:
	}
	l.state.TryTransition(StateSleeping, StateRunning)
}

func (l *EventLoop) handlePollError(err error) {
	err = WrapError("reactor: poll failed, terminating loop", err)
	Log().Err().Uint64("loop_id", l.id).Err(err).Log("reactor: poll failed, terminating loop")
	if l.state.TryTransition(StateSleeping, StateTerminating) {
		l.drainAndClose()
	}
}

func (l *EventLoop) calculateTimeout() int {
	maxDelay := 10 * time.Second
	if deadline, ok := l.timers.NextDeadline(); ok {
		now := time.Now()
		delay := deadline.Sub(now)
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}
	if maxDelay > idleSweepInterval && l.idle != nil {
		maxDelay = idleSweepInterval
	}
	if maxDelay > 0 && maxDelay < time.Millisecond {
		return 1
	}
	return int(maxDelay.Milliseconds())
}

// Submit enqueues a task to run on the loop goroutine, callable from any
// goroutine. Returns ErrLoopTerminated once shutdown has begun (the loop
// is terminating or terminated).
func (l *EventLoop) Submit(fn func()) error {
	if !l.state.CanAcceptWork() {
		return ErrLoopTerminated
	}
	if err := l.external.Push(Task{Runnable: fn}); err != nil {
		return ErrLoopTerminated
	}
	l.wakeIfSleeping()
	return nil
}

// SubmitInternal enqueues a priority task, drained ahead of Submit's
// queue on every tick. Used internally for timer bookkeeping and by
// Channel/Connection code that must guarantee ordering relative to
// external submissions.
func (l *EventLoop) SubmitInternal(fn func()) error {
	if !l.state.CanAcceptWork() {
		return ErrLoopTerminated
	}
	if err := l.internal.Push(Task{Runnable: fn}); err != nil {
		return ErrLoopTerminated
	}
	l.wakeIfSleeping()
	return nil
}

func (l *EventLoop) wakeIfSleeping() {
	if l.userIOFDCount.Load() == 0 {
		select {
		case l.fastWakeupCh <- struct{}{}:
		default:
		}
		return
	}
	if l.state.Load() == StateSleeping {
		if l.wakeUpSignalPending.CompareAndSwap(0, 1) {
			l.doWakeup()
		}
	}
}

func (l *EventLoop) doWakeup() {
	if l.userIOFDCount.Load() == 0 {
		select {
		case l.fastWakeupCh <- struct{}{}:
		default:
		}
		return
	}
	_ = l.submitWakeup()
}

func (l *EventLoop) submitWakeup() error {
	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := writeFD(l.wakePipeWrite, buf)
	return err
}

func (l *EventLoop) drainWakeUpPipe() {
	for {
		_, err := readFD(l.wakePipe, l.wakeBuf[:])
		if err != nil {
			break
		}
	}
	l.wakeUpSignalPending.Store(0)
}

// RegisterFD registers fd for I/O readiness notification, invoking
// callback on the loop goroutine whenever one of events fires.
func (l *EventLoop) RegisterFD(fd int, events IOEvents, callback func(IOEvents)) error {
	err := l.poller.RegisterFD(fd, events, callback)
	if err == nil {
		l.userIOFDCount.Add(1)
		select {
		case l.fastWakeupCh <- struct{}{}:
		default:
		}
		if l.state.Load() == StateSleeping {
			_ = l.submitWakeup()
		}
	}
	return err
}

// UnregisterFD removes fd from I/O monitoring.
func (l *EventLoop) UnregisterFD(fd int) error {
	err := l.poller.UnregisterFD(fd)
	if err == nil {
		l.userIOFDCount.Add(-1)
	}
	return err
}

// ModifyFD updates the events monitored for fd.
func (l *EventLoop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

// Idle returns the loop's IdleManager, for registering connection idle
// timeouts. Only safe to call from the loop goroutine.
func (l *EventLoop) Idle() *IdleManager { return l.idle }

// ScheduleTimer schedules fn to run once after delay, on the loop
// goroutine. Must be called from the loop goroutine.
func (l *EventLoop) ScheduleTimer(delay time.Duration, fn func()) TimerID {
	return l.timers.RunAfter(l.CurrentTickTime(), delay, fn)
}

// ScheduleRepeating schedules fn to run every interval, on the loop
// goroutine. Must be called from the loop goroutine.
func (l *EventLoop) ScheduleRepeating(interval time.Duration, fn func()) TimerID {
	return l.timers.RunEvery(l.CurrentTickTime(), interval, fn)
}

// CancelTimer cancels a timer previously returned by ScheduleTimer or
// ScheduleRepeating.
func (l *EventLoop) CancelTimer(id TimerID) bool {
	return l.timers.Cancel(id)
}

// CurrentTickTime returns the wall-clock time cached at the start of the
// current (or most recently completed) tick, avoiding a syscall for
// callers that don't need sub-tick precision.
func (l *EventLoop) CurrentTickTime() time.Time {
	l.tickAnchorMu.RLock()
	defer l.tickAnchorMu.RUnlock()
	if l.tickAnchor.IsZero() {
		return time.Now()
	}
	return l.tickAnchor
}

// State returns the current loop state.
func (l *EventLoop) State() LoopState { return l.state.Load() }

func (l *EventLoop) safeExecute(t Task) {
	if t.Runnable == nil {
		return
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logPanic("task", l.id, r)
		}
		if l.metrics != nil {
			l.metrics.Latency.Record(time.Since(start))
		}
	}()
	t.Runnable()
}

func (l *EventLoop) closeFDs() {
	l.closeOnce.Do(func() {
		_ = l.poller.Close()
		_ = closeFD(l.wakePipe)
		if l.wakePipeWrite != l.wakePipe {
			_ = closeFD(l.wakePipeWrite)
		}
	})
}

func (l *EventLoop) isLoopThread() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && getGoroutineID() == id
}

// getGoroutineID parses the current goroutine's ID out of its stack
// trace header. Slow and ugly, but this reactor needs to detect re-entrant
// Run() calls without plumbing a context value through every callback.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
