package reactor

// Task is a unit of work submitted to an EventLoop or a TaskQueue.
// Runnable must be safe to invoke on whatever goroutine eventually
// drains the queue; for EventLoop-submitted tasks that is always the
// loop's own goroutine.
type Task struct {
	Runnable func()
}
