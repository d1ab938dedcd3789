package reactor

import (
	"container/list"
	"time"
)

// IdleEntry is a handle returned by IdleManager.Register, used to Touch
// (reset the idle clock) or Remove a tracked connection.
type IdleEntry struct {
	bucket *idleBucket
	elem   *list.Element
}

type idleItem struct {
	key        any
	lastActive time.Time
	onIdle     func()
}

type idleBucket struct {
	timeout time.Duration
	entries *list.List // list.Element.Value is *idleItem, ordered oldest-first
}

// IdleManager tracks connections grouped by idle timeout, so a
// connection idle for longer than its configured timeout can be closed
// without scanning every connection on every sweep.
//
// Connections sharing a timeout live in one doubly-linked list ordered
// by last-active time; Touch is an O(1) move-to-tail, and Sweep only
// ever has to look at the head of each bucket, since entries are
// monotonically ordered by activity time within a bucket.
type IdleManager struct {
	buckets map[time.Duration]*idleBucket
}

// NewIdleManager creates an empty idle connection manager.
func NewIdleManager() *IdleManager {
	return &IdleManager{buckets: make(map[time.Duration]*idleBucket)}
}

// Register starts tracking key (typically a connection ID) under the
// given idle timeout. onIdle is invoked from Sweep once the connection
// has been untouched for longer than timeout.
func (m *IdleManager) Register(key any, timeout time.Duration, now time.Time, onIdle func()) *IdleEntry {
	b, ok := m.buckets[timeout]
	if !ok {
		b = &idleBucket{timeout: timeout, entries: list.New()}
		m.buckets[timeout] = b
	}
	elem := b.entries.PushBack(&idleItem{key: key, lastActive: now, onIdle: onIdle})
	return &IdleEntry{bucket: b, elem: elem}
}

// Touch resets the idle clock for entry and moves it to the tail of its
// bucket in O(1).
func (e *IdleEntry) Touch(now time.Time) {
	if e == nil || e.elem == nil {
		return
	}
	item := e.elem.Value.(*idleItem)
	item.lastActive = now
	e.bucket.entries.MoveToBack(e.elem)
}

// Remove stops tracking entry, e.g. once its connection closes.
func (e *IdleEntry) Remove() {
	if e == nil || e.elem == nil {
		return
	}
	e.bucket.entries.Remove(e.elem)
	e.elem = nil
}

// Sweep walks every bucket's head, firing onIdle for each entry whose
// lastActive+timeout has passed and rotating it to the tail with its
// clock reset to now (rather than removing it), so a still-registered
// entry fires again every timeout thereafter instead of only once.
// Stops at the first entry still within its timeout (everything after
// it in the list is newer).
func (m *IdleManager) Sweep(now time.Time) {
	for _, b := range m.buckets {
		n := b.entries.Len()
		for i := 0; i < n; i++ {
			front := b.entries.Front()
			if front == nil {
				break
			}
			item := front.Value.(*idleItem)
			if now.Sub(item.lastActive) < b.timeout {
				break
			}
			item.lastActive = now
			b.entries.MoveToBack(front)
			item.onIdle()
		}
	}
}

// idleSweepInterval is how often EventLoop.Run triggers IdleManager.Sweep,
// matching the spec's periodic one-second sweep cadence.
const idleSweepInterval = 1 * time.Second
