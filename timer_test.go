package reactor

import (
	"testing"
	"time"
)

func TestTimerStore_RunAfterFiresWhenDue(t *testing.T) {
	ts := NewTimerStore()
	now := time.Now()
	fired := false
	ts.RunAfter(now, 10*time.Millisecond, func() { fired = true })

	ts.RunExpired(now.Add(5 * time.Millisecond))
	if fired {
		t.Fatal("timer fired before its deadline")
	}

	ts.RunExpired(now.Add(20 * time.Millisecond))
	if !fired {
		t.Fatal("timer did not fire after its deadline")
	}
}

func TestTimerStore_OrderingByDeadline(t *testing.T) {
	ts := NewTimerStore()
	now := time.Now()
	var order []int
	ts.RunAfter(now, 30*time.Millisecond, func() { order = append(order, 3) })
	ts.RunAfter(now, 10*time.Millisecond, func() { order = append(order, 1) })
	ts.RunAfter(now, 20*time.Millisecond, func() { order = append(order, 2) })

	ts.RunExpired(now.Add(100 * time.Millisecond))
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestTimerStore_CancelOneShot(t *testing.T) {
	ts := NewTimerStore()
	now := time.Now()
	fired := false
	id := ts.RunAfter(now, 10*time.Millisecond, func() { fired = true })

	if !ts.Cancel(id) {
		t.Fatal("Cancel returned false for a live timer")
	}
	ts.RunExpired(now.Add(50 * time.Millisecond))
	if fired {
		t.Fatal("cancelled timer fired")
	}
}

func TestTimerStore_CancelUnknownReturnsFalse(t *testing.T) {
	ts := NewTimerStore()
	if ts.Cancel(TimerID(999)) {
		t.Fatal("Cancel on unknown ID returned true")
	}
}

func TestTimerStore_RunEveryReschedulesAndCancels(t *testing.T) {
	ts := NewTimerStore()
	now := time.Now()
	count := 0
	id := ts.RunEvery(now, 10*time.Millisecond, func() { count++ })
	if id >= 0 {
		t.Fatalf("RunEvery id = %d, want negative", id)
	}

	ts.RunExpired(now.Add(15 * time.Millisecond))
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	ts.RunExpired(now.Add(25 * time.Millisecond))
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	if !ts.Cancel(id) {
		t.Fatal("Cancel on repeating timer returned false")
	}
	ts.RunExpired(now.Add(100 * time.Millisecond))
	if count != 2 {
		t.Fatalf("count = %d after cancel, want unchanged at 2", count)
	}
}

func TestTimerStore_NextDeadlineSkipsCancelled(t *testing.T) {
	ts := NewTimerStore()
	now := time.Now()
	id := ts.RunAfter(now, 10*time.Millisecond, func() {})
	ts.RunAfter(now, 20*time.Millisecond, func() {})

	ts.Cancel(id)
	deadline, ok := ts.NextDeadline()
	if !ok {
		t.Fatal("NextDeadline reported none pending")
	}
	if deadline.UnixMilli() != now.Add(20*time.Millisecond).UnixMilli() {
		t.Fatalf("NextDeadline = %v, want the second timer's deadline", deadline)
	}
}

func TestTimerStore_PanicInCallbackDoesNotCorruptStore(t *testing.T) {
	ts := NewTimerStore()
	now := time.Now()
	ts.RunAfter(now, 10*time.Millisecond, func() { panic("boom") })
	ranAfter := false
	ts.RunAfter(now, 15*time.Millisecond, func() { ranAfter = true })

	ts.RunExpired(now.Add(20 * time.Millisecond))
	if !ranAfter {
		t.Fatal("timer scheduled after a panicking timer did not run")
	}
}
