package reactor

import (
	"testing"
	"time"
)

func TestIdleManager_SweepFiresExpiredEntries(t *testing.T) {
	m := NewIdleManager()
	base := time.Now()
	fired := false
	m.Register("conn-1", 10*time.Millisecond, base, func() { fired = true })

	m.Sweep(base.Add(5 * time.Millisecond))
	if fired {
		t.Fatal("onIdle fired before the timeout elapsed")
	}

	m.Sweep(base.Add(20 * time.Millisecond))
	if !fired {
		t.Fatal("onIdle did not fire after the timeout elapsed")
	}
}

func TestIdleManager_TouchResetsClock(t *testing.T) {
	m := NewIdleManager()
	base := time.Now()
	fired := false
	entry := m.Register("conn-1", 10*time.Millisecond, base, func() { fired = true })

	entry.Touch(base.Add(8 * time.Millisecond))
	m.Sweep(base.Add(15 * time.Millisecond))
	if fired {
		t.Fatal("onIdle fired even though Touch should have reset the clock")
	}

	m.Sweep(base.Add(19 * time.Millisecond))
	if !fired {
		t.Fatal("onIdle did not fire after the refreshed timeout elapsed")
	}
}

func TestIdleManager_SweepRefiresPeriodicallyWhileStillRegistered(t *testing.T) {
	m := NewIdleManager()
	base := time.Now()
	fireCount := 0
	m.Register("conn-1", 2*time.Second, base, func() { fireCount++ })

	m.Sweep(base.Add(2100 * time.Millisecond))
	if fireCount != 1 {
		t.Fatalf("fireCount = %d after first sweep, want 1", fireCount)
	}

	// A sweep before the rotated clock's next timeout must not refire.
	m.Sweep(base.Add(3 * time.Second))
	if fireCount != 1 {
		t.Fatalf("fireCount = %d after an early sweep, want still 1", fireCount)
	}

	m.Sweep(base.Add(4100 * time.Millisecond))
	if fireCount != 2 {
		t.Fatalf("fireCount = %d after second sweep, want 2 (still registered, so it should refire)", fireCount)
	}
}

func TestIdleManager_RemoveStopsTracking(t *testing.T) {
	m := NewIdleManager()
	base := time.Now()
	fired := false
	entry := m.Register("conn-1", 10*time.Millisecond, base, func() { fired = true })

	entry.Remove()
	m.Sweep(base.Add(time.Second))
	if fired {
		t.Fatal("onIdle fired for a removed entry")
	}
}

func TestIdleManager_MultipleBucketsIndependent(t *testing.T) {
	m := NewIdleManager()
	base := time.Now()
	var firedShort, firedLong bool
	m.Register("short", 10*time.Millisecond, base, func() { firedShort = true })
	m.Register("long", 100*time.Millisecond, base, func() { firedLong = true })

	m.Sweep(base.Add(20 * time.Millisecond))
	if !firedShort {
		t.Fatal("short-timeout entry should have fired")
	}
	if firedLong {
		t.Fatal("long-timeout entry should not have fired yet")
	}
}

func TestIdleEntry_NilSafe(t *testing.T) {
	var e *IdleEntry
	e.Touch(time.Now())
	e.Remove()
}
