package reactor

import (
	"testing"
)

func TestBuffer_AppendAndConsume(t *testing.T) {
	b := NewBuffer(8)
	b.Append([]byte("hello"))
	if got := string(b.Bytes()); got != "hello" {
		t.Fatalf("Bytes() = %q, want %q", got, "hello")
	}
	b.Consume(2)
	if got := string(b.Bytes()); got != "llo" {
		t.Fatalf("Bytes() after Consume = %q, want %q", got, "llo")
	}
}

func TestBuffer_ConsumeAllResetsCursors(t *testing.T) {
	b := NewBuffer(8)
	b.Append([]byte("hi"))
	b.Consume(2)
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}
	b.Append([]byte("again"))
	if got := string(b.Bytes()); got != "again" {
		t.Fatalf("Bytes() = %q, want %q", got, "again")
	}
}

func TestBuffer_ReserveGrowsBeyondCapacity(t *testing.T) {
	b := NewBuffer(4)
	b.Append([]byte("abcd"))
	b.Append([]byte("efgh"))
	if got := string(b.Bytes()); got != "abcdefgh" {
		t.Fatalf("Bytes() = %q, want %q", got, "abcdefgh")
	}
	if b.Cap() < 8 {
		t.Fatalf("Cap() = %d, want >= 8", b.Cap())
	}
}

func TestBuffer_ReserveShiftsWhenUnreadIsSmall(t *testing.T) {
	b := NewBuffer(64)
	b.Append(make([]byte, 60))
	b.Consume(58)
	capBefore := b.Cap()
	b.Append(make([]byte, 10))
	if b.Cap() != capBefore {
		t.Fatalf("Cap() changed from %d to %d, want shift not grow", capBefore, b.Cap())
	}
}

func TestBuffer_Absorb(t *testing.T) {
	a := NewBuffer(8)
	a.Append([]byte("foo"))
	b := NewBuffer(8)
	b.Append([]byte("bar"))

	a.Absorb(b)
	if got := string(a.Bytes()); got != "foobar" {
		t.Fatalf("a.Bytes() = %q, want %q", got, "foobar")
	}
	if b.Len() != 0 {
		t.Fatalf("b.Len() = %d, want 0 after Absorb", b.Len())
	}
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer(8)
	b.Append([]byte("data"))
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Reset", b.Len())
	}
}
