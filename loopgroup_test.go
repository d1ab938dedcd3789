package reactor

import (
	"context"
	"testing"
	"time"
)

func TestLoopGroup_NextRoundRobins(t *testing.T) {
	g, err := NewLoopGroup(3)
	if err != nil {
		t.Fatalf("NewLoopGroup: %v", err)
	}
	if g.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", g.Size())
	}

	seen := make(map[int]int)
	for i := 0; i < 9; i++ {
		_, idx := g.Next()
		seen[idx]++
	}
	for i := 0; i < 3; i++ {
		if seen[i] != 3 {
			t.Fatalf("loop %d picked %d times, want 3", i, seen[i])
		}
	}
}

func TestLoopGroup_InvalidSize(t *testing.T) {
	if _, err := NewLoopGroup(0); err == nil {
		t.Fatal("expected error for size 0")
	}
}

func TestLoopGroup_ConnectionCounts(t *testing.T) {
	g, err := NewLoopGroup(2)
	if err != nil {
		t.Fatalf("NewLoopGroup: %v", err)
	}
	g.IncrementConnections(0)
	g.IncrementConnections(0)
	g.IncrementConnections(1)
	g.DecrementConnections(0)

	counts := g.ConnectionCounts()
	if counts[0] != 1 || counts[1] != 1 {
		t.Fatalf("ConnectionCounts() = %v, want [1 1]", counts)
	}
}

func TestLoopGroup_RunAndShutdown(t *testing.T) {
	g, err := NewLoopGroup(2)
	if err != nil {
		t.Fatalf("NewLoopGroup: %v", err)
	}
	ctx := context.Background()
	runDone := make(chan error, 1)
	go func() { runDone <- g.Run(ctx) }()

	done := make(chan struct{})
	loop, _ := g.Next()
	_ = loop.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted task on a LoopGroup loop never ran")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() never returned after Shutdown")
	}
}
