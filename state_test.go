package reactor

import "testing"

func TestFastState_TryTransition(t *testing.T) {
	s := NewFastState()
	if s.Load() != StateAwake {
		t.Fatalf("Load() = %v, want StateAwake", s.Load())
	}
	if !s.TryTransition(StateAwake, StateRunning) {
		t.Fatal("TryTransition(Awake, Running) should succeed")
	}
	if s.TryTransition(StateAwake, StateRunning) {
		t.Fatal("TryTransition should fail once the source state no longer matches")
	}
	if s.Load() != StateRunning {
		t.Fatalf("Load() = %v, want StateRunning", s.Load())
	}
}

func TestFastState_IsTerminalAndCanAcceptWork(t *testing.T) {
	s := NewFastState()
	if s.IsTerminal() {
		t.Fatal("fresh state should not be terminal")
	}
	if !s.CanAcceptWork() {
		t.Fatal("Awake state should accept work")
	}
	s.Store(StateTerminated)
	if !s.IsTerminal() {
		t.Fatal("Terminated state should report terminal")
	}
	if s.CanAcceptWork() {
		t.Fatal("Terminated state should not accept work")
	}
}

func TestLoopState_String(t *testing.T) {
	cases := map[LoopState]string{
		StateAwake:       "Awake",
		StateRunning:     "Running",
		StateSleeping:    "Sleeping",
		StateTerminating: "Terminating",
		StateTerminated:  "Terminated",
		LoopState(99):    "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
