package strategy

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	if sm.State() != StateIdle {
		t.Fatalf("expected %s, got %s", StateIdle, sm.State())
	}
	if state, ok := sm.Apply(EventStart); !ok || state != StateRunning {
		t.Fatalf("expected %s, got %s", StateRunning, state)
	}
	if state, ok := sm.Apply(EventDone); !ok || state != StateIdle {
		t.Fatalf("expected %s, got %s", StateIdle, state)
	}
}

func TestStateMachineRejectsOverlappingStart(t *testing.T) {
	sm := NewStateMachine()
	sm.Apply(EventStart)
	if state, ok := sm.Apply(EventStart); ok || state != StateRunning {
		t.Fatalf("second start should be rejected, got %s ok=%v", state, ok)
	}
}

func TestStateMachineInvalidTransition(t *testing.T) {
	sm := NewStateMachine()
	if state, ok := sm.Apply(EventDone); ok || state != StateIdle {
		t.Fatalf("invalid transition should not change state")
	}
}
