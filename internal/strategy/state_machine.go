package strategy

import "sync"

type State string

type Event string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
)

const (
	EventStart Event = "START"
	EventDone  Event = "DONE"
)

// StateMachine tracks the cycle runner. A cycle may only start from Idle,
// which keeps cycles from overlapping.
type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply moves to the next state and reports whether the event was accepted.
func (s *StateMachine) Apply(event Event) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := nextState(s.state, event)
	changed := next != s.state
	s.state = next
	return s.state, changed
}

func nextState(current State, event Event) State {
	switch current {
	case StateIdle:
		if event == EventStart {
			return StateRunning
		}
	case StateRunning:
		if event == EventDone {
			return StateIdle
		}
	}
	return current
}
