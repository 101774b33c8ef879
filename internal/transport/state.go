package transport

import (
	"sync"
	"time"
)

// State is the lifecycle state of a remote connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is one of the defined constants.
func (s State) IsValid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected, StateClosed, StateFailed:
		return true
	default:
		return false
	}
}

// Transition records a state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// StateCallback is called after the state changes.
type StateCallback func(from, to State)

// maxTransitions bounds the stored transition history.
const maxTransitions = 50

// StateTracker holds the current state of one connection, a bounded history
// of transitions, and change callbacks. The zero value is not usable; use
// NewStateTracker.
type StateTracker struct {
	mu          sync.RWMutex
	state       State
	transitions []Transition
	callbacks   []StateCallback
}

// NewStateTracker returns a tracker in StateDisconnected.
func NewStateTracker() *StateTracker {
	return &StateTracker{state: StateDisconnected}
}

// State returns the current state.
func (t *StateTracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Set moves to newState, recording the transition and firing callbacks when
// the state actually changed. Returns the previous state.
func (t *StateTracker) Set(newState State) State {
	t.mu.Lock()
	old := t.state
	if old == newState {
		t.mu.Unlock()
		return old
	}
	t.state = newState
	t.transitions = append(t.transitions, Transition{From: old, To: newState, Timestamp: time.Now()})
	if len(t.transitions) > maxTransitions {
		t.transitions = t.transitions[len(t.transitions)-maxTransitions:]
	}
	cbs := make([]StateCallback, len(t.callbacks))
	copy(cbs, t.callbacks)
	t.mu.Unlock()

	// Fire outside the lock so callbacks may read the tracker.
	for _, cb := range cbs {
		cb(old, newState)
	}
	return old
}

// Transitions returns a copy of the recorded history, oldest first.
func (t *StateTracker) Transitions() []Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Transition, len(t.transitions))
	copy(out, t.transitions)
	return out
}

// OnChange registers cb to be called on every state change.
func (t *StateTracker) OnChange(cb StateCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}
