package serverstate

import "sync/atomic"

// Server status values.
const (
	StatusNotReady = "not_ready"
	StatusReady    = "ready"
	StatusDraining = "draining"
)

// State holds the server status and draining flag. Both fields are updated
// together so callers always observe a consistent snapshot.
type State struct {
	Status   string `json:"status"`
	Draining bool   `json:"draining"`
}

// Tracker holds the lifecycle state of one server. It is safe for
// concurrent use.
type Tracker struct {
	v atomic.Value
}

// NewTracker returns a tracker in the not_ready state.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.v.Store(State{Status: StatusNotReady})
	return t
}

// Load returns the current state.
func (t *Tracker) Load() State {
	if st, ok := t.v.Load().(State); ok {
		return st
	}
	return State{Status: "unknown"}
}

// SetStatus updates the status string. A draining tracker stays draining.
func (t *Tracker) SetStatus(status string) {
	for {
		old := t.v.Load()
		st, _ := old.(State)
		if st.Draining {
			return
		}
		st.Status = status
		if t.v.CompareAndSwap(old, st) {
			return
		}
	}
}

// StartDrain marks the server as draining.
func (t *Tracker) StartDrain() {
	t.v.Store(State{Status: StatusDraining, Draining: true})
}

// IsDraining reports whether the server is draining.
func (t *Tracker) IsDraining() bool {
	return t.Load().Draining
}
