package engine

import "github.com/roach88/offsync/internal/ir"

// Replayed describes an action that reached the server during a drain.
type Replayed struct {
	ActionID  string `json:"action_id"`
	ServerID  string `json:"server_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Report summarises one DrainOnce call.
type Report struct {
	// Skipped is true when another drain was already running. Nothing was
	// attempted.
	Skipped bool `json:"skipped,omitempty"`

	// Offline is true when the drain did not start because the monitor
	// reported offline.
	Offline bool `json:"offline,omitempty"`

	// Attempted counts actions whose replay was started.
	Attempted int `json:"attempted"`

	// Replayed lists completed actions in replay order.
	Replayed []Replayed `json:"replayed,omitempty"`

	// Failures lists actions left queued because of an error.
	Failures []*ReplayError `json:"-"`

	// Deferred counts actions not attempted because connectivity dropped
	// mid-drain.
	Deferred int `json:"deferred,omitempty"`
}

// Clean reports whether every attempted action completed and nothing was
// deferred.
func (r Report) Clean() bool {
	return len(r.Failures) == 0 && r.Deferred == 0 && !r.Skipped && !r.Offline
}

// DispatchResult is returned by Coordinator.Dispatch.
type DispatchResult struct {
	// ActionID is the durable id of the enqueued action.
	ActionID string `json:"action_id"`

	// Entity is the appointment affected by the optimistic apply.
	Entity ir.Appointment `json:"entity"`

	// Synced is true if the action was replayed and removed from the queue
	// before Dispatch returned.
	Synced bool `json:"synced"`

	// Drain is the immediate drain report when the monitor was online.
	Drain *Report `json:"drain,omitempty"`
}
