package api

// EntryStatus is the lifecycle status stored on an entry.
type EntryStatus string

const (
	StatusRegistered EntryStatus = "registered"
	StatusActive     EntryStatus = "active"
	StatusInactive   EntryStatus = "inactive"
	StatusDraining   EntryStatus = "draining"
	StatusDeprecated EntryStatus = "deprecated"
	StatusFailed     EntryStatus = "failed"
	StatusUnloaded   EntryStatus = "unloaded"
)

// IsValid reports whether s is one of the seven known statuses.
func (s EntryStatus) IsValid() bool {
	switch s {
	case StatusRegistered, StatusActive, StatusInactive, StatusDraining,
		StatusDeprecated, StatusFailed, StatusUnloaded:
		return true
	}
	return false
}

// RuntimeState is the operational state machine an active component moves
// through while loaded. Distinct from EntryStatus: an entry can be ACTIVE
// in the catalog while its runtime cycles between running and paused.
type RuntimeState string

const (
	StateCreated      RuntimeState = "created"
	StateInitializing RuntimeState = "initializing"
	StateRunning      RuntimeState = "running"
	StatePaused       RuntimeState = "paused"
	StateStopping     RuntimeState = "stopping"
	StateStopped      RuntimeState = "stopped"
	StateError        RuntimeState = "error"
	StateDeprecated   RuntimeState = "deprecated"
)

// runtimeTransitions is the total transition table. Any pair not listed
// is rejected.
var runtimeTransitions = map[RuntimeState][]RuntimeState{
	StateCreated:      {StateInitializing},
	StateInitializing: {StateRunning, StateError},
	StateRunning:      {StatePaused, StateStopping, StateError},
	StatePaused:       {StateRunning, StateStopping, StateError},
	StateStopping:     {StateStopped, StateError},
	StateStopped:      {StateInitializing, StateDeprecated},
	StateError:        {},
	StateDeprecated:   {},
}

// CanTransition reports whether moving from s to next is allowed.
func (s RuntimeState) CanTransition(next RuntimeState) bool {
	for _, allowed := range runtimeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the states reachable from s in one step.
func (s RuntimeState) AllowedTransitions() []RuntimeState {
	return append([]RuntimeState(nil), runtimeTransitions[s]...)
}
