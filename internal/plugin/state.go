package plugin

// State represents the lifecycle state of an attached plugin.
type State int

// Plugin states.
const (
	// StateDetached - Plugin is not attached.
	StateDetached State = iota

	// StateStarting - Plugin is being attached and its Start hook runs.
	StateStarting

	// StateActive - Plugin is attached and running.
	StateActive

	// StateStopping - Plugin is being detached.
	StateStopping
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// IsActive returns true if the plugin can publish and receive messages.
func (s State) IsActive() bool {
	return s == StateActive
}
