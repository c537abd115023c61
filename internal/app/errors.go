package app

import (
	"errors"
	"fmt"
)

// Runtime errors.
var (
	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("runtime already running")

	// ErrNotRunning indicates an operation that needs a started runtime.
	ErrNotRunning = errors.New("runtime not running")

	// ErrShutDown indicates the runtime has been shut down and cannot be
	// restarted.
	ErrShutDown = errors.New("runtime shut down")

	// ErrNoConfigPath indicates WatchConfig was called on a runtime built
	// without a config file.
	ErrNoConfigPath = errors.New("no config file to watch")

	// ErrNotScript indicates a path that is neither a .lua file nor a
	// plugin directory.
	ErrNotScript = errors.New("not a .lua file or plugin directory")
)

// ComponentError represents an error from a specific component.
type ComponentError struct {
	Component string // Component name (e.g., "bus", "plugins", "config")
	Action    string // Action being performed
	Err       error  // Underlying error
}

// NewComponentError creates a new ComponentError.
func NewComponentError(component, action string, err error) *ComponentError {
	return &ComponentError{
		Component: component,
		Action:    action,
		Err:       err,
	}
}

func (e *ComponentError) Error() string {
	if e == nil {
		return ""
	}

	if e.Action != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Component, e.Action)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Component, e.Err)
	}

	return e.Component
}

func (e *ComponentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is implements errors.Is for ComponentError.
// Matches both the wrapper itself and the wrapped error.
func (e *ComponentError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*ComponentError); ok {
		return e == t
	}
	return errors.Is(e.Err, target)
}

// PluginError reports a discovered plugin that could not be attached.
type PluginError struct {
	Name string
	Path string
	Err  error
}

func (e *PluginError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("plugin %s (%s): %v", e.Name, e.Path, e.Err)
	}
	return fmt.Sprintf("plugin %s: %v", e.Name, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}
