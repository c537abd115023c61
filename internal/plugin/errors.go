package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin is not attached or cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyAttached is returned when a plugin name is already in use.
	ErrAlreadyAttached = errors.New("plugin is already attached")

	// ErrNilPlugin is returned when a nil plugin is attached.
	ErrNilPlugin = errors.New("plugin is nil")

	// ErrInvalidName is returned when a plugin name is not a valid capability name.
	ErrInvalidName = errors.New("invalid plugin name")

	// ErrManagerClosed is returned when attaching to a closed manager.
	ErrManagerClosed = errors.New("plugin manager is closed")

	// ErrDetached is returned by Context operations after the plugin was detached.
	ErrDetached = errors.New("plugin is detached")

	// ErrNoEntryPoint is returned when a plugin directory has no Lua entry point.
	ErrNoEntryPoint = errors.New("plugin has no entry point (init.lua or plugin.lua)")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")
)

// LifecycleError reports a failure in a plugin's Start or Stop hook.
type LifecycleError struct {
	Plugin string
	Op     string
	Err    error

	// Panic holds the recovered value when the hook panicked.
	Panic any
}

func (e *LifecycleError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("plugin %q: %s panicked: %v", e.Plugin, e.Op, e.Panic)
	}
	return fmt.Sprintf("plugin %q: %s: %v", e.Plugin, e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}
