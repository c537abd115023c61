package plugin

import "context"

// Plugin is a unit of functionality attached to the bus.
//
// Name doubles as the plugin's capability name and hierarchy id, so it must
// be a valid message type (dot-separated, no whitespace).
type Plugin interface {
	Name() string

	// Start is called once after the plugin's capability has been provided.
	// Subscriptions made through pctx are removed automatically on detach.
	Start(ctx context.Context, pctx *Context) error

	// Stop is called once before the plugin's pending messages are flushed
	// and its capability is retracted.
	Stop(ctx context.Context) error
}

// Provider is implemented by plugins that expose a capability instance other
// than themselves.
type Provider interface {
	Capability() any
}

// Funcs adapts plain functions to the Plugin interface. Nil hooks are no-ops.
type Funcs struct {
	PluginName string
	OnStart    func(ctx context.Context, pctx *Context) error
	OnStop     func(ctx context.Context) error
}

// Name implements Plugin.
func (f *Funcs) Name() string {
	return f.PluginName
}

// Start implements Plugin.
func (f *Funcs) Start(ctx context.Context, pctx *Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx, pctx)
}

// Stop implements Plugin.
func (f *Funcs) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}
