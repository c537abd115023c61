package plugin

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/dshills/plexus/internal/batch"
	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/capability"
	"github.com/dshills/plexus/internal/hierarchy"
	"github.com/dshills/plexus/internal/message"
)

// Context is a plugin's handle on the runtime. Messages published through it
// carry the plugin's name as Source and pass through the plugin's batcher.
type Context struct {
	name    string
	batcher *batch.Batcher
	bus     Bus
	caps    *capability.Registry
	tree    *hierarchy.Manager
	logger  *slog.Logger

	mu     sync.Mutex
	subs   []*bus.Subscription
	closed bool
}

func newContext(name string, b *batch.Batcher, m *Manager) *Context {
	return &Context{
		name:    name,
		batcher: b,
		bus:     m.bus,
		caps:    m.caps,
		tree:    m.tree,
		logger:  m.logger.With("plugin", name),
	}
}

// Name returns the plugin name.
func (c *Context) Name() string {
	return c.name
}

// Logger returns a logger tagged with the plugin name.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Publish sends msg through the plugin's batcher. An empty Source is set to
// the plugin name. After detach the message is rejected with ErrDetached.
func (c *Context) Publish(ctx context.Context, msg message.Message) bus.Report {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return bus.Report{MessageID: msg.ID, Type: msg.Type, Rejected: ErrDetached}
	}
	if msg.Source == "" {
		msg = msg.WithSource(c.name)
	}
	return c.batcher.Publish(ctx, msg)
}

// Notice publishes a Notice for eventName.
func (c *Context) Notice(ctx context.Context, eventName string, payload any) bus.Report {
	return c.Publish(ctx, message.NewNotice(eventName, payload))
}

// Request publishes an IntentRequest asking target to perform action.
func (c *Context) Request(ctx context.Context, target, action string, payload any) bus.Report {
	return c.Publish(ctx, message.NewIntentRequest(target, action, payload))
}

// Respond publishes an IntentResponse for action.
func (c *Context) Respond(ctx context.Context, action string, payload any) bus.Report {
	return c.Publish(ctx, message.NewIntentResponse(action, payload))
}

// Propose publishes a Proposal to targetPlugin.
func (c *Context) Propose(ctx context.Context, targetPlugin, suggestion string, payload any) bus.Report {
	return c.Publish(ctx, message.NewProposal(targetPlugin, suggestion, payload))
}

// Flush delivers the plugin's queued messages now.
func (c *Context) Flush(ctx context.Context) bus.Report {
	return c.batcher.Flush(ctx)
}

// Subscribe registers handler for msgType. The subscription is cancelled
// when the plugin is detached.
func (c *Context) Subscribe(msgType string, handler bus.Handler, opts ...bus.SubscriptionOption) (*bus.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrDetached
	}
	sub, err := c.bus.Subscribe(msgType, handler, opts...)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(c.subs, sub) {
		c.subs = append(c.subs, sub)
	}
	return sub, nil
}

// SubscribeFunc is Subscribe for a plain function.
func (c *Context) SubscribeFunc(msgType string, fn bus.HandlerFunc, opts ...bus.SubscriptionOption) (*bus.Subscription, error) {
	return c.Subscribe(msgType, bus.NewHandler(fn), opts...)
}

// Observe looks up a capability by name.
func (c *Context) Observe(name string) (any, bool) {
	return c.caps.Observe(name)
}

// Parent returns the plugin's parent in the hierarchy.
func (c *Context) Parent() (string, bool) {
	return c.tree.Parent(c.name)
}

// Children returns the plugin's children in the hierarchy.
func (c *Context) Children() []string {
	return c.tree.Children(c.name)
}

// Depth returns the plugin's depth in the hierarchy.
func (c *Context) Depth() int {
	d, _ := c.tree.Depth(c.name)
	return d
}

// close cancels every subscription made through the context and returns
// how many were still active.
func (c *Context) close() int {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.closed = true
	c.mu.Unlock()

	n := 0
	for _, sub := range subs {
		if sub.Unsubscribe() {
			n++
		}
	}
	return n
}
