package bus

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/plexus/internal/message"
)

// topology is an immutable set of channels plus the routing rule.
type topology struct {
	mode     Mode
	channels []*Channel
}

func newTopology(cfg config) *topology {
	n := cfg.channelCount()
	t := &topology{mode: cfg.mode, channels: make([]*Channel, n)}
	for i := range t.channels {
		t.channels[i] = newChannel(i, cfg)
	}
	return t
}

// route returns the channel responsible for msgType.
func (t *topology) route(msgType string) *Channel {
	if len(t.channels) == 1 {
		return t.channels[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(msgType))
	return t.channels[h.Sum32()%uint32(len(t.channels))]
}

// Manager is the bus facade used by plugins. It owns one or more channels,
// initializes them on first use and can swap the channel topology while
// preserving every subscription.
type Manager struct {
	config config
	logger *slog.Logger

	initGroup singleflight.Group
	ready     atomic.Bool
	inits     atomic.Uint64

	// mu serializes subscription changes and topology swaps.
	mu   sync.Mutex
	topo atomic.Pointer[topology]

	paused   atomic.Bool
	closed   atomic.Bool
	inflight atomic.Int64

	published     atomic.Uint64
	delivered     atomic.Uint64
	rejected      atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64
	swaps         atomic.Uint64
}

// NewManager creates a bus manager. Channels are created lazily on the first
// Init, Subscribe or Publish.
func NewManager(opts ...Option) *Manager {
	cfg := newConfig(opts)
	return &Manager{
		config: cfg,
		logger: cfg.logger.With("component", "bus"),
	}
}

// Init creates the channels. Concurrent first callers share one
// initialization; later calls return immediately.
func (m *Manager) Init(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.ready.Load() {
		return nil
	}

	_, err, _ := m.initGroup.Do("init", func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.ready.Load() {
			return nil, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t := newTopology(m.config)
		m.topo.Store(t)
		m.inits.Add(1)
		m.ready.Store(true)

		m.logger.Debug("bus initialized",
			"mode", t.mode.String(),
			"channels", len(t.channels),
			"delivery", m.config.delivery.String(),
		)
		return nil, nil
	})
	return err
}

func (m *Manager) ensureInit() error {
	if m.ready.Load() {
		return nil
	}
	return m.Init(context.Background())
}

// IsRunning returns true between initialization and Shutdown.
func (m *Manager) IsRunning() bool {
	return m.ready.Load() && !m.closed.Load()
}

// Subscribe registers handler for msgType. Re-subscribing the same
// comparable handler for the same type returns the existing subscription.
func (m *Manager) Subscribe(msgType string, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if err := validateSubscribe(msgType, handler); err != nil {
		return nil, err
	}
	if err := m.ensureInit(); err != nil {
		return nil, err
	}

	sub := newSubscription(msgType, handler, m, opts...)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}

	got, inserted := m.topo.Load().route(msgType).add(sub)
	if inserted {
		m.logger.Debug("subscribed", "type", msgType, "subscription", got.id)
	}
	return got, nil
}

// SubscribeFunc subscribes a function. Each call creates a new subscription.
func (m *Manager) SubscribeFunc(msgType string, fn HandlerFunc, opts ...SubscriptionOption) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return m.Subscribe(msgType, fn, opts...)
}

// Unsubscribe removes the (msgType, handler) pair. Returns false if it was
// not subscribed.
func (m *Manager) Unsubscribe(msgType string, handler Handler) bool {
	t := m.topo.Load()
	if t == nil {
		return false
	}
	sub := t.route(msgType).lookup(msgType, handler)
	if sub == nil {
		return false
	}
	return m.removeSubscription(sub)
}

// removeSubscription implements remover.
func (m *Manager) removeSubscription(sub *Subscription) bool {
	sub.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topo.Load()
	if t == nil {
		return false
	}
	ch := t.route(sub.msgType)
	ch.mu.Lock()
	removed := ch.removeLocked(sub)
	ch.mu.Unlock()

	if removed {
		m.logger.Debug("unsubscribed", "type", sub.msgType, "subscription", sub.id)
	}
	return removed
}

// SubscriberCount returns the number of handlers subscribed to msgType.
func (m *Manager) SubscriberCount(msgType string) int {
	t := m.topo.Load()
	if t == nil {
		return 0
	}
	return t.route(msgType).SubscriberCount(msgType)
}

// Publish validates msg and delivers it synchronously. Invalid messages are
// logged and reported as rejected; no handler runs. Publish never returns
// before every invoked handler has returned.
func (m *Manager) Publish(ctx context.Context, msg message.Message) Report {
	if err := m.ensureInit(); err != nil {
		return m.reject(msg, err)
	}

	m.inflight.Add(1)
	defer m.inflight.Add(-1)

	if m.closed.Load() {
		return m.reject(msg, ErrClosed)
	}
	if err := msg.Validate(); err != nil {
		m.logger.Warn("rejected invalid message",
			"type", msg.Type,
			"category", msg.Category.String(),
			"source", msg.Source,
			"error", err,
		)
		return m.reject(msg, err)
	}
	if m.paused.Load() {
		return m.reject(msg, ErrPaused)
	}

	m.published.Add(1)

	// The topology is loaded once so a concurrent swap cannot split one
	// delivery across two tables.
	report := m.topo.Load().route(msg.Type).deliver(ctx, msg)

	m.delivered.Add(uint64(report.Delivered))
	m.handlerErrors.Add(uint64(report.Failed))
	m.handlerPanics.Add(uint64(report.Panicked))
	return report
}

func (m *Manager) reject(msg message.Message, err error) Report {
	m.rejected.Add(1)
	return Report{MessageID: msg.ID, Type: msg.Type, Rejected: err}
}

// Mode returns the current topology mode.
func (m *Manager) Mode() Mode {
	if t := m.topo.Load(); t != nil {
		return t.mode
	}
	return m.config.mode
}

// ChannelCount returns the current number of channels.
func (m *Manager) ChannelCount() int {
	if t := m.topo.Load(); t != nil {
		return len(t.channels)
	}
	return m.config.channelCount()
}

// SetMode switches between single and multi channel operation, keeping the
// configured multi channel count.
func (m *Manager) SetMode(mode Mode) error {
	return m.SetTopology(mode, 0)
}

// SetTopology rebuilds the channel set and migrates every subscription.
// A channel count of zero keeps the configured count. Per-type handler
// order is preserved and no subscription is lost or duplicated. Publishes
// already running finish on the old channels.
func (m *Manager) SetTopology(mode Mode, channels int) error {
	if mode != ModeSingle && mode != ModeMulti {
		return ErrInvalidTopology
	}
	if mode == ModeMulti && (channels == 1 || channels < 0) {
		return ErrInvalidTopology
	}
	if err := m.ensureInit(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}

	next := m.config
	next.mode = mode
	if mode == ModeMulti && channels > 0 {
		next.channels = channels
	}

	old := m.topo.Load()
	if old.mode == mode && len(old.channels) == next.channelCount() {
		return nil
	}

	t := newTopology(next)
	moved := 0
	for _, ch := range old.channels {
		for _, sub := range ch.ordered() {
			if _, ok := t.route(sub.msgType).add(sub); ok {
				moved++
			}
		}
	}

	m.config = next
	m.topo.Store(t)
	m.swaps.Add(1)

	m.logger.Info("bus topology changed",
		"mode", mode.String(),
		"channels", len(t.channels),
		"previous_mode", old.mode.String(),
		"previous_channels", len(old.channels),
		"subscriptions", moved,
	)
	return nil
}

// Pause rejects publishes with ErrPaused until Resume.
func (m *Manager) Pause() {
	if m.paused.CompareAndSwap(false, true) {
		m.logger.Info("bus paused")
	}
}

// Resume restarts delivery after Pause.
func (m *Manager) Resume() {
	if m.paused.CompareAndSwap(true, false) {
		m.logger.Info("bus resumed")
	}
}

// IsPaused reports whether the bus is paused.
func (m *Manager) IsPaused() bool {
	return m.paused.Load()
}

// Shutdown stops accepting publishes, waits for in-flight deliveries to
// finish or ctx to expire, then cancels every subscription. Calling Shutdown
// from inside a handler blocks until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	var waitErr error
	for m.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			waitErr = ctx.Err()
		case <-ticker.C:
			continue
		}
		break
	}

	m.mu.Lock()
	cancelled := 0
	if t := m.topo.Load(); t != nil {
		for _, ch := range t.channels {
			cancelled += ch.clear()
		}
	}
	m.mu.Unlock()

	m.logger.Info("bus shut down",
		"published", m.published.Load(),
		"subscriptions_cancelled", cancelled,
		"in_flight", m.inflight.Load(),
	)
	return waitErr
}
