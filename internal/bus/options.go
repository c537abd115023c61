package bus

import (
	"log/slog"
	"time"

	"github.com/dshills/plexus/internal/bus/dispatch"
)

// Mode selects how message types map onto channels.
type Mode int

const (
	// ModeSingle routes every type through one channel.
	ModeSingle Mode = iota

	// ModeMulti spreads types across several channels by hashing the type.
	ModeMulti
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// ParseMode parses "single" or "multi".
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "single", "":
		return ModeSingle, true
	case "multi":
		return ModeMulti, true
	default:
		return ModeSingle, false
	}
}

// Delivery selects how handlers of one message are invoked.
type Delivery int

const (
	// DeliverySequential invokes handlers one at a time in subscription order.
	DeliverySequential Delivery = iota

	// DeliveryParallel invokes handlers concurrently and waits for all.
	DeliveryParallel
)

// String returns the delivery name.
func (d Delivery) String() string {
	if d == DeliveryParallel {
		return "parallel"
	}
	return "sequential"
}

// ParseDelivery parses "sequential" or "parallel".
func ParseDelivery(s string) (Delivery, bool) {
	switch s {
	case "sequential", "":
		return DeliverySequential, true
	case "parallel":
		return DeliveryParallel, true
	default:
		return DeliverySequential, false
	}
}

// DefaultMultiChannels is the channel count used by ModeMulti when none is given.
const DefaultMultiChannels = 4

// Option configures a Manager or a standalone Channel.
type Option func(*config)

// config contains configuration shared by Manager and Channel.
type config struct {
	mode           Mode
	channels       int
	delivery       Delivery
	parallelLimit  int
	handlerTimeout time.Duration
	logger         *slog.Logger
}

// defaultConfig returns sensible default configuration.
func defaultConfig() config {
	return config{
		mode:     ModeSingle,
		channels: 1,
		delivery: DeliverySequential,
		logger:   slog.Default(),
	}
}

func newConfig(opts []Option) config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithMode sets the initial topology mode.
func WithMode(m Mode) Option {
	return func(c *config) {
		c.mode = m
		if m == ModeMulti && c.channels < 2 {
			c.channels = DefaultMultiChannels
		}
	}
}

// WithChannels sets the number of channels used in ModeMulti.
func WithChannels(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.channels = n
		}
	}
}

// WithDelivery sets the handler invocation strategy.
func WithDelivery(d Delivery) Option {
	return func(c *config) {
		c.delivery = d
	}
}

// WithParallelLimit bounds concurrent handlers per message in parallel
// delivery. Zero means unbounded.
func WithParallelLimit(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.parallelLimit = n
		}
	}
}

// WithHandlerTimeout bounds the context handed to handlers of one delivery.
// Zero disables the bound.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.handlerTimeout = d
		}
	}
}

// WithLogger sets the logger used for rejected messages and handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// strategy builds the dispatch strategy for the configured delivery mode.
func (c config) strategy() dispatch.Strategy {
	if c.delivery == DeliveryParallel {
		return dispatch.NewParallel(c.parallelLimit)
	}
	return dispatch.NewSequential()
}

// channelCount normalizes the channel count for the mode.
func (c config) channelCount() int {
	if c.mode == ModeSingle {
		return 1
	}
	if c.channels < 2 {
		return DefaultMultiChannels
	}
	return c.channels
}
