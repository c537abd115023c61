package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/plexus/internal/batch"
	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/capability"
	"github.com/dshills/plexus/internal/hierarchy"
	"github.com/dshills/plexus/internal/logging"
	"github.com/dshills/plexus/internal/message"
)

// Config is the runtime configuration. The zero value is not useful; start
// from Default.
type Config struct {
	Bus        BusConfig        `toml:"bus" yaml:"bus" json:"bus" envPrefix:"BUS_"`
	Capability CapabilityConfig `toml:"capability" yaml:"capability" json:"capability" envPrefix:"CAPABILITY_"`
	Hierarchy  HierarchyConfig  `toml:"hierarchy" yaml:"hierarchy" json:"hierarchy" envPrefix:"HIERARCHY_"`
	Batch      BatchConfig      `toml:"batch" yaml:"batch" json:"batch" envPrefix:"BATCH_"`
	Log        LogConfig        `toml:"log" yaml:"log" json:"log" envPrefix:"LOG_"`
	Plugins    PluginsConfig    `toml:"plugins" yaml:"plugins" json:"plugins" envPrefix:"PLUGINS_"`
}

// BusConfig configures the channel manager.
type BusConfig struct {
	// Mode is single or multi.
	Mode string `toml:"mode" yaml:"mode" json:"mode" env:"MODE"`

	// Channels is the channel count in multi mode.
	Channels int `toml:"channels" yaml:"channels" json:"channels" env:"CHANNELS"`

	// Delivery is sequential or parallel.
	Delivery string `toml:"delivery" yaml:"delivery" json:"delivery" env:"DELIVERY"`

	// ParallelLimit bounds concurrent handlers per publish. Zero is unbounded.
	ParallelLimit int `toml:"parallel_limit" yaml:"parallel_limit" json:"parallel_limit" env:"PARALLEL_LIMIT"`

	// HandlerTimeout bounds each delivery. Zero leaves only the caller's
	// context.
	HandlerTimeout Duration `toml:"handler_timeout" yaml:"handler_timeout" json:"handler_timeout" env:"HANDLER_TIMEOUT"`
}

// CapabilityConfig configures the capability registry.
type CapabilityConfig struct {
	// Policy is replace or reject.
	Policy string `toml:"policy" yaml:"policy" json:"policy" env:"POLICY"`
}

// HierarchyConfig configures the hierarchy limits.
type HierarchyConfig struct {
	MaxDepth    int `toml:"max_depth" yaml:"max_depth" json:"max_depth" env:"MAX_DEPTH"`
	MaxChildren int `toml:"max_children" yaml:"max_children" json:"max_children" env:"MAX_CHILDREN"`
}

// BatchConfig configures every plugin's batcher.
type BatchConfig struct {
	Window  Duration `toml:"window" yaml:"window" json:"window" env:"WINDOW"`
	MaxSize int      `toml:"max_size" yaml:"max_size" json:"max_size" env:"MAX_SIZE"`

	// Default is the priority of unclassified messages.
	Default string `toml:"default" yaml:"default" json:"default" env:"DEFAULT"`

	// Priorities maps event names to priority names.
	Priorities map[string]string `toml:"priorities" yaml:"priorities" json:"priorities" env:"PRIORITIES"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level" env:"LEVEL"`
	Format string `toml:"format" yaml:"format" json:"format" env:"FORMAT"`
	Output string `toml:"output" yaml:"output" json:"output" env:"OUTPUT"`
}

// PluginsConfig configures Lua plugin discovery.
type PluginsConfig struct {
	// Paths are searched in order; the first plugin with a given name wins.
	Paths []string `toml:"paths" yaml:"paths" json:"paths" env:"PATHS" envSeparator:","`

	// Disabled names plugins that are discovered but not attached.
	Disabled []string `toml:"disabled" yaml:"disabled" json:"disabled" env:"DISABLED" envSeparator:","`

	// Timeout bounds each call into a Lua plugin.
	Timeout Duration `toml:"timeout" yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Mode:     bus.ModeSingle.String(),
			Channels: bus.DefaultMultiChannels,
			Delivery: bus.DeliverySequential.String(),
		},
		Capability: CapabilityConfig{
			Policy: capability.PolicyReplace.String(),
		},
		Hierarchy: HierarchyConfig{
			MaxDepth:    hierarchy.DefaultMaxDepth,
			MaxChildren: hierarchy.DefaultMaxChildren,
		},
		Batch: BatchConfig{
			Window:  Duration(batch.DefaultWindow),
			MaxSize: batch.DefaultMaxSize,
			Default: message.PriorityBatch.String(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: logging.OutputStderr,
		},
		Plugins: PluginsConfig{
			Timeout: Duration(5 * time.Second),
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Batch.Priorities = maps.Clone(c.Batch.Priorities)
	out.Plugins.Paths = slices.Clone(c.Plugins.Paths)
	out.Plugins.Disabled = slices.Clone(c.Plugins.Disabled)
	return &out
}

// Validate checks every section and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(path, msg string, value any, code ValidationErrorCode) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value, Code: code})
	}

	mode, ok := bus.ParseMode(c.Bus.Mode)
	if !ok {
		add("bus.mode", "must be single or multi", c.Bus.Mode, ErrCodeInvalidEnum)
	}
	if mode == bus.ModeMulti && c.Bus.Channels < 2 {
		add("bus.channels", "must be at least 2 in multi mode", c.Bus.Channels, ErrCodeOutOfRange)
	}
	if _, ok := bus.ParseDelivery(c.Bus.Delivery); !ok {
		add("bus.delivery", "must be sequential or parallel", c.Bus.Delivery, ErrCodeInvalidEnum)
	}
	if c.Bus.ParallelLimit < 0 {
		add("bus.parallel_limit", "must not be negative", c.Bus.ParallelLimit, ErrCodeOutOfRange)
	}
	if c.Bus.HandlerTimeout < 0 {
		add("bus.handler_timeout", "must not be negative", c.Bus.HandlerTimeout, ErrCodeOutOfRange)
	}

	if _, ok := capability.ParsePolicy(c.Capability.Policy); !ok {
		add("capability.policy", "must be replace or reject", c.Capability.Policy, ErrCodeInvalidEnum)
	}

	if c.Hierarchy.MaxDepth < 1 {
		add("hierarchy.max_depth", "must be at least 1", c.Hierarchy.MaxDepth, ErrCodeOutOfRange)
	}
	if c.Hierarchy.MaxChildren < 1 {
		add("hierarchy.max_children", "must be at least 1", c.Hierarchy.MaxChildren, ErrCodeOutOfRange)
	}

	if c.Batch.Window <= 0 {
		add("batch.window", "must be positive", c.Batch.Window, ErrCodeOutOfRange)
	}
	if c.Batch.MaxSize < 1 {
		add("batch.max_size", "must be at least 1", c.Batch.MaxSize, ErrCodeOutOfRange)
	}
	if p, ok := message.ParsePriority(c.Batch.Default); !ok || p == message.PriorityUnset {
		add("batch.default", "must be a priority name", c.Batch.Default, ErrCodeInvalidEnum)
	}
	for _, name := range slices.Sorted(maps.Keys(c.Batch.Priorities)) {
		value := c.Batch.Priorities[name]
		if !message.ValidType(name) {
			add("batch.priorities", "key must be a message type", name, ErrCodePatternMismatch)
		}
		if p, ok := message.ParsePriority(value); !ok || p == message.PriorityUnset {
			add("batch.priorities."+name, "must be a priority name", value, ErrCodeInvalidEnum)
		}
	}

	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		add("log.level", "must be debug, info, warn or error", c.Log.Level, ErrCodeInvalidEnum)
	}
	if !logging.ValidFormat(c.Log.Format) {
		add("log.format", "must be text or json", c.Log.Format, ErrCodeInvalidEnum)
	}

	if c.Plugins.Timeout < 0 {
		add("plugins.timeout", "must not be negative", c.Plugins.Timeout, ErrCodeOutOfRange)
	}

	return errors.Join(errs...)
}

// Topology returns the bus mode and channel count.
func (c BusConfig) Topology() (bus.Mode, int, error) {
	mode, ok := bus.ParseMode(c.Mode)
	if !ok {
		return 0, 0, fmt.Errorf("%w: mode %q", bus.ErrInvalidTopology, c.Mode)
	}
	if mode == bus.ModeSingle {
		return mode, 1, nil
	}
	return mode, c.Channels, nil
}

// Options converts the section to bus options.
func (c BusConfig) Options() ([]bus.Option, error) {
	mode, channels, err := c.Topology()
	if err != nil {
		return nil, err
	}
	delivery, ok := bus.ParseDelivery(c.Delivery)
	if !ok {
		return nil, fmt.Errorf("unknown delivery %q", c.Delivery)
	}
	return []bus.Option{
		bus.WithMode(mode),
		bus.WithChannels(channels),
		bus.WithDelivery(delivery),
		bus.WithParallelLimit(c.ParallelLimit),
		bus.WithHandlerTimeout(c.HandlerTimeout.Std()),
	}, nil
}

// ReprovidePolicy returns the parsed capability policy.
func (c CapabilityConfig) ReprovidePolicy() (capability.Policy, error) {
	p, ok := capability.ParsePolicy(c.Policy)
	if !ok {
		return 0, fmt.Errorf("unknown capability policy %q", c.Policy)
	}
	return p, nil
}

// Policy converts the section to a batch policy.
func (c BatchConfig) Policy() (batch.Policy, error) {
	def, ok := message.ParsePriority(c.Default)
	if !ok {
		return batch.Policy{}, fmt.Errorf("unknown default priority %q", c.Default)
	}
	var table map[string]message.Priority
	if len(c.Priorities) > 0 {
		table = make(map[string]message.Priority, len(c.Priorities))
		for name, value := range c.Priorities {
			p, ok := message.ParsePriority(value)
			if !ok {
				return batch.Policy{}, fmt.Errorf("unknown priority %q for %s", value, name)
			}
			table[name] = p
		}
	}
	return batch.Policy{
		Window:     c.Window.Std(),
		MaxSize:    c.MaxSize,
		Default:    def,
		Priorities: table,
	}, nil
}

// LoggingOptions converts the section to logger options.
func (c LogConfig) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Level, Format: c.Format, Output: c.Output}
}

// IsDisabled reports whether the named plugin is disabled.
func (c PluginsConfig) IsDisabled(name string) bool {
	return slices.Contains(c.Disabled, name)
}

// Duration is a time.Duration written as a string ("250ms", "5s") in
// config files and environment variables.
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String formats the duration like time.Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
