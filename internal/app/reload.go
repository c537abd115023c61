package app

import (
	"github.com/dshills/plexus/internal/config"
)

// ApplyConfig hot-swaps the settings that can change at runtime: bus
// topology, batch policy, hierarchy limits and capability policy. Settings
// that only take effect on restart (delivery, parallel limit, handler
// timeout, log output) are logged and recorded but not applied. An invalid
// cfg changes nothing.
func (r *Runtime) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		return NewComponentError("config", "apply", config.ErrValidationFailed)
	}
	if err := cfg.Validate(); err != nil {
		return NewComponentError("config", "apply", err)
	}

	mode, channels, err := cfg.Bus.Topology()
	if err != nil {
		return NewComponentError("bus", "configure", err)
	}
	batchPolicy, err := cfg.Batch.Policy()
	if err != nil {
		return NewComponentError("batch", "configure", err)
	}
	capPolicy, err := cfg.Capability.ReprovidePolicy()
	if err != nil {
		return NewComponentError("capability", "configure", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.cfg

	if old.Bus.Mode != cfg.Bus.Mode || old.Bus.Channels != cfg.Bus.Channels {
		if err := r.bus.SetTopology(mode, channels); err != nil {
			return NewComponentError("bus", "set topology", err)
		}
	}
	r.plugins.SetBatchPolicy(batchPolicy)
	r.tree.SetLimits(cfg.Hierarchy.MaxDepth, cfg.Hierarchy.MaxChildren)
	r.caps.SetPolicy(capPolicy)

	if old.Bus.Delivery != cfg.Bus.Delivery ||
		old.Bus.ParallelLimit != cfg.Bus.ParallelLimit ||
		old.Bus.HandlerTimeout != cfg.Bus.HandlerTimeout {
		r.logger.Warn("bus delivery settings take effect on restart")
	}
	if old.Log != cfg.Log {
		r.logger.Warn("log settings take effect on restart")
	}

	r.cfg = cfg.Clone()
	r.logger.Info("config applied",
		"mode", cfg.Bus.Mode,
		"channels", channels,
		"batch_window", cfg.Batch.Window.String(),
	)
	return nil
}

// Reload loads the config file the runtime was built with and applies it.
func (r *Runtime) Reload() error {
	if r.opts.configPath == "" {
		return ErrNoConfigPath
	}
	cfg, err := config.Load(r.opts.configPath)
	if err != nil {
		return NewComponentError("config", "load", err)
	}
	return r.ApplyConfig(cfg)
}

// onReload is the config watcher callback. A file that fails to load keeps
// the current configuration.
func (r *Runtime) onReload(cfg *config.Config, err error) {
	if err != nil {
		r.logger.Warn("keeping current configuration", "error", err)
		return
	}
	if err := r.ApplyConfig(cfg); err != nil {
		r.logger.Warn("reloaded configuration rejected", "error", err)
	}
}
