package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/plexus/internal/plugin"
	"github.com/dshills/plexus/internal/plugin/lua"
)

// LoadPlugins discovers Lua plugins in the configured plugin paths (the
// user and system plugin directories when none are configured) and
// attaches them parent-first. Disabled plugins are skipped. It returns the
// number attached and every failure joined; one plugin failing does not
// stop the others.
func (r *Runtime) LoadPlugins(ctx context.Context) (int, error) {
	cfg := r.Config()

	loaderOpts := []plugin.LoaderOption{}
	if len(cfg.Plugins.Paths) > 0 {
		loaderOpts = append(loaderOpts, plugin.WithPaths(cfg.Plugins.Paths...))
	}
	loader := plugin.NewLoader(loaderOpts...)

	infos, err := loader.Discover()
	if err != nil {
		return 0, NewComponentError("plugins", "discover", err)
	}
	ordered, err := plugin.AttachOrder(infos)
	if err != nil {
		return 0, NewComponentError("plugins", "order", err)
	}

	var (
		errs     []error
		attached int
	)
	for _, info := range ordered {
		if cfg.Plugins.IsDisabled(info.Name) {
			r.logger.Info("plugin disabled", "plugin", info.Name)
			continue
		}
		if info.Error != nil {
			errs = append(errs, &PluginError{Name: info.Name, Path: info.Path, Err: info.Error})
			continue
		}
		if err := r.attachManifest(ctx, info.Manifest, info.Manifest.Parent); err != nil {
			errs = append(errs, &PluginError{Name: info.Name, Path: info.Path, Err: err})
			continue
		}
		attached++
	}

	for _, err := range errs {
		r.logger.Warn("plugin not attached", "error", err)
	}
	return attached, errors.Join(errs...)
}

// AttachScript attaches the Lua plugin at path under parent. path is either
// a .lua file, named after its base name, or a plugin directory holding a
// manifest. An empty parent falls back to the manifest's parent.
func (r *Runtime) AttachScript(ctx context.Context, path, parent string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", &PluginError{Name: filepath.Base(path), Path: path, Err: err}
	}

	if fi.IsDir() {
		m, err := plugin.LoadManifestFromDir(path)
		if err != nil {
			return "", &PluginError{Name: filepath.Base(path), Path: path, Err: err}
		}
		if parent == "" {
			parent = m.Parent
		}
		if err := r.attachManifest(ctx, m, parent); err != nil {
			return "", &PluginError{Name: m.Name, Path: path, Err: err}
		}
		return m.Name, nil
	}

	if filepath.Ext(path) != ".lua" {
		return "", &PluginError{Name: filepath.Base(path), Path: path, Err: ErrNotScript}
	}
	name := strings.TrimSuffix(filepath.Base(path), ".lua")
	p := lua.New(name, lua.WithFile(path), lua.WithTimeout(r.pluginTimeout()))
	if err := r.plugins.Attach(ctx, p, parent); err != nil {
		return "", &PluginError{Name: name, Path: path, Err: err}
	}
	return name, nil
}

func (r *Runtime) attachManifest(ctx context.Context, m *plugin.Manifest, parent string) error {
	p, err := lua.FromManifest(m, lua.WithTimeout(r.pluginTimeout()))
	if err != nil {
		return err
	}
	return r.plugins.Attach(ctx, p, parent)
}

func (r *Runtime) pluginTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Plugins.Timeout.Std()
}
