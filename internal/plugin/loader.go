package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Loader discovers scripted plugins on the filesystem.
type Loader struct {
	// Search paths for plugins (checked in order)
	paths []string

	// Discovered plugins cache
	discovered map[string]*PluginInfo
}

// PluginInfo contains discovery information about a plugin.
type PluginInfo struct {
	Name     string
	Path     string
	Manifest *Manifest
	Error    error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPluginPaths(),
		discovered: make(map[string]*PluginInfo),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// DefaultPluginPaths returns the default plugin search paths.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 2)

	// User plugins: ~/.config/plexus/plugins/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "plexus", "plugins"))
	}

	// Project plugins: .plexus/plugins/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".plexus", "plugins"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// AddPath adds a search path.
func (l *Loader) AddPath(path string) {
	l.paths = append(l.paths, path)
}

// Discover finds all plugins in the search paths.
// Returns plugins sorted by name. Missing paths are skipped.
func (l *Loader) Discover() ([]*PluginInfo, error) {
	l.discovered = make(map[string]*PluginInfo)

	for _, basePath := range l.paths {
		if err := l.discoverInPath(basePath); err != nil {
			return nil, fmt.Errorf("scan %s: %w", basePath, err)
		}
	}

	plugins := make([]*PluginInfo, 0, len(l.discovered))
	for _, info := range l.discovered {
		plugins = append(plugins, info)
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})

	return plugins, nil
}

// discoverInPath finds plugins in a single directory.
func (l *Loader) discoverInPath(basePath string) error {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			// Single-file plugins (name.lua)
			if filepath.Ext(entry.Name()) == ".lua" {
				name := strings.TrimSuffix(entry.Name(), ".lua")
				l.addSingleFilePlugin(name, filepath.Join(basePath, entry.Name()))
			}
			continue
		}

		info := l.inspectPlugin(entry.Name(), filepath.Join(basePath, entry.Name()))

		// First path wins
		if _, exists := l.discovered[info.Name]; !exists {
			l.discovered[info.Name] = info
		}
	}

	return nil
}

// addSingleFilePlugin adds a single-file plugin.
func (l *Loader) addSingleFilePlugin(name, luaPath string) {
	if _, exists := l.discovered[name]; exists {
		return
	}

	manifest := NewManifestMinimal(name, filepath.Dir(luaPath))
	manifest.Main = filepath.Base(luaPath)

	info := &PluginInfo{
		Name:     name,
		Path:     filepath.Dir(luaPath),
		Manifest: manifest,
	}
	if err := manifest.Validate(); err != nil {
		info.Error = err
	}
	l.discovered[name] = info
}

// inspectPlugin examines a plugin directory and returns its info.
func (l *Loader) inspectPlugin(name, path string) *PluginInfo {
	info := &PluginInfo{
		Name: name,
		Path: path,
	}

	for _, file := range ManifestFiles {
		manifestPath := filepath.Join(path, file)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			info.Error = fmt.Errorf("invalid manifest: %w", err)
			return info
		}
		info.Manifest = manifest
		info.Name = manifest.Name // Use name from manifest
		return info
	}

	// No manifest - check for init.lua, then plugin.lua
	for _, main := range []string{"init.lua", "plugin.lua"} {
		if _, err := os.Stat(filepath.Join(path, main)); err == nil {
			manifest := NewManifestMinimal(name, path)
			manifest.Main = main
			info.Manifest = manifest
			if err := manifest.Validate(); err != nil {
				info.Error = err
			}
			return info
		}
	}

	info.Error = ErrNoEntryPoint
	return info
}

// Get returns info for a specific plugin by name.
func (l *Loader) Get(name string) (*PluginInfo, bool) {
	info, ok := l.discovered[name]
	return info, ok
}

// FindPlugin searches for a plugin by name across all paths.
// Returns the first match found.
func (l *Loader) FindPlugin(name string) (*PluginInfo, error) {
	if info, ok := l.discovered[name]; ok {
		return info, nil
	}

	for _, basePath := range l.paths {
		pluginPath := filepath.Join(basePath, name)
		if stat, err := os.Stat(pluginPath); err == nil && stat.IsDir() {
			info := l.inspectPlugin(name, pluginPath)
			if info.Error == nil {
				l.discovered[info.Name] = info
				return info, nil
			}
		}

		luaPath := filepath.Join(basePath, name+".lua")
		if _, err := os.Stat(luaPath); err == nil {
			l.addSingleFilePlugin(name, luaPath)
			return l.discovered[name], nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
}

// Errors returns the discovery errors by plugin name.
func (l *Loader) Errors() map[string]error {
	errs := make(map[string]error)
	for name, info := range l.discovered {
		if info.Error != nil {
			errs[name] = info.Error
		}
	}
	return errs
}

// Count returns the number of discovered plugins.
func (l *Loader) Count() int {
	return len(l.discovered)
}

// AttachOrder sorts infos so that every plugin comes after the parent named
// in its manifest. Plugins whose parent is not among infos keep their
// relative order; a parent cycle is reported as an error.
func AttachOrder(infos []*PluginInfo) ([]*PluginInfo, error) {
	byName := make(map[string]*PluginInfo, len(infos))
	for _, info := range infos {
		byName[info.Name] = info
	}

	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[string]int, len(infos))
	out := make([]*PluginInfo, 0, len(infos))

	var visit func(info *PluginInfo, path []string) error
	visit = func(info *PluginInfo, path []string) error {
		switch mark[info.Name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("plugin parent cycle: %s", strings.Join(append(path, info.Name), " -> "))
		}
		mark[info.Name] = visiting
		if info.Manifest != nil && info.Manifest.Parent != "" {
			if parent, ok := byName[info.Manifest.Parent]; ok {
				if err := visit(parent, append(path, info.Name)); err != nil {
					return err
				}
			}
		}
		mark[info.Name] = done
		out = append(out, info)
		return nil
	}

	for _, info := range infos {
		if err := visit(info, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}
