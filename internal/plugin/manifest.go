package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/plexus/internal/message"
)

// ManifestFiles are the manifest file names looked up in a plugin
// directory, in order.
var ManifestFiles = []string{"plugin.json", "plugin.toml", "plugin.yaml", "plugin.yml"}

// Manifest describes a scripted plugin.
type Manifest struct {
	// Identity
	Name        string `json:"name" toml:"name" yaml:"name"`                      // Capability name (e.g., "spell.checker")
	Version     string `json:"version" toml:"version" yaml:"version"`             // Semver (e.g., "1.2.0")
	Description string `json:"description" toml:"description" yaml:"description"` // Short description

	// Entry point
	Main string `json:"main" toml:"main" yaml:"main"` // Relative path to main Lua file (default: "init.lua")

	// Parent is the plugin this one attaches under; empty attaches as a root.
	Parent string `json:"parent" toml:"parent" yaml:"parent"`

	// Grants lists sandbox permissions (see the lua package).
	Grants []string `json:"grants" toml:"grants" yaml:"grants"`

	// Priorities maps event names to batch priorities for this plugin's
	// publishes (e.g., "cursor.moved": "realtime").
	Priorities map[string]string `json:"priorities" toml:"priorities" yaml:"priorities"`

	// Internal: path to the plugin directory
	path string
}

// Validation errors.
var (
	ErrMissingName     = errors.New("manifest: name is required")
	ErrInvalidManifest = errors.New("manifest: name must be lowercase segments separated by dots or hyphens")
	ErrMissingVersion  = errors.New("manifest: version is required")
	ErrInvalidVersion  = errors.New("manifest: version must be valid semver")
	ErrInvalidMain     = errors.New("manifest: main must be a .lua file")
	ErrInvalidPriority = errors.New("manifest: unknown priority")
	ErrSelfParent      = errors.New("manifest: plugin cannot be its own parent")
)

// namePattern validates plugin names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a plugin manifest. The format follows the
// file extension: .json, .toml, .yaml or .yml.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	switch ext := filepath.Ext(path); ext {
	case ".json":
		err = json.Unmarshal(data, &m)
	case ".toml":
		err = toml.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	// Set the path to the plugin directory
	m.path = filepath.Dir(path)

	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// LoadManifestFromDir loads the first manifest found in a plugin directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	for _, name := range ManifestFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return LoadManifest(p)
		}
	}
	return nil, fmt.Errorf("%w in %s", ErrNilManifest, dir)
}

// NewManifestMinimal creates a minimal manifest for plugins without a
// manifest file.
func NewManifestMinimal(name, path string) *Manifest {
	return &Manifest{
		Name:    name,
		Version: "0.0.0",
		Main:    "init.lua",
		path:    path,
	}
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = "init.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
}

// Validate checks that the manifest is valid.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) || !message.ValidType(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidManifest, m.Name)
	}

	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	if m.Main != "" && filepath.Ext(m.Main) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}

	if m.Parent == m.Name {
		return ErrSelfParent
	}

	if _, err := m.BatchPriorities(); err != nil {
		return err
	}
	return nil
}

// BatchPriorities parses the priority table.
func (m *Manifest) BatchPriorities() (map[string]message.Priority, error) {
	if len(m.Priorities) == 0 {
		return nil, nil
	}
	out := make(map[string]message.Priority, len(m.Priorities))
	for _, event := range slices.Sorted(maps.Keys(m.Priorities)) {
		p, ok := message.ParsePriority(m.Priorities[event])
		if !ok {
			return nil, fmt.Errorf("%w: %s = %q", ErrInvalidPriority, event, m.Priorities[event])
		}
		out[event] = p
	}
	return out, nil
}

// Path returns the path to the plugin directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the main Lua file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m
	clone.Grants = slices.Clone(m.Grants)
	clone.Priorities = maps.Clone(m.Priorities)
	return &clone
}
