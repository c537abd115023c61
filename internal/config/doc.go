// Package config loads the runtime configuration.
//
// Values are layered with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← PLEXUS_BUS_MODE, PLEXUS_LOG_LEVEL, ...
//	├─────────────────────────────┤
//	│  2. Config File             │  ← plexus.toml or plexus.yaml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Default()
//	└─────────────────────────────┘
//
// A file only needs the keys it changes:
//
//	[bus]
//	mode = "multi"
//	channels = 8
//
//	[batch]
//	window = "25ms"
//
//	[batch.priorities]
//	"cursor.moved" = "throttle"
//	"file.saved" = "urgent"
//
// Unknown keys are parse errors. Validate reports every invalid value at
// once. A Watcher reloads the file when it changes and hands the result to
// its handlers, which apply whatever can change at run time.
//
// # Sub-packages
//
//   - watcher: debounced file change notification
package config
