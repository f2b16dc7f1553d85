/*
Package config provides type-safe configuration extraction and the typed
settings of the deltasync engine.

# Overview

Config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches gracefully by returning default values.
Accessors also parse string values, since environment overrides always
arrive as strings.

	cfg := config.New(map[string]any{
	    "item_debounce": "5s",
	    "max_pending":   "1000",
	    "strict_migrations": true,
	})

	debounce := cfg.Duration("item_debounce", time.Second) // 5s
	pending := cfg.Int("max_pending", 0)                   // 1000

# Layered Loading

Load combines an optional YAML or JSON file with environment variables,
environment winning:

	cfg, err := config.Load("/etc/deltasync.yaml", config.EnvPrefix)

	// DELTASYNC_ITEM_DEBOUNCE=10s overrides item_debounce from the file.

FromFile, FromYAML and FromJSON parse a single source without layering.

# Settings

Settings is the typed view the engine consumes. FromConfig fills it from a
Config with Defaults for anything missing; Validate enforces field
constraints:

	s, err := config.LoadSettings("deltasync.yaml")
	if err != nil {
	    log.Fatal(err)
	}

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
