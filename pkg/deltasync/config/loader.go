package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the default prefix for environment overrides.
const EnvPrefix = "DELTASYNC_"

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// Load layers configuration sources, later layers overriding earlier ones:
//
//  1. The file at path, if path is non-empty (YAML, or JSON as its subset)
//  2. Environment variables starting with envPrefix
//
// Environment names are lowercased with the prefix stripped, so
// DELTASYNC_ITEM_DEBOUNCE sets item_debounce. Values arrive as strings;
// the typed accessors parse them.
func Load(path, envPrefix string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if envPrefix != "" {
		transform := func(key string) string {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix))
		}
		if err := k.Load(env.Provider(envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("load environment variables: %w", err)
		}
	}

	return New(k.All()), nil
}
