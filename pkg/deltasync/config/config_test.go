package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deltasync/pkg/deltasync/config"
)

func TestNew(t *testing.T) {
	assert.NotNil(t, config.New(nil).Raw())
	assert.Equal(t, "v", config.New(map[string]any{"k": "v"}).Raw()["k"])
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"key exists", map[string]any{"name": "alice"}, "alice"},
		{"key missing", map[string]any{"other": "value"}, "default"},
		{"empty string", map[string]any{"name": ""}, ""},
		{"wrong type int", map[string]any{"name": 123}, "default"},
		{"nil map", nil, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String("name", "default"))
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"duration string", "500ms", 500 * time.Millisecond},
		{"seconds string", "30", 30 * time.Second},
		{"int seconds", 5, 5 * time.Second},
		{"int64 seconds", int64(2), 2 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration value", 3 * time.Minute, 3 * time.Minute},
		{"invalid string", "soon", time.Hour},
		{"wrong type", true, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"d": tt.value})
			assert.Equal(t, tt.want, cfg.Duration("d", time.Hour))
		})
	}

	assert.Equal(t, time.Hour, config.New(nil).Duration("d", time.Hour))
}

func TestBool(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"string true", "true", true},
		{"string 1", "1", true},
		{"string false", "FALSE", false},
		{"invalid string", "maybe", true},
		{"wrong type", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"b": tt.value})
			assert.Equal(t, tt.want, cfg.Bool("b", true))
		})
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"int", 42, 42},
		{"int64", int64(7), 7},
		{"uint64", uint64(9), 9},
		{"whole float", 3.0, 3},
		{"fractional float", 3.5, -1},
		{"numeric string", " 1000 ", 1000},
		{"invalid string", "lots", -1},
		{"wrong type", []int{1}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"n": tt.value})
			assert.Equal(t, tt.want, cfg.Int("n", -1))
		})
	}
}

func TestFloat(t *testing.T) {
	cfg := config.New(map[string]any{"f": 0.5, "i": 2, "s": "1.25", "bad": "x"})
	assert.Equal(t, 0.5, cfg.Float("f", 0))
	assert.Equal(t, 2.0, cfg.Float("i", 0))
	assert.Equal(t, 1.25, cfg.Float("s", 0))
	assert.Equal(t, 9.0, cfg.Float("bad", 9))
}

func TestStringSlice(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
		{"any slice", []any{"a", "b"}, []string{"a", "b"}},
		{"mixed any slice", []any{"a", 1}, []string{"default"}},
		{"comma string", "Movie, Episode,,Series", []string{"Movie", "Episode", "Series"}},
		{"wrong type", 5, []string{"default"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"s": tt.value})
			assert.Equal(t, tt.want, cfg.StringSlice("s", []string{"default"}))
		})
	}
}

func TestAnyAndHas(t *testing.T) {
	cfg := config.New(map[string]any{"k": 1})
	assert.True(t, cfg.Has("k"))
	assert.False(t, cfg.Has("missing"))
	assert.Equal(t, 1, cfg.Any("k", nil))
	assert.Equal(t, "d", cfg.Any("missing", "d"))
}

func TestFromYAMLAndJSON(t *testing.T) {
	cfg, err := config.FromYAML([]byte("item_debounce: 2s\nmax_pending: 10\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Duration("item_debounce", 0))
	assert.Equal(t, 10, cfg.Int("max_pending", 0))

	cfg, err = config.FromJSON([]byte(`{"flush_policy": "retry", "max_pending": 10}`))
	require.NoError(t, err)
	assert.Equal(t, "retry", cfg.String("flush_policy", ""))
	assert.Equal(t, 10, cfg.Int("max_pending", 0))

	_, err = config.FromYAML([]byte("invalid: yaml: content:"))
	assert.Error(t, err)

	_, err = config.FromJSON([]byte("{"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.YML")
	require.NoError(t, os.WriteFile(yamlPath, []byte("db_path: /data/sync.db\n"), 0o644))
	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"db_path": "/data/other.db"}`), 0o644))
	txtPath := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "/data/sync.db", cfg.String(config.KeyDBPath, ""))

	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "/data/other.db", cfg.String(config.KeyDBPath, ""))

	_, err = config.FromFile(txtPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file extension")

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deltasync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("item_debounce: 2s\nmax_pending: 50\ndb_path: /from/file.db\n"), 0o644))

	t.Setenv("DELTASYNC_TEST_ITEM_DEBOUNCE", "9s")
	t.Setenv("DELTASYNC_TEST_STRICT_MIGRATIONS", "true")

	cfg, err := config.Load(path, "DELTASYNC_TEST_")
	require.NoError(t, err)

	assert.Equal(t, 9*time.Second, cfg.Duration(config.KeyItemDebounce, 0))
	assert.Equal(t, 50, cfg.Int(config.KeyMaxPending, 0))
	assert.Equal(t, "/from/file.db", cfg.String(config.KeyDBPath, ""))
	assert.True(t, cfg.Bool(config.KeyStrictMigrations, false))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config file")
}

func TestLoad_NoSources(t *testing.T) {
	cfg, err := config.Load("", "")
	require.NoError(t, err)
	assert.Empty(t, cfg.Raw())
}
