package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
)

// Setting keys. Environment overrides use the same names upper-cased behind
// EnvPrefix.
const (
	KeyDBPath               = "db_path"
	KeyCacheSizeKiB         = "cache_size_kib"
	KeyItemDebounce         = "item_debounce"
	KeyUserDataDebounce     = "user_data_debounce"
	KeyFlushPolicy          = "flush_policy"
	KeyFlushRetryAttempts   = "flush_retry_attempts"
	KeyMaxPending           = "max_pending"
	KeyStrictMigrations     = "strict_migrations"
	KeyCacheExpirationDays  = "cache_expiration_days"
	KeyHousekeepingInterval = "housekeeping_interval"
	KeyUserDataGate         = "user_data_requires_checkpoint"
	KeyBreakerFailures      = "flush_breaker_failures"
	KeyBreakerCooldown      = "flush_breaker_cooldown"
)

// Flush policy names.
const (
	FlushDrop   = "drop"
	FlushRetry  = "retry"
	FlushRetain = "retain"
)

// Settings is the typed engine configuration.
type Settings struct {
	// DBPath is the database file.
	DBPath string `validate:"required"`

	// CacheSizeKiB sizes the SQLite page cache; zero keeps the default.
	CacheSizeKiB int `validate:"gte=0"`

	// ItemDebounce is the quiet period before library changes are flushed.
	ItemDebounce time.Duration `validate:"gt=0"`

	// UserDataDebounce is the quiet period before user data changes are flushed.
	UserDataDebounce time.Duration `validate:"gt=0"`

	// FlushPolicy decides what happens to a batch whose write fails.
	FlushPolicy string `validate:"oneof=drop retry retain"`

	// FlushRetryAttempts bounds write attempts under the retry policy.
	FlushRetryAttempts int `validate:"gte=1"`

	// MaxPending bounds the buffer under the retain policy; zero means
	// unbounded.
	MaxPending int `validate:"gte=0"`

	// StrictMigrations fails startup on a missing schema migration.
	StrictMigrations bool

	// CacheExpirationDays is the retention horizon; zero disables
	// housekeeping.
	CacheExpirationDays int `validate:"gte=0"`

	// HousekeepingInterval is how often retention runs.
	HousekeepingInterval time.Duration `validate:"gt=0"`

	// UserDataRequiresCheckpoint skips user data capture while no
	// checkpoint exists, as library capture always does.
	UserDataRequiresCheckpoint bool

	// FlushBreakerFailures is the number of consecutive failed flushes
	// after which a stream stops writing for FlushBreakerCooldown. Zero
	// disables the breaker.
	FlushBreakerFailures int `validate:"gte=0"`

	FlushBreakerCooldown time.Duration `validate:"gte=0"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		DBPath:               "deltasync.db",
		CacheSizeKiB:         65536,
		ItemDebounce:         5 * time.Second,
		UserDataDebounce:     500 * time.Millisecond,
		FlushPolicy:          FlushDrop,
		FlushRetryAttempts:   3,
		MaxPending:           100000,
		CacheExpirationDays:  30,
		HousekeepingInterval: 24 * time.Hour,
		FlushBreakerFailures: 5,
		FlushBreakerCooldown: 30 * time.Second,
	}
}

// FromConfig reads Settings from cfg, using Defaults for missing keys.
func FromConfig(cfg Config) Settings {
	d := Defaults()
	return Settings{
		DBPath:                     cfg.String(KeyDBPath, d.DBPath),
		CacheSizeKiB:               cfg.Int(KeyCacheSizeKiB, d.CacheSizeKiB),
		ItemDebounce:               cfg.Duration(KeyItemDebounce, d.ItemDebounce),
		UserDataDebounce:           cfg.Duration(KeyUserDataDebounce, d.UserDataDebounce),
		FlushPolicy:                cfg.String(KeyFlushPolicy, d.FlushPolicy),
		FlushRetryAttempts:         cfg.Int(KeyFlushRetryAttempts, d.FlushRetryAttempts),
		MaxPending:                 cfg.Int(KeyMaxPending, d.MaxPending),
		StrictMigrations:           cfg.Bool(KeyStrictMigrations, d.StrictMigrations),
		CacheExpirationDays:        cfg.Int(KeyCacheExpirationDays, d.CacheExpirationDays),
		HousekeepingInterval:       cfg.Duration(KeyHousekeepingInterval, d.HousekeepingInterval),
		UserDataRequiresCheckpoint: cfg.Bool(KeyUserDataGate, d.UserDataRequiresCheckpoint),
		FlushBreakerFailures:       cfg.Int(KeyBreakerFailures, d.FlushBreakerFailures),
		FlushBreakerCooldown:       cfg.Duration(KeyBreakerCooldown, d.FlushBreakerCooldown),
	}
}

// Retention returns the housekeeping horizon, or zero when disabled.
func (s Settings) Retention() time.Duration {
	return time.Duration(s.CacheExpirationDays) * 24 * time.Hour
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. The first violation is reported as a
// ValidationError naming the setting key.
func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return fmt.Errorf("invalid settings: %w",
			syncerrors.Invalid(settingKey(fe.Field()), "must satisfy "+msg))
	}
	return fmt.Errorf("invalid settings: %w", err)
}

var settingKeys = map[string]string{
	"DBPath":               KeyDBPath,
	"CacheSizeKiB":         KeyCacheSizeKiB,
	"ItemDebounce":         KeyItemDebounce,
	"UserDataDebounce":     KeyUserDataDebounce,
	"FlushPolicy":          KeyFlushPolicy,
	"FlushRetryAttempts":   KeyFlushRetryAttempts,
	"MaxPending":           KeyMaxPending,
	"CacheExpirationDays":  KeyCacheExpirationDays,
	"HousekeepingInterval": KeyHousekeepingInterval,
	"FlushBreakerFailures": KeyBreakerFailures,
	"FlushBreakerCooldown": KeyBreakerCooldown,
}

func settingKey(field string) string {
	if k, ok := settingKeys[field]; ok {
		return k
	}
	return strings.ToLower(field)
}

// LoadSettings layers file and environment sources and validates the result.
func LoadSettings(path string) (Settings, error) {
	cfg, err := Load(path, EnvPrefix)
	if err != nil {
		return Settings{}, err
	}
	s := FromConfig(cfg)
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
