package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by LoadSettings
const EnvPrefix = "RETRO_SYNC"

// Transport constants
const (
	TransportNone  = "none"
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Primary store drivers
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "pgx"
)

// Index backends
const (
	IndexBackendTypesense = "typesense"
	IndexBackendBleve     = "bleve"
)

// Watermark backends
const (
	WatermarkMemory = "memory"
	WatermarkFile   = "file"
	WatermarkBolt   = "bolt"
)

// Log formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LogSettings configuration for the process logger
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreSettings configuration for the primary relational store
type StoreSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// IndexSettings configuration for the search index
type IndexSettings struct {
	Backend  string        `mapstructure:"backend"`
	Protocol string        `mapstructure:"protocol"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	APIKey   string        `mapstructure:"api_key"`
	BaseDir  string        `mapstructure:"base_dir"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// RateLimit is the maximum number of requests per second; 0 disables throttling
	RateLimit float64 `mapstructure:"rate_limit"`
	BatchSize int     `mapstructure:"batch_size"`

	SuggestionsCollection string `mapstructure:"suggestions_collection"`
	CommentsCollection    string `mapstructure:"comments_collection"`
}

// SyncSettings configuration for the sync engine
type SyncSettings struct {
	Interval            time.Duration `mapstructure:"interval"`
	Watermark           string        `mapstructure:"watermark"`
	StateDir            string        `mapstructure:"state_dir"`
	DeadLetterThreshold int           `mapstructure:"dead_letter_threshold"`
}

// Settings application settings
type Settings struct {
	Transport string        `mapstructure:"transport"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Auth      AuthSettings  `mapstructure:"auth"`
	Log       LogSettings   `mapstructure:"log"`
	Store     StoreSettings `mapstructure:"store"`
	Index     IndexSettings `mapstructure:"index"`
	Sync      SyncSettings  `mapstructure:"sync"`
}

// flagBindings maps settings keys to CLI flag names
var flagBindings = map[string]string{
	"transport":                    "transport",
	"host":                         "host",
	"port":                         "port",
	"auth.type":                    "auth-type",
	"auth.basic.username":          "auth-basic-username",
	"auth.basic.password":          "auth-basic-password",
	"auth.api_keys":                "auth-api-keys",
	"log.level":                    "log-level",
	"log.format":                   "log-format",
	"store.driver":                 "store-driver",
	"store.dsn":                    "store-dsn",
	"index.backend":                "index-backend",
	"index.protocol":               "index-protocol",
	"index.host":                   "index-host",
	"index.port":                   "index-port",
	"index.api_key":                "index-api-key",
	"index.base_dir":               "index-base-dir",
	"index.timeout":                "index-timeout",
	"index.rate_limit":             "index-rate-limit",
	"index.batch_size":             "index-batch-size",
	"index.suggestions_collection": "index-suggestions-collection",
	"index.comments_collection":    "index-comments-collection",
	"sync.interval":                "sync-interval",
	"sync.watermark":               "sync-watermark",
	"sync.state_dir":               "sync-state-dir",
	"sync.dead_letter_threshold":   "sync-dead-letter-threshold",
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	v.SetDefault("transport", TransportNone)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", LogFormatText)

	v.SetDefault("store.driver", StoreDriverSQLite)

	v.SetDefault("index.backend", IndexBackendTypesense)
	v.SetDefault("index.protocol", "http")
	v.SetDefault("index.host", "localhost")
	v.SetDefault("index.port", 8108)
	v.SetDefault("index.base_dir", filepath.Join(defaultStateDir(), "indexes"))
	v.SetDefault("index.timeout", 10*time.Second)
	v.SetDefault("index.rate_limit", 0.0)
	v.SetDefault("index.batch_size", 100)
	v.SetDefault("index.suggestions_collection", "suggestions")
	v.SetDefault("index.comments_collection", "comments")

	v.SetDefault("sync.interval", 10*time.Second)
	v.SetDefault("sync.watermark", WatermarkMemory)
	v.SetDefault("sync.state_dir", defaultStateDir())
	v.SetDefault("sync.dead_letter_threshold", 5)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys are only visible to Unmarshal when bound explicitly
	for key := range flagBindings {
		_ = v.BindEnv(key)
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv(EnvPrefix + "_AUTH_API_KEYS")
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}
	settings.Auth.APIKeys = filterEmptyStrings(settings.Auth.APIKeys)

	settings.Transport = strings.ToLower(strings.TrimSpace(settings.Transport))
	settings.Index.Backend = strings.ToLower(strings.TrimSpace(settings.Index.Backend))
	settings.Index.Host = strings.TrimSpace(settings.Index.Host)
	settings.Index.APIKey = strings.TrimSpace(settings.Index.APIKey)
	settings.Index.BaseDir = expandHomeDir(settings.Index.BaseDir)
	settings.Sync.StateDir = expandHomeDir(settings.Sync.StateDir)
	settings.Sync.Watermark = strings.ToLower(strings.TrimSpace(settings.Sync.Watermark))

	return &settings, nil
}

// defaultStateDir returns the default directory for persisted sync state
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".retro-sync"
	}
	return filepath.Join(home, ".retro-sync")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// MissingIndexSettings lists the index settings that must be set before the
// engine can sync. A non-empty result puts the engine in disabled mode.
func (s IndexSettings) MissingIndexSettings() []string {
	var missing []string
	switch s.Backend {
	case IndexBackendBleve:
		if s.BaseDir == "" {
			missing = append(missing, "index.base_dir")
		}
	default:
		if s.Host == "" {
			missing = append(missing, "index.host")
		}
		if s.APIKey == "" {
			missing = append(missing, "index.api_key")
		}
	}
	return missing
}

// ValidateSettings checks for conflicting configurations.
// Missing index credentials are not an error; they disable syncing instead.
func ValidateSettings(s *Settings) error {
	switch s.Transport {
	case TransportNone, TransportStdio, TransportSSE:
		// valid
	default:
		return errors.New("transport must be 'none', 'stdio' or 'sse', got: " + s.Transport)
	}

	if err := validateAuthSettings(&s.Auth); err != nil {
		return err
	}
	if err := validateLogSettings(&s.Log); err != nil {
		return err
	}
	if err := validateStoreSettings(&s.Store); err != nil {
		return err
	}
	if err := validateIndexSettings(&s.Index); err != nil {
		return err
	}
	return validateSyncSettings(&s.Sync)
}

func validateAuthSettings(a *AuthSettings) error {
	hasBasicCreds := a.Basic.Username != "" || a.Basic.Password != ""
	hasAPIKeys := len(a.APIKeys) > 0

	switch a.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if a.Basic.Username == "" || a.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + a.Type)
	}
	return nil
}

func validateLogSettings(l *LogSettings) error {
	if _, err := ParseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case LogFormatText, LogFormatJSON, "":
		return nil
	default:
		return errors.New("log-format must be 'text' or 'json', got: " + l.Format)
	}
}

func validateStoreSettings(st *StoreSettings) error {
	switch st.Driver {
	case StoreDriverSQLite, StoreDriverPostgres:
	default:
		return fmt.Errorf("store-driver must be '%s' or '%s', got: %s", StoreDriverSQLite, StoreDriverPostgres, st.Driver)
	}
	if strings.TrimSpace(st.DSN) == "" {
		return errors.New("store-dsn cannot be empty")
	}
	return nil
}

func validateIndexSettings(i *IndexSettings) error {
	switch i.Backend {
	case IndexBackendTypesense:
		switch i.Protocol {
		case "http", "https":
		default:
			return errors.New("index-protocol must be 'http' or 'https', got: " + i.Protocol)
		}
		if i.Port <= 0 || i.Port > 65535 {
			return fmt.Errorf("index-port must be between 1 and 65535, got: %d", i.Port)
		}
	case IndexBackendBleve:
	default:
		return fmt.Errorf("index-backend must be '%s' or '%s', got: %s", IndexBackendTypesense, IndexBackendBleve, i.Backend)
	}

	if i.Timeout <= 0 {
		return errors.New("index-timeout must be positive")
	}
	if i.RateLimit < 0 {
		return errors.New("index-rate-limit cannot be negative")
	}
	if i.BatchSize <= 0 {
		return errors.New("index-batch-size must be positive")
	}
	if i.SuggestionsCollection == "" || i.CommentsCollection == "" {
		return errors.New("index collection names cannot be empty")
	}
	if i.SuggestionsCollection == i.CommentsCollection {
		return errors.New("index-suggestions-collection and index-comments-collection must differ")
	}
	return nil
}

func validateSyncSettings(s *SyncSettings) error {
	if s.Interval <= 0 {
		return errors.New("sync-interval must be positive")
	}
	switch s.Watermark {
	case WatermarkMemory:
	case WatermarkFile, WatermarkBolt:
		if s.StateDir == "" {
			return errors.New("sync-state-dir cannot be empty for a persisted watermark")
		}
	default:
		return fmt.Errorf("sync-watermark must be '%s', '%s' or '%s', got: %s", WatermarkMemory, WatermarkFile, WatermarkBolt, s.Watermark)
	}
	if s.DeadLetterThreshold <= 0 {
		return errors.New("sync-dead-letter-threshold must be positive")
	}
	return nil
}
