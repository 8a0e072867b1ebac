package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

const masked = "****"

// ParseLevel converts a level name to a slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(s LogSettings, w io.Writer) *slog.Logger {
	level, _ := ParseLevel(s.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if s.Format == LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == TransportSSE {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)

		logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
		switch s.Auth.Type {
		case AuthTypeBasic:
			logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
			logger.InfoContext(ctx, "Config: auth.basic.password", "value", masked)
		case AuthTypeAPIKey:
			logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
		}
	}

	logger.InfoContext(ctx, "Config: log.level", "value", s.Log.Level)
	logger.InfoContext(ctx, "Config: store.driver", "value", s.Store.Driver)
	logger.InfoContext(ctx, "Config: store.dsn", "value", MaskDSN(s.Store.DSN))

	logger.InfoContext(ctx, "Config: index.backend", "value", s.Index.Backend)
	switch s.Index.Backend {
	case IndexBackendBleve:
		logger.InfoContext(ctx, "Config: index.base_dir", "value", s.Index.BaseDir)
	default:
		logger.InfoContext(ctx, "Config: index.url", "value", fmt.Sprintf("%s://%s:%d", s.Index.Protocol, s.Index.Host, s.Index.Port))
		if s.Index.APIKey != "" {
			logger.InfoContext(ctx, "Config: index.api_key", "value", masked)
		}
		if s.Index.RateLimit > 0 {
			logger.InfoContext(ctx, "Config: index.rate_limit", "value", s.Index.RateLimit)
		}
	}
	logger.InfoContext(ctx, "Config: index.collections",
		"suggestions", s.Index.SuggestionsCollection, "comments", s.Index.CommentsCollection)
	logger.InfoContext(ctx, "Config: index.batch_size", "value", s.Index.BatchSize)

	logger.InfoContext(ctx, "Config: sync.interval", "value", s.Sync.Interval)
	logger.InfoContext(ctx, "Config: sync.watermark", "value", s.Sync.Watermark)
	if s.Sync.Watermark != WatermarkMemory {
		logger.InfoContext(ctx, "Config: sync.state_dir", "value", s.Sync.StateDir)
	}
}

var dsnPasswordPattern = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)

// MaskDSN hides the password of a URL or key=value DSN.
func MaskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), masked)
		}
		dsn = u.String()
	}
	return dsnPasswordPattern.ReplaceAllString(dsn, "${1}"+masked)
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = masked
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", masked),
	)
}

// IndexSettingsLogValue returns a slog.Value for IndexSettings with masked data
func IndexSettingsLogValue(s IndexSettings) slog.Value {
	apiKey := ""
	if s.APIKey != "" {
		apiKey = masked
	}
	return slog.GroupValue(
		slog.String("backend", s.Backend),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.String("api_key", apiKey),
		slog.String("base_dir", s.BaseDir),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.String("store_driver", s.Store.Driver),
		slog.String("store_dsn", MaskDSN(s.Store.DSN)),
		slog.Any("index", IndexSettingsLogValue(s.Index)),
		slog.Duration("sync_interval", s.Sync.Interval),
	)
}
