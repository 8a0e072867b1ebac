package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet.
// Zero values fall through to environment variables and defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "MCP transport: none, stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")

	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")

	flags.String("store-driver", "", "Primary store driver: sqlite or pgx")
	flags.StringP("store-dsn", "d", "", "Primary store data source name")

	flags.String("index-backend", "", "Search index backend: typesense or bleve")
	flags.String("index-protocol", "", "Search index protocol: http or https")
	flags.String("index-host", "", "Search index host")
	flags.Int("index-port", 0, "Search index port")
	flags.String("index-api-key", "", "Search index API key")
	flags.String("index-base-dir", "", "Directory of the embedded bleve indexes")
	flags.Duration("index-timeout", 0, "Timeout of a single index request")
	flags.Float64("index-rate-limit", 0, "Maximum index requests per second, 0 for unlimited")
	flags.Int("index-batch-size", 0, "Maximum documents per upsert request")
	flags.String("index-suggestions-collection", "", "Collection holding suggestion documents")
	flags.String("index-comments-collection", "", "Collection holding comment documents")

	flags.DurationP("sync-interval", "i", 0, "Interval between sync cycles")
	flags.String("sync-watermark", "", "Watermark store: memory, file or bolt")
	flags.String("sync-state-dir", "", "Directory of the persisted watermark")
	flags.Int("sync-dead-letter-threshold", 0, "Cycles a record may stay unindexed after failing to map before it is reported")
}
