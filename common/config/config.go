package config

import (
	"time"

	"github.com/polygate/polygate/common/env"
)

// Server configuration.
var (
	// Port is the listen port for the HTTP server.
	Port = env.Int("PORT", 3000)
	// Address is the listen address for the HTTP server.
	Address = env.String("ADDRESS", "0.0.0.0")
	// DebugEnabled toggles verbose request/response logging.
	DebugEnabled = env.Bool("DEBUG", false)
	// GinMode controls the gin framework mode (debug/release/test).
	GinMode = env.String("GIN_MODE", "release")
)

// Database configuration.
var (
	// SQLDSN selects the backing store. Empty means SQLite at SQLitePath.
	// A DSN containing "postgres://" selects PostgreSQL, otherwise MySQL.
	SQLDSN = env.String("SQL_DSN", "")
	// SQLitePath is the SQLite database file location.
	SQLitePath = env.String("SQLITE_PATH", "polygate.db")
)

// Credential selection and retry configuration.
var (
	// RetryTimes bounds how many credentials a single request may try.
	RetryTimes = env.Int("RETRY_TIMES", 3)
	// ErrorCountThreshold is the consecutive-error count after which a
	// credential is quarantined into the error table.
	ErrorCountThreshold = env.Int("ERROR_COUNT_THRESHOLD", 5)
	// ExcludeResetInterval clears the process-wide quota-exhausted set.
	ExcludeResetInterval = env.Duration("EXCLUDE_RESET_INTERVAL", time.Hour)
)

// Operator API configuration.
var (
	// BlockInternalBaseURLs rejects operator-supplied api_base_url values
	// that point at private or local addresses (SSRF guard).
	BlockInternalBaseURLs = env.Bool("BLOCK_INTERNAL_BASE_URLS", true)
)

// Token refresh configuration.
var (
	// TokenRefreshSkew is the safety margin before expiry at which an access
	// token is treated as already expired.
	TokenRefreshSkew = env.Duration("TOKEN_REFRESH_SKEW", 5*time.Minute)
)

// Upstream timeout configuration.
var (
	// RelayTimeout is the hard deadline for a single upstream call.
	RelayTimeout = env.Duration("RELAY_TIMEOUT", 300*time.Second)
	// StreamIdleTimeout bounds the wait for the next upstream SSE read.
	StreamIdleTimeout = env.Duration("STREAM_IDLE_TIMEOUT", 300*time.Second)
	// CancellationGracePeriod bounds upstream abort after client disconnect.
	CancellationGracePeriod = env.Duration("CANCELLATION_GRACE_PERIOD", 2*time.Second)
)

// Quota refresher configuration.
var (
	// QuotaRefreshInitialDelay delays the first refresh pass after start.
	QuotaRefreshInitialDelay = env.Duration("QUOTA_REFRESH_INITIAL_DELAY", time.Minute)
	// QuotaRefreshInterval is the period between refresh passes.
	QuotaRefreshInterval = env.Duration("QUOTA_REFRESH_INTERVAL", 5*time.Minute)
	// QuotaIntraVendorDelay is the pause between credentials of one vendor.
	QuotaIntraVendorDelay = env.Duration("QUOTA_INTRA_VENDOR_DELAY", 2*time.Second)
	// QuotaInterVendorDelay is the pause between vendors.
	QuotaInterVendorDelay = env.Duration("QUOTA_INTER_VENDOR_DELAY", 5*time.Second)
)

// Session configuration (Warp multi-turn).
var (
	// SessionTTL bounds how long an idle Warp session is kept in memory.
	SessionTTL = env.Duration("SESSION_TTL", 30*time.Minute)
)

// Tool executor configuration.
var (
	// ToolExecuteTimeout bounds a single /w/v1/tools/execute command.
	ToolExecuteTimeout = env.Duration("TOOL_EXECUTE_TIMEOUT", 60*time.Second)
	// ToolExecuteEnabled gates the local tool executor endpoint.
	ToolExecuteEnabled = env.Bool("TOOL_EXECUTE_ENABLED", false)
)

// Metrics configuration.
var (
	// EnablePrometheusMetrics toggles the /metrics endpoint and recorders.
	EnablePrometheusMetrics = env.Bool("ENABLE_PROMETHEUS_METRICS", true)
)
