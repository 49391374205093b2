package config

import (
	"strings"
	"time"

	"github.com/nebulablock/rpdprobe/common/env"
)

var (
	// APIBase is the scheme and host of the inference endpoint under test.
	APIBase = strings.TrimRight(strings.TrimSpace(env.String("API_BASE_URL", "https://dev-llm-proxy.nebulablock.com")), "/")
	// ChatCompletionsPath is appended to APIBase to form the probe target.
	ChatCompletionsPath = env.String("CHAT_COMPLETIONS_PATH", "/v1/chat/completions")
	// ProbeModel is the model named in every probe payload. A free-tier model keeps probes from burning credit.
	ProbeModel = env.String("PROBE_MODEL", "deepseek-ai/DeepSeek-V3-0324-Free")
	// ProbeMaxTokens caps completion length for each probe request.
	ProbeMaxTokens = env.Int("PROBE_MAX_TOKENS", 50)
	// ProbeTemperature is sent verbatim in each probe payload.
	ProbeTemperature = env.Float64("PROBE_TEMPERATURE", 0.7)

	// RequestTimeout bounds a single dispatch, including reading the response body.
	RequestTimeout = env.Duration("REQUEST_TIMEOUT", 30*time.Second)
	// MaxConcurrent is the default number of requests allowed in flight per batch.
	MaxConcurrent = env.Int("MAX_CONCURRENT", 10)
	// PacingDelay is held by every task after its request completes and before its permit is released.
	PacingDelay = env.Duration("PACING_DELAY", 100*time.Millisecond)
	// FailureThreshold aborts a batch once the failed count exceeds it.
	FailureThreshold = env.Int("FAILURE_THRESHOLD", 10)
	// UnlimitedProbeVolume is the batch size used for unlimited tiers without their own volume.
	UnlimitedProbeVolume = env.Int("UNLIMITED_PROBE_VOLUME", 3000)
	// TiersFile optionally replaces the built-in tier table with a YAML or JSON document.
	TiersFile = strings.TrimSpace(env.String("TIERS_FILE", ""))

	// DebugEnabled toggles verbose structured logging when DEBUG=true.
	DebugEnabled = env.Bool("DEBUG", false)
	// DebugSQLEnabled toggles per-query SQL logging when DEBUG_SQL=true.
	DebugSQLEnabled = env.Bool("DEBUG_SQL", false)
	// ApproximateTokenEnabled skips tiktoken and estimates prompt size from byte length.
	ApproximateTokenEnabled = env.Bool("APPROXIMATE_TOKEN", false)
	// TiktokenCacheDir holds pre-downloaded BPE files. Without it prompt sizes are approximated
	// rather than fetching encodings over the network.
	TiktokenCacheDir = strings.TrimSpace(env.String("TIKTOKEN_CACHE_DIR", ""))

	// RedisConnString enables the shared usage ledger. Empty keeps the ledger in memory.
	RedisConnString = strings.TrimSpace(env.String("REDIS_CONN_STRING", ""))
	// RedisMasterName switches the client to sentinel/cluster mode; RedisConnString then holds a comma list.
	RedisMasterName = env.String("REDIS_MASTER_NAME", "")
	RedisPassword   = env.String("REDIS_PASSWORD", "")

	// SQLDSN selects the report history database: postgres:// prefix for PostgreSQL, any other value for MySQL, empty for SQLite.
	SQLDSN            = strings.TrimSpace(env.String("SQL_DSN", ""))
	SQLitePath        = env.String("SQLITE_PATH", "rpdprobe.db")
	SQLiteBusyTimeout = env.Int("SQLITE_BUSY_TIMEOUT", 3000)
	// ReportHistoryEnabled persists every validation report when true.
	ReportHistoryEnabled = env.Bool("REPORT_HISTORY_ENABLED", false)
	// ReportRetention is how many reports per tier survive a cleanup pass.
	ReportRetention = env.Int("REPORT_RETENTION", 7)

	// MetricsAddr exposes /metrics on this address while the prober runs. Empty disables it.
	MetricsAddr = strings.TrimSpace(env.String("METRICS_ADDR", ""))
)

// ChatCompletionsURL joins APIBase and ChatCompletionsPath.
func ChatCompletionsURL() string {
	path := ChatCompletionsPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return APIBase + path
}
