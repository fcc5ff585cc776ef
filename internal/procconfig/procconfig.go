// Package procconfig reads the handful of process-level deployment knobs
// that are allowed to come from the environment. None of them influence
// core pipeline decisions (routing, filtering, rate limiting, failover) —
// per the external-interfaces contract, those come exclusively from the
// JSON documents under the config root. These knobs only wire optional
// ambient infrastructure (where the config root lives, and whether the
// analytics side channel is enabled).
package procconfig

import (
	"os"
	"path/filepath"
)

// Config holds process-level, non-behavioral settings.
type Config struct {
	// ConfigRoot is the directory holding claude.json, codex.json, etc.
	// Defaults to ~/.clp. Overridable for tests and containerized runs.
	ConfigRoot string

	// AnalyticsDSN, when set, enables the Postgres usage-analytics sink.
	AnalyticsDSN string

	// AnalyticsRedisAddr, when set, makes the analytics queue Redis-backed
	// instead of in-memory (for multi-process deployments).
	AnalyticsRedisAddr string

	// ArchivalBucket/ArchivalRegion are read from the environment, but
	// nothing consults them: the S3 archival sink is enabled by
	// archival.bucket in system.json.
	ArchivalBucket string
	ArchivalRegion string

	// RateLimitRedisAddr, when set, makes the rate limiter Redis-backed so
	// multiple proxy processes share one RPM ledger per upstream config.
	RateLimitRedisAddr string
}

// Load reads process-level configuration from the environment.
func Load() (*Config, error) {
	root := os.Getenv("CLPROXY_CONFIG_ROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		root = filepath.Join(home, ".clp")
	}

	return &Config{
		ConfigRoot:         root,
		AnalyticsDSN:       os.Getenv("CLPROXY_ANALYTICS_DSN"),
		AnalyticsRedisAddr: os.Getenv("CLPROXY_ANALYTICS_REDIS_ADDR"),
		ArchivalBucket:     os.Getenv("CLPROXY_ARCHIVAL_BUCKET"),
		ArchivalRegion:     os.Getenv("CLPROXY_ARCHIVAL_REGION"),
		RateLimitRedisAddr: os.Getenv("CLPROXY_RATELIMIT_REDIS_ADDR"),
	}, nil
}
