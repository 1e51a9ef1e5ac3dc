/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// BatchPolicy selects what a failed composite booking does with slots it already created.
type BatchPolicy string

const (
	BatchPolicyReport     BatchPolicy = "report"
	BatchPolicyCompensate BatchPolicy = "compensate"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	// Site profile (YAML) with capacity and placement rules
	SiteProfilePath string
	Site            SiteProfile

	// Composite booking behaviour on partial failure
	BatchPolicy BatchPolicy

	// Advisory loop for critical anomalies
	AdvisorEnabled  bool
	AdvisorInterval time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis (period cache and booking locks)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
	InstanceID    string

	// NATS event forwarding
	NATSURL string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"ANOMALYOPS_ENV", "APP_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"ANOMALYOPS_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"ANOMALYOPS_HTTP_PORT", "PORT"}, 8080),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"ANOMALYOPS_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:       getEnvAny([]string{"ANOMALYOPS_DB_DSN", "DATABASE_URL"}, ""),
		MetricsBind: getEnvAny([]string{"ANOMALYOPS_METRICS_BIND"}, "127.0.0.1:9000"),

		SiteProfilePath: getEnvAny([]string{"ANOMALYOPS_SITE_PROFILE"}, ""),
		BatchPolicy:     BatchPolicy(getEnvAny([]string{"ANOMALYOPS_BATCH_POLICY"}, string(BatchPolicyReport))),

		AdvisorEnabled:  getEnvBoolAny([]string{"ANOMALYOPS_ADVISOR_ENABLED"}, true),
		AdvisorInterval: time.Duration(getEnvIntAny([]string{"ANOMALYOPS_ADVISOR_INTERVAL_SECONDS"}, 300)) * time.Second,

		TracingEnabled:    getEnvBoolAny([]string{"ANOMALYOPS_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"ANOMALYOPS_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"ANOMALYOPS_TRACING_SAMPLE_RATE"}, 1.0),

		RedisEnabled:  getEnvBoolAny([]string{"ANOMALYOPS_REDIS_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"ANOMALYOPS_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"ANOMALYOPS_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"ANOMALYOPS_REDIS_DB"}, 0),
		LockTTL:       time.Duration(getEnvIntAny([]string{"ANOMALYOPS_LOCK_TTL_SECONDS"}, 10)) * time.Second,
		InstanceID:    getEnvAny([]string{"ANOMALYOPS_INSTANCE_ID", "HOSTNAME"}, ""),

		NATSURL: getEnvAny([]string{"ANOMALYOPS_NATS_URL", "NATS_URL"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("ANOMALYOPS_DB_DSN or DATABASE_URL must be provided")
	}

	if cfg.BatchPolicy != BatchPolicyReport && cfg.BatchPolicy != BatchPolicyCompensate {
		return nil, fmt.Errorf("unsupported batch policy %q", cfg.BatchPolicy)
	}

	if cfg.AdvisorInterval <= 0 {
		return nil, fmt.Errorf("ANOMALYOPS_ADVISOR_INTERVAL_SECONDS must be positive")
	}

	site, err := LoadSiteProfile(cfg.SiteProfilePath)
	if err != nil {
		return nil, err
	}
	if v := getEnvFloatAny([]string{"ANOMALYOPS_SITE_CAPACITY_MW"}, 0); v > 0 {
		site.CapacityMW = v
	}
	if tz := getEnvAny([]string{"ANOMALYOPS_SITE_TIMEZONE"}, ""); tz != "" {
		site.Timezone = tz
	}
	if err := site.Validate(); err != nil {
		return nil, fmt.Errorf("site profile: %w", err)
	}
	cfg.Site = site

	if strings.EqualFold(cfg.Environment, "production") && cfg.RedisEnabled && cfg.InstanceID == "" {
		return nil, fmt.Errorf("ANOMALYOPS_INSTANCE_ID must be set in production when Redis locking is enabled")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"SITE_CAPACITY_MW":    "use ANOMALYOPS_SITE_CAPACITY_MW or capacity_mw in the site profile",
		"MAINTENANCE_HORIZON": "use horizon_days in the site profile",
		"TRACING_ENABLED":     "use ANOMALYOPS_TRACING_ENABLED",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
