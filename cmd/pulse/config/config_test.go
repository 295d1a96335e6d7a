// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "sqlite://pulse.db", cfg.Database.URL)
	assert.Equal(t, "HS256", cfg.Auth.TokenAlgorithm)
	assert.Equal(t, 30*time.Second, cfg.Monitor.HeartbeatInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	dir := t.TempDir()
	cfg, err := load(filepath.Join(dir, "absent.yaml"), false, "", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	dir := t.TempDir()
	_, err := load(filepath.Join(dir, "absent.yaml"), true, "", envMap(nil))
	assert.Error(t, err)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9100
  allowed_origins: ["https://ops.example.com"]
database:
  url: postgres://pulse@db/pulse
monitor:
  interval: 5m
logging:
  level: debug
  json: true
`)
	cfg, err := load(path, true, "", envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://pulse@db/pulse", cfg.Database.URL)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.Interval)
	assert.True(t, cfg.Logging.JSON)
	// untouched sections keep their defaults
	assert.Equal(t, "HS256", cfg.Auth.TokenAlgorithm)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "server: [unclosed")
	_, err := load(path, true, "", envMap(nil))
	assert.Error(t, err)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "server:\n  port: 9100\nbroker:\n  url: nats://yaml:4222\n")
	envFile := writeFile(t, dir, ".env", "PORT=9200\nREDIS_URL=redis://dotenv:6379\nBROKER_URL=nats://dotenv:4222\n")

	cfg, err := load(path, true, envFile, envMap(map[string]string{"PORT": "9300"}))
	require.NoError(t, err)

	assert.Equal(t, 9300, cfg.Server.Port, "process env beats .env")
	assert.Equal(t, "redis://dotenv:6379", cfg.Cache.RedisURL, ".env beats defaults")
	assert.Equal(t, "nats://dotenv:4222", cfg.Broker.URL, ".env beats yaml")
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	dir := t.TempDir()
	_, err := load("", false, filepath.Join(dir, ".env"), envMap(nil))
	assert.NoError(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	_, err := load("", false, "", envMap(map[string]string{"OTEL_TRACES_EXPORTER": "zipkin"}))
	assert.Error(t, err)

	_, err = load("", false, "", envMap(map[string]string{"PORT": "70000"}))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(&cfg, envMap(map[string]string{
		"DATABASE_URL":                "sqlite:///var/lib/pulse.db",
		"SECRET_KEY":                  "s3cret",
		"ALLOWED_ORIGINS":             "https://a.example.com/, https://b.example.com",
		"INFLUXDB_URL":                "http://influx:8086",
		"INFLUXDB_BUCKET":             "telemetry",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
		"MONITOR_INTERVAL":            "90s",
		"LOG_JSON":                    "true",
		"LOG_LEVEL":                   "warn",
	}))
	require.NoError(t, err)

	assert.Equal(t, "sqlite:///var/lib/pulse.db", cfg.Database.URL)
	assert.Equal(t, "s3cret", cfg.Auth.SecretKey)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "http://influx:8086", cfg.Influx.URL)
	assert.Equal(t, "telemetry", cfg.Influx.Bucket)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, 90*time.Second, cfg.Monitor.Interval)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestApplyEnv_MalformedValues(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(&cfg, envMap(map[string]string{
		"PORT":             "eighty",
		"LOG_JSON":         "sometimes",
		"MONITOR_INTERVAL": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "LOG_JSON")
	assert.Contains(t, err.Error(), "MONITOR_INTERVAL")
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestOrchestratorMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Dir = "/var/cache/pulse"
	cfg.Influx = InfluxConfig{URL: "http://influx:8086", Org: "ops", Bucket: "b", Token: "t"}
	cfg.Monitor.Interval = time.Minute

	oc := cfg.Orchestrator()
	assert.Equal(t, 8000, oc.Port)
	assert.Equal(t, "sqlite://pulse.db", oc.DatabaseURL)
	assert.Equal(t, "/var/cache/pulse", oc.CacheDir)
	assert.Equal(t, "ops", oc.Influx.Org)
	assert.Equal(t, time.Minute, oc.MonitorInterval)
	assert.Equal(t, 30*time.Second, oc.HeartbeatInterval)
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.JSON = true

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.JSON)
	assert.Equal(t, "pulse", lc.Service)
}

func TestNewLogger_ExportsToAuditFile(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(&cfg, envMap(map[string]string{
		"LOG_LEVEL":  "error",
		"LOG_EXPORT": filepath.Join(t.TempDir(), "audit", "pulse.jsonl"),
	})))

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	logger.Info("below level")
	logger.Error("ingest failed", "identifier", "cell-1")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(cfg.Logging.Export)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "below level")
	assert.Contains(t, string(data), `"msg":"ingest failed"`)
	assert.Contains(t, string(data), `"identifier":"cell-1"`)
}

func TestNewLogger_BadExportPath(t *testing.T) {
	blocker := writeFile(t, t.TempDir(), "file", "x")
	cfg := DefaultConfig()
	cfg.Logging.Export = filepath.Join(blocker, "pulse.jsonl")

	_, err := cfg.NewLogger()
	assert.Error(t, err)
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := load(path, true, "", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
