// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config resolves the pulse CLI configuration.
//
// # Description
//
// Values are layered, each step overriding the one before:
//
//  1. DefaultConfig()
//  2. The YAML file (~/.pulse/config.yaml unless --config or PULSE_CONFIG
//     names another)
//  3. A .env file in the working directory
//  4. Process environment variables
//
// A variable already set in the process environment wins over the same
// name in .env, matching godotenv.Load semantics, but the process
// environment itself is never modified.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/pkg/validation"
	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
	"github.com/AleutianAI/AleutianPulse/services/orchestrator"
	"github.com/AleutianAI/AleutianPulse/services/orchestrator/middleware"
)

// PathEnv names the variable that overrides the config file location.
const PathEnv = "PULSE_CONFIG"

// Config is the full CLI configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Broker    BrokerConfig    `yaml:"broker"`
	Auth      AuthConfig      `yaml:"auth"`
	Sources   SourcesConfig   `yaml:"sources"`
	LLM       LLMConfig       `yaml:"llm"`
	Influx    InfluxConfig    `yaml:"influx"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	Environment     string        `yaml:"environment"`
	AllowedOrigins  []string      `yaml:"allowed_origins,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url" validate:"required"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

type CacheConfig struct {
	RedisURL string `yaml:"redis_url"`
	Dir      string `yaml:"dir"`
}

type BrokerConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	SecretKey      string `yaml:"secret_key"`
	TokenAlgorithm string `yaml:"token_algorithm"`
}

type SourcesConfig struct {
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	AirtableAPIKey        string `yaml:"airtable_api_key"`
}

type LLMConfig struct {
	OpenAIAPIKey string `yaml:"openai_api_key"`
	Model        string `yaml:"model"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type TelemetryConfig struct {
	TracesExporter string `yaml:"traces_exporter" validate:"omitempty,oneof=otlp stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

type MonitorConfig struct {
	Interval          time.Duration `yaml:"interval" validate:"gte=0"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`

	// Export is a JSONL audit file that receives every record at or above
	// Level. Empty disables it.
	Export string `yaml:"export,omitempty"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			Environment:     "development",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{URL: "sqlite://pulse.db"},
		Auth:     AuthConfig{TokenAlgorithm: "HS256"},
		Monitor:  MonitorConfig{HeartbeatInterval: 30 * time.Second},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// DefaultPath returns ~/.pulse/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".pulse", "config.yaml"), nil
}

// Load resolves the configuration from path, ./.env and the environment.
// An empty path falls back to PULSE_CONFIG, then DefaultPath, and a
// missing default file is not an error. A path that was asked for
// explicitly must exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		if p, ok := os.LookupEnv(PathEnv); ok && p != "" {
			path, explicit = p, true
		} else if p, err := DefaultPath(); err == nil {
			path = p
		}
	}
	return load(path, explicit, ".env", os.LookupEnv)
}

func load(path string, explicit bool, envFile string, lookup LookupFunc) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
	}

	if envFile != "" {
		dotenv, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		lookup = withFallback(lookup, dotenv)
	}

	if err := ApplyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes DefaultConfig to path, creating its directory.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Orchestrator maps the configuration onto the service config.
func (c Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Port:                  c.Server.Port,
		Environment:           c.Server.Environment,
		AllowedOrigins:        c.Server.AllowedOrigins,
		ShutdownTimeout:       c.Server.ShutdownTimeout,
		DatabaseURL:           c.Database.URL,
		DBMaxOpenConns:        c.Database.MaxOpenConns,
		RedisURL:              c.Cache.RedisURL,
		CacheDir:              c.Cache.Dir,
		BrokerURL:             c.Broker.URL,
		SecretKey:             c.Auth.SecretKey,
		TokenAlgorithm:        c.Auth.TokenAlgorithm,
		GoogleCredentialsFile: c.Sources.GoogleCredentialsFile,
		AirtableAPIKey:        c.Sources.AirtableAPIKey,
		OpenAIAPIKey:          c.LLM.OpenAIAPIKey,
		OpenAIModel:           c.LLM.Model,
		Influx: store.InfluxConfig{
			URL:    c.Influx.URL,
			Token:  c.Influx.Token,
			Org:    c.Influx.Org,
			Bucket: c.Influx.Bucket,
		},
		TracesExporter:    c.Telemetry.TracesExporter,
		OTelEndpoint:      c.Telemetry.OTLPEndpoint,
		MonitorInterval:   c.Monitor.Interval,
		HeartbeatInterval: c.Monitor.HeartbeatInterval,
	}
}

// LoggerConfig maps the logging section onto a logging.Config. The
// export file is not opened here; see NewLogger.
func (c Config) LoggerConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		JSON:    c.Logging.JSON,
		LogDir:  c.Logging.Dir,
		Service: orchestrator.ServiceName,
	}
}

// NewLogger builds the service logger, opening the export file when one
// is configured. Closing the logger closes the file.
func (c Config) NewLogger() (*logging.Logger, error) {
	lc := c.LoggerConfig()
	if c.Logging.Export != "" {
		exp, err := logging.OpenJSONLExporter(c.Logging.Export)
		if err != nil {
			return nil, err
		}
		lc.Exporter = exp
	}
	return logging.New(lc), nil
}

// =============================================================================
// Environment overrides
// =============================================================================

// LookupFunc has the shape of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

func withFallback(primary LookupFunc, fallback map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

// ApplyEnv overrides cfg from the variables lookup resolves. Only set
// variables are applied. A malformed number, bool or duration is an
// error naming the variable.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.int("PORT", &cfg.Server.Port)
	e.str("ENVIRONMENT", &cfg.Server.Environment)
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = []string(middleware.ParseOrigins(v))
	}
	e.duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	e.str("DATABASE_URL", &cfg.Database.URL)
	e.int("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.str("REDIS_URL", &cfg.Cache.RedisURL)
	e.str("CACHE_DIR", &cfg.Cache.Dir)
	e.str("BROKER_URL", &cfg.Broker.URL)

	e.str("SECRET_KEY", &cfg.Auth.SecretKey)
	e.str("TOKEN_ALGORITHM", &cfg.Auth.TokenAlgorithm)

	e.str("GOOGLE_SHEETS_CREDENTIALS", &cfg.Sources.GoogleCredentialsFile)
	e.str("AIRTABLE_API_KEY", &cfg.Sources.AirtableAPIKey)
	e.str("OPENAI_API_KEY", &cfg.LLM.OpenAIAPIKey)
	e.str("OPENAI_MODEL", &cfg.LLM.Model)

	e.str("INFLUXDB_URL", &cfg.Influx.URL)
	e.str("INFLUXDB_TOKEN", &cfg.Influx.Token)
	e.str("INFLUXDB_ORG", &cfg.Influx.Org)
	e.str("INFLUXDB_BUCKET", &cfg.Influx.Bucket)

	e.str("OTEL_TRACES_EXPORTER", &cfg.Telemetry.TracesExporter)
	e.str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	e.duration("MONITOR_INTERVAL", &cfg.Monitor.Interval)
	e.duration("HEARTBEAT_INTERVAL", &cfg.Monitor.HeartbeatInterval)

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.bool("LOG_JSON", &cfg.Logging.JSON)
	e.str("LOG_DIR", &cfg.Logging.Dir)
	e.str("LOG_EXPORT", &cfg.Logging.Export)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return
	}
	*dst = n
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return
	}
	*dst = d
}
