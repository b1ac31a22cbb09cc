package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/vision2voice/pkg/icron"
	"github.com/MimeLyc/vision2voice/pkg/log"
	"golang.org/x/text/language"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// Remote AI service:
// - API_BASE_URL: base URL of the caption/translate/tts service (default: http://localhost:8000)
// - API_TIMEOUT: request timeout in seconds (default: 60)
//
// HTTP:
// - HTTP_ADDR: listen address (default: :8080)
// - UI_ENABLED: serve the static UI (default: true)
// - UI_STATIC_DIR: static UI directory (default: /app/web)
//
// Storage:
// - HISTORY_BACKEND: sqlite or redis (default: sqlite)
// - DATA_DIR: directory holding the sqlite database (default: /app/data)
// - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_PREFIX: redis backend settings
//
// History and pipeline:
// - SWEEP_CRON: schedule of the expired-record sweep (default: @every 1h)
// - DEFAULT_LANGUAGE: target language when a request and the saved settings name none (default: en)
// - WORKERS: concurrent pipeline runs (default: 1)
//
// System:
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - SETTINGS_FILE: accessibility settings file (default: /app/config/settings.json)
type Config struct {
	API      APIConfig      `json:"api"`
	HTTP     HTTPConfig     `json:"http"`
	Storage  StorageConfig  `json:"storage"`
	History  HistoryConfig  `json:"history"`
	Pipeline PipelineConfig `json:"pipeline"`
	System   SystemConfig   `json:"system"`
}

type APIConfig struct {
	BaseURL string `json:"base_url"`
	Timeout int    `json:"timeout"`
}

// URL returns the API root: the base URL without trailing slash plus "/api".
func (c APIConfig) URL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/api"
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIEnabled   bool   `json:"ui_enabled"`
	UIStaticDir string `json:"ui_static_dir"`
}

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type StorageConfig struct {
	Backend       string `json:"backend"`
	DataDir       string `json:"data_dir"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`
}

type HistoryConfig struct {
	SweepCron string `json:"sweep_cron"`
}

type PipelineConfig struct {
	DefaultLanguage string `json:"default_language"`
	Workers         int    `json:"workers"`
}

type SystemConfig struct {
	LogLevel     string `json:"log_level"`
	SettingsFile string `json:"settings_file"`
}

// DBPath is the sqlite database file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "vision2voice.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithAPIBaseURL(url string) Option {
	return func(c *Config) {
		if strings.TrimSpace(url) != "" {
			c.API.BaseURL = url
		}
	}
}

func WithDataDir(dir string) Option {
	return func(c *Config) {
		if strings.TrimSpace(dir) != "" {
			c.Storage.DataDir = dir
		}
	}
}

func WithBackend(backend string) Option {
	return func(c *Config) {
		if strings.TrimSpace(backend) != "" {
			c.Storage.Backend = backend
		}
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		API: APIConfig{
			BaseURL: getEnvString("API_BASE_URL", "http://localhost:8000"),
			Timeout: getEnvInt("API_TIMEOUT", 60),
		},
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8080"),
			UIEnabled:   getEnvBool("UI_ENABLED", true),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "/app/web"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnvString("HISTORY_BACKEND", BackendSQLite)),
			DataDir:       getEnvString("DATA_DIR", "/app/data"),
			RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			RedisPrefix:   getEnvString("REDIS_PREFIX", "vision2voice:history"),
		},
		History: HistoryConfig{
			SweepCron: getEnvString("SWEEP_CRON", "@every 1h"),
		},
		Pipeline: PipelineConfig{
			DefaultLanguage: strings.ToLower(getEnvString("DEFAULT_LANGUAGE", "en")),
			Workers:         getEnvInt("WORKERS", 1),
		},
		System: SystemConfig{
			LogLevel:     getEnvString("LOG_LEVEL", "info"),
			SettingsFile: getEnvString("SETTINGS_FILE", "/app/config/settings.json"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive")
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.DataDir) == "" {
			return fmt.Errorf("DATA_DIR is required for the sqlite backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported HISTORY_BACKEND: %s", c.Storage.Backend)
	}
	if _, err := icron.Parse(c.History.SweepCron); err != nil {
		return fmt.Errorf("invalid SWEEP_CRON: %w", err)
	}
	if _, err := language.Parse(c.Pipeline.DefaultLanguage); err != nil {
		return fmt.Errorf("invalid DEFAULT_LANGUAGE: %w", err)
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 1
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
