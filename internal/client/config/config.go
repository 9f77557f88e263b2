// Package config загружает конфигурацию клиента: .env, переменные SCOREKEEPER_*,
// флаги командной строки и файл правил валидации.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iudanet/scorekeeper/internal/client/connectivity"
	clientsync "github.com/iudanet/scorekeeper/internal/client/sync"
	"github.com/iudanet/scorekeeper/internal/validation"
)

// Config конфигурация клиента
type Config struct {
	ServerURL      string
	DBPath         string
	RulesPath      string // YAML с правилами валидации; пусто - встроенные
	LogLevel       string
	S3Bucket       string // бакет для export-log --s3
	S3Prefix       string
	S3Region       string
	S3Endpoint     string // совместимые с S3 хранилища (minio)
	CallTimeout    time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	ProbeInterval  time.Duration
	Debounce       time.Duration
	BatchSize      int
	PullLimit      int
	MaxAttempts    int
	ErrorThreshold int
	Compression    bool
	Feed           bool // подписка на websocket-ленту в режиме run
}

// Load читает .env (если есть) и переменные окружения SCOREKEEPER_*.
// Флаги регистрируются отдельно через BindFlags и перекрывают окружение.
func Load() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := &Config{
		ServerURL:      getEnv("SCOREKEEPER_SERVER_URL", "http://localhost:8080"),
		DBPath:         getEnv("SCOREKEEPER_DB", "scorekeeper-client.db"),
		RulesPath:      getEnv("SCOREKEEPER_RULES", ""),
		LogLevel:       getEnv("SCOREKEEPER_LOG_LEVEL", "warn"),
		S3Bucket:       getEnv("SCOREKEEPER_S3_BUCKET", ""),
		S3Prefix:       getEnv("SCOREKEEPER_S3_PREFIX", "resolution-log/"),
		S3Region:       getEnv("SCOREKEEPER_S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("SCOREKEEPER_S3_ENDPOINT", ""),
		BatchSize:      getEnvAsInt("SCOREKEEPER_BATCH_SIZE", clientsync.DefaultBatchSize),
		PullLimit:      getEnvAsInt("SCOREKEEPER_PULL_LIMIT", clientsync.DefaultPullLimit),
		MaxAttempts:    getEnvAsInt("SCOREKEEPER_MAX_ATTEMPTS", clientsync.DefaultMaxAttempts),
		ErrorThreshold: getEnvAsInt("SCOREKEEPER_ERROR_THRESHOLD", clientsync.DefaultErrorThreshold),
		Compression:    getEnvAsBool("SCOREKEEPER_COMPRESSION", true),
		Feed:           getEnvAsBool("SCOREKEEPER_FEED", true),
	}

	durations := []struct {
		dst *time.Duration
		key string
		def string
	}{
		{dst: &cfg.CallTimeout, key: "SCOREKEEPER_CALL_TIMEOUT", def: "10s"},
		{dst: &cfg.BackoffBase, key: "SCOREKEEPER_BACKOFF_BASE", def: "1s"},
		{dst: &cfg.BackoffMax, key: "SCOREKEEPER_BACKOFF_MAX", def: "60s"},
		{dst: &cfg.ProbeInterval, key: "SCOREKEEPER_PROBE_INTERVAL", def: "30s"},
		{dst: &cfg.Debounce, key: "SCOREKEEPER_DEBOUNCE", def: "2s"},
	}
	for _, d := range durations {
		value, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = value
	}

	return cfg, nil
}

// BindFlags регистрирует флаги с текущими значениями конфигурации по умолчанию
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server", c.ServerURL, "sync server URL")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "path to local database")
	fs.StringVar(&c.RulesPath, "rules", c.RulesPath, "YAML file with validation rules")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&c.Compression, "compress", c.Compression, "snappy-compress push requests")
	fs.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "max changes per push")
	fs.DurationVar(&c.CallTimeout, "call-timeout", c.CallTimeout, "timeout of a single server call")
	fs.BoolVar(&c.Feed, "feed", c.Feed, "subscribe to the server change feed in run mode")
}

// Validate проверяет значения после применения флагов
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL %q", c.ServerURL)
	}
	if c.DBPath == "" {
		return errors.New("database path is required")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if c.PullLimit <= 0 {
		return errors.New("pull limit must be positive")
	}
	if c.CallTimeout <= 0 {
		return errors.New("call timeout must be positive")
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return errors.New("backoff base must be positive and not exceed backoff max")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SyncConfig параметры движка синхронизации
func (c *Config) SyncConfig() clientsync.Config {
	return clientsync.Config{
		BatchSize:      c.BatchSize,
		PullLimit:      c.PullLimit,
		CallTimeout:    c.CallTimeout,
		BackoffBase:    c.BackoffBase,
		BackoffMax:     c.BackoffMax,
		MaxAttempts:    c.MaxAttempts,
		ErrorThreshold: c.ErrorThreshold,
	}
}

// MonitorConfig параметры монитора связи
func (c *Config) MonitorConfig() connectivity.Config {
	return connectivity.Config{
		ProbeInterval: c.ProbeInterval,
		ProbeTimeout:  c.CallTimeout,
		Debounce:      c.Debounce,
	}
}

// Rules загружает правила валидации из RulesPath или возвращает встроенные
func (c *Config) Rules() (*validation.Rules, error) {
	if c.RulesPath == "" {
		return validation.DefaultRules(), nil
	}
	return validation.LoadRules(c.RulesPath)
}

// ParseLevel переводит строковый уровень в slog.Level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
