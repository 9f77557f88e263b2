// Package config загружает конфигурацию сервера: .env, переменные окружения, флаги.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config конфигурация сервера синхронизации
type Config struct {
	Addr            string
	DSN             string // путь к файлу SQLite или postgres://...
	JWTSecret       string
	EnrollCode      string // код регистрации устройств official/system
	LogLevel        string
	TokenTTL        time.Duration
	ShutdownTimeout time.Duration
	EnrollRate      int // регистраций в минуту с одного IP
	FeedMaxConns    int // websocket-соединений на устройство
}

// Load читает .env (если есть), переменные SCOREKEEPER_SERVER_* и флаги args.
// Флаги имеют приоритет над окружением.
func Load(args []string) (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	ttl, err := time.ParseDuration(getEnv("SCOREKEEPER_SERVER_TOKEN_TTL", "720h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCOREKEEPER_SERVER_TOKEN_TTL: %w", err)
	}

	cfg := &Config{
		Addr:            getEnv("SCOREKEEPER_SERVER_ADDR", ":8080"),
		DSN:             getEnv("SCOREKEEPER_SERVER_DSN", "scorekeeper.db"),
		JWTSecret:       getEnv("SCOREKEEPER_SERVER_JWT_SECRET", ""),
		EnrollCode:      getEnv("SCOREKEEPER_SERVER_ENROLL_CODE", ""),
		LogLevel:        getEnv("SCOREKEEPER_SERVER_LOG_LEVEL", "info"),
		TokenTTL:        ttl,
		ShutdownTimeout: 10 * time.Second,
		EnrollRate:      getEnvAsInt("SCOREKEEPER_SERVER_ENROLL_RATE", 10),
		FeedMaxConns:    getEnvAsInt("SCOREKEEPER_SERVER_FEED_MAX_CONNS", 4),
	}

	fs := flag.NewFlagSet("scorekeeper-server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "SQLite file path or postgres:// connection string")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "device token lifetime")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	fs.IntVar(&cfg.EnrollRate, "enroll-rate", cfg.EnrollRate, "enrollments per minute per IP")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("SCOREKEEPER_SERVER_JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("SCOREKEEPER_SERVER_JWT_SECRET must be at least 32 characters")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if c.EnrollRate <= 0 {
		return errors.New("enroll rate must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel переводит строковый уровень в slog.Level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
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
