package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_EnvAndFlags(t *testing.T) {
	t.Setenv("SCOREKEEPER_SERVER_JWT_SECRET", testSecret)
	t.Setenv("SCOREKEEPER_SERVER_DSN", "postgres://localhost/scores")
	t.Setenv("SCOREKEEPER_SERVER_TOKEN_TTL", "24h")
	t.Setenv("SCOREKEEPER_SERVER_ENROLL_RATE", "3")

	cfg, err := Load([]string{"-addr", "127.0.0.1:9000", "-log-level", "debug"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, "postgres://localhost/scores", cfg.DSN)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 3, cfg.EnrollRate)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		env  map[string]string
		name string
		args []string
	}{
		{name: "missing secret", env: map[string]string{}},
		{name: "short secret", env: map[string]string{"SCOREKEEPER_SERVER_JWT_SECRET": "short"}},
		{name: "bad ttl", env: map[string]string{"SCOREKEEPER_SERVER_JWT_SECRET": testSecret, "SCOREKEEPER_SERVER_TOKEN_TTL": "soon"}},
		{name: "bad level", env: map[string]string{"SCOREKEEPER_SERVER_JWT_SECRET": testSecret}, args: []string{"-log-level", "loud"}},
		{name: "unknown flag", env: map[string]string{"SCOREKEEPER_SERVER_JWT_SECRET": testSecret}, args: []string{"-nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SCOREKEEPER_SERVER_JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
