package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.True(t, cfg.Compression)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	t.Setenv("SCOREKEEPER_SERVER_URL", "https://scores.example.com")
	t.Setenv("SCOREKEEPER_BATCH_SIZE", "5")
	t.Setenv("SCOREKEEPER_COMPRESSION", "false")
	t.Setenv("SCOREKEEPER_BACKOFF_MAX", "2m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://scores.example.com", cfg.ServerURL)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.False(t, cfg.Compression)
	assert.Equal(t, 2*time.Minute, cfg.BackoffMax)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--batch-size", "7", "--db", "/tmp/cart.db"}))

	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, "/tmp/cart.db", cfg.DBPath)
	assert.Equal(t, "https://scores.example.com", cfg.ServerURL)

	sc := cfg.SyncConfig()
	assert.Equal(t, 7, sc.BatchSize)
	assert.Equal(t, 2*time.Minute, sc.BackoffMax)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SCOREKEEPER_CALL_TIMEOUT", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCOREKEEPER_CALL_TIMEOUT")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		modify func(*Config)
		name   string
	}{
		{name: "bad scheme", modify: func(c *Config) { c.ServerURL = "ftp://host" }},
		{name: "no host", modify: func(c *Config) { c.ServerURL = "http://" }},
		{name: "empty db", modify: func(c *Config) { c.DBPath = "" }},
		{name: "zero batch", modify: func(c *Config) { c.BatchSize = 0 }},
		{name: "backoff inverted", modify: func(c *Config) { c.BackoffMax = c.BackoffBase / 2 }},
		{name: "unknown level", modify: func(c *Config) { c.LogLevel = "chatty" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Rules(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Contains(t, rules.Types, "hole_score")

	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `types:
  round_card:
    fields:
      total:
        kind: integer
        rules: min=18,max=200
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cfg.RulesPath = path

	rules, err = cfg.Rules()
	require.NoError(t, err)
	assert.Contains(t, rules.Types, "round_card")
	assert.Contains(t, rules.Types, "hole_score")

	cfg.RulesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.Rules()
	assert.Error(t, err)
}
