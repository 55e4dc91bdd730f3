package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Leader = AccountConfig{ClientID: "1000000001", AccessToken: "leader-token"}
	cfg.Follower = AccountConfig{ClientID: "1000000002", AccessToken: "follower-token"}
	return cfg
}

func TestDefaultsValidateWithAccounts(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	t.Setenv("LEADER_CLIENT_ID", "1000000001")
	t.Setenv("LEADER_ACCESS_TOKEN", "leader-token")
	t.Setenv("FOLLOWER_CLIENT_ID", "1000000002")
	t.Setenv("FOLLOWER_ACCESS_TOKEN", "follower-token")
	t.Setenv("SIZING_STRATEGY", StrategyFixedRatio)
	t.Setenv("COPY_RATIO", "0.5")
	t.Setenv("BROKER_ENV", EnvSandbox)
	t.Setenv("COPY_SEGMENTS", "NSE_FNO, BSE_FNO")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "1000000001", cfg.Leader.ClientID)
	assert.Equal(t, []string{"NSE_FNO", "BSE_FNO"}, cfg.System.CopySegments)
	assert.Equal(t, StrategyFixedRatio, cfg.Sizing.Strategy)
	assert.Equal(t, 0.5, cfg.Sizing.CopyRatio)
	assert.Equal(t, sandboxBaseURL, cfg.System.BaseURL)
	assert.Equal(t, sandboxStream, cfg.System.StreamURL)
}

func TestLoadFileWithEnvExpansionAndOverride(t *testing.T) {
	t.Setenv("TEST_LEADER_TOKEN", "expanded-token")
	t.Setenv("FOLLOWER_CLIENT_ID", "2000000009") // env wins over file

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
leader:
  client_id: "1000000001"
  access_token: "${TEST_LEADER_TOKEN}"
follower:
  client_id: "1000000002"
  access_token: "follower-token"
sizing:
  strategy: fixed_ratio
  copy_ratio: 0.25
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-token", cfg.Leader.AccessToken.Reveal())
	assert.Equal(t, "2000000009", cfg.Follower.ClientID)
	assert.Equal(t, 0.25, cfg.Sizing.CopyRatio)
	// File values merge over defaults, not replace them.
	assert.Equal(t, 10.0, cfg.Sizing.MaxPositionPct)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing leader token", func(c *Config) { c.Leader.AccessToken = "" }, "leader.access_token"},
		{"same account twice", func(c *Config) { c.Follower.ClientID = c.Leader.ClientID }, "distinct accounts"},
		{"unknown strategy", func(c *Config) { c.Sizing.Strategy = "martingale" }, "sizing.strategy"},
		{"position pct out of range", func(c *Config) { c.Sizing.MaxPositionPct = 150 }, "max_position_pct"},
		{"zero rate limit", func(c *Config) { c.Dispatch.RateLimitPerSecond = 0 }, "rate_limit_per_second"},
		{"retry attempts out of range", func(c *Config) { c.Dispatch.RetryAttempts = 0 }, "retry_attempts"},
		{"bad environment", func(c *Config) { c.System.Environment = "staging" }, "system.environment"},
		{"bad log level", func(c *Config) { c.System.LogLevel = "verbose" }, "system.log_level"},
		{"empty store path", func(c *Config) { c.System.StorePath = "" }, "system.store_path"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret-token")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret-token", s.Reveal())

	out, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "super-secret-token")

	y, err := yaml.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(y), "super-secret-token")
}

func TestSecretEmpty(t *testing.T) {
	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, "", Secret("").Reveal())
}
