package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  port: 9090
protocol:
  admin: "0x00000000000000000000000000000000000000a1"
  mintToken: USDX
  redemptionDelaySeconds: 604800
  mintFeeRate: 100
  firstDepositAmount: "100000000000000000000"
tokens:
  - symbol: USDX
    decimals: 18
  - symbol: USDC
    decimals: 6
    balances:
      "0x00000000000000000000000000000000000000b0": "5000000000"
assets:
  - token: USDC
roles:
  OPERATOR_ROLE: ["0x00000000000000000000000000000000000000c1"]
keeper:
  enabled: true
  operator: "0x00000000000000000000000000000000000000c1"
`

func TestParseFillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "issuance", cfg.NATS.SubjectPrefix)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, "admin", cfg.Admin.Username)
	assert.Equal(t, "sUSDX", cfg.Protocol.ShareSymbol)
	assert.Equal(t, 7*24*time.Hour, cfg.Protocol.RedemptionDelay())
	assert.Equal(t, uint64(100), cfg.Protocol.MintFeeRate)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL())
	assert.Equal(t, time.Minute, cfg.Keeper.Interval())
	assert.Zero(t, cfg.Settlement.BatchInterval())

	require.Len(t, cfg.Tokens, 2)
	assert.Equal(t, uint8(6), cfg.Tokens[1].Decimals)
	assert.Equal(t, "5000000000", cfg.Tokens[1].Balances["0x00000000000000000000000000000000000000b0"])
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000c1"}, cfg.Roles["OPERATOR_ROLE"])
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unterminated"))
	require.Error(t, err)
}

func TestLoadConfigAppliesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DATABASE_DSN", "postgres://localhost/issuance")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("ADMIN_ALLOWED_IPS", "10.0.0.0/8")
	t.Setenv("KEEPER_ENABLED", "false")

	require.NoError(t, LoadConfig(path))
	require.NotNil(t, AppConfig)

	assert.Equal(t, 7070, AppConfig.Server.Port)
	assert.Equal(t, "postgres://localhost/issuance", AppConfig.Database.DSN)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, AppConfig.CORS.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.0/8"}, AppConfig.Admin.AllowedIPs)
	assert.False(t, AppConfig.Keeper.Enabled)
	assert.Equal(t, ":7070", AppConfig.Server.ServerAddress())
}

func TestLoadConfigMissingFile(t *testing.T) {
	err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
