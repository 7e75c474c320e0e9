package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesServiceConfig(t *testing.T) {
	path := writeFile(t, `
listen: 127.0.0.1:9000
environment: staging
market_config: ./markets/main.toml
storage:
  backend: LevelDB
  data_dir: /var/lib/vaultd
tls:
  allow_insecure: true
auth:
  enabled: true
  hmac_secret: s3cret
  issuer: vaultd
rate_limits:
  lending:
    rate_per_second: 10
    burst: 20
    tokens:
      "POST /v1/batch": 5
logging:
  level: debug
  file:
    path: /var/log/vaultd.log
    max_size_mb: 50
telemetry:
  traces: true
  sample_ratio: 0.25
timeouts:
  write: 30s
faucet_enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, BackendLevelDB, cfg.Storage.Backend)
	require.Equal(t, "/var/lib/vaultd", cfg.Storage.DataDir)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 5, cfg.RateLimits["lending"].Tokens["POST /v1/batch"])
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 50, cfg.Logging.File.MaxSizeMB)
	require.Equal(t, "vaultd", cfg.Telemetry.ServiceName)
	require.Equal(t, "staging", cfg.Telemetry.Environment)
	require.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)
	require.Equal(t, 30*time.Second, cfg.Timeouts.Write.Duration)
	require.Equal(t, 5*time.Second, cfg.Timeouts.ReadHeader.Duration)
	require.True(t, cfg.FaucetEnabled)
	require.Equal(t, "***", cfg.Sanitized().Auth.HMACSecret)
	require.Equal(t, "s3cret", cfg.Auth.HMACSecret)
}

func TestLoadDefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv(EnvListen, ":7000")
	t.Setenv(EnvBackend, "bolt")
	t.Setenv(EnvFaucet, "true")
	t.Setenv(EnvOTLPHeaders, "api-key=abc")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.ListenAddress)
	require.Equal(t, BackendBolt, cfg.Storage.Backend)
	require.Equal(t, defaultDataDir, cfg.Storage.DataDir)
	require.True(t, cfg.FaucetEnabled)
	require.Equal(t, map[string]string{"api-key": "abc"}, cfg.Telemetry.Headers)
	require.Equal(t, map[string]string{"api-key": "***"}, cfg.Sanitized().Telemetry.Headers)
	require.Equal(t, defaultMarketConfig, cfg.MarketConfig)
	require.False(t, cfg.TLS.Enabled())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"backend":     "storage:\n  backend: rocksdb\n",
		"tls pair":    "tls:\n  cert: server.crt\n  allow_insecure: true\n",
		"tls missing": "tls:\n  allow_insecure: false\n",
		"auth secret": "auth:\n  enabled: true\n",
		"token cost":  "rate_limits:\n  lending:\n    burst: 2\n    tokens:\n      \"POST /v1/batch\": 3\n",
		"unknown key": "listen_addr: :9000\n",
		"duration":    "timeouts:\n  read: soon\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, contents))
			require.Error(t, err)
		})
	}
}
