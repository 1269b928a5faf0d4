package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	require.Equal(t, "https://coston2-api.flare.network/ext/C/rpc", cfg.Chain.RPCEndpoint)
	require.Equal(t, uint64(114), cfg.Chain.ChainID)
	require.Equal(t, "0x48aC463d7975828989331F4De43341627b9c5f1D", cfg.Contracts.FdcHub)
	require.Equal(t, "https://jq-verifier-test.flare.rocks/", cfg.Verifier.BaseURL)
	require.Equal(t, "https://ctn2-data-availability.flare.network/", cfg.DALayer.BaseURL)
	require.Equal(t, uint64(200), cfg.Finality.ProtocolID)
	require.Equal(t, 1, cfg.Pipeline.Concurrency)
	require.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	require.Equal(t, "local", cfg.Lock.Backend)
	require.NotEmpty(t, cfg.Submitter.AuthorizationPatterns)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
chain:
  rpc_endpoint: http://localhost:9650/ext/C/rpc
  chain_id: 0
pipeline:
  concurrency: 4
  request_timeout: 10m
scheduler:
  interval: 90s
ledger:
  driver: memory
log:
  level: debug
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9650/ext/C/rpc", cfg.Chain.RPCEndpoint)
	require.Zero(t, cfg.Chain.ChainID)
	require.Equal(t, 4, cfg.Pipeline.Concurrency)
	require.Equal(t, 10*time.Minute, cfg.Pipeline.RequestTimeout)
	require.Equal(t, 90*time.Second, cfg.Scheduler.Interval)
	require.Equal(t, "memory", cfg.Ledger.Driver)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadLegacyEnvAliases(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", `PRIVATE_KEY=0xabc123
FLARE_RPC_URL=http://rpc.local
JQ_VERIFIER_URL_TESTNET=http://verifier.local/
JQ_VERIFIER_API_KEY=secret
COSTON2_DA_LAYER_URL=http://da.local/
`)
	for _, k := range []string{"PRIVATE_KEY", "FLARE_RPC_URL", "JQ_VERIFIER_URL_TESTNET", "JQ_VERIFIER_API_KEY", "COSTON2_DA_LAYER_URL"} {
		t.Cleanup(func() { _ = os.Unsetenv(k) })
	}

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	require.Equal(t, "0xabc123", cfg.Chain.PrivateKeyHex)
	require.Equal(t, "http://rpc.local", cfg.Chain.RPCEndpoint)
	require.Equal(t, "http://verifier.local/", cfg.Verifier.BaseURL)
	require.Equal(t, "secret", cfg.Verifier.APIKey)
	require.Equal(t, "http://da.local/", cfg.DALayer.BaseURL)
}

func TestCanonicalEnvWinsOverAlias(t *testing.T) {
	t.Setenv("CHAIN_RPC_ENDPOINT", "http://canonical.local")
	t.Setenv("FLARE_RPC_URL", "http://legacy.local")

	cfg, err := Load("", "")
	require.NoError(t, err)
	require.Equal(t, "http://canonical.local", cfg.Chain.RPCEndpoint)
}

func TestValidate(t *testing.T) {
	base, err := Load("", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "bad validator address",
			mutate:  func(c *Config) { c.Validator.Address = "not-an-address" },
			wantErr: "validator.address",
		},
		{
			name:    "bad contract address",
			mutate:  func(c *Config) { c.Contracts.Relay = "0x1234" },
			wantErr: "contracts.relay",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Pipeline.Concurrency = 0 },
			wantErr: "pipeline.concurrency",
		},
		{
			name:    "schema override half set",
			mutate:  func(c *Config) { c.Pipeline.PostprocessJq = "." },
			wantErr: "must be set together",
		},
		{
			name:    "unknown ledger driver",
			mutate:  func(c *Config) { c.Ledger.Driver = "mysql" },
			wantErr: "ledger.driver",
		},
		{
			name:    "redis without address",
			mutate:  func(c *Config) { c.Lock.Backend = "redis" },
			wantErr: "lock.redis.addr",
		},
		{
			name: "redis ttl shorter than request timeout",
			mutate: func(c *Config) {
				c.Lock.Backend = "redis"
				c.Lock.Redis.Addr = "localhost:6379"
				c.Lock.Redis.TTL = time.Minute
			},
			wantErr: "lock.redis.ttl",
		},
		{
			name:    "scheduler without interval",
			mutate:  func(c *Config) { c.Scheduler.Interval = 0 },
			wantErr: "scheduler.interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			c.Submitter.AuthorizationPatterns = append([]string(nil), base.Submitter.AuthorizationPatterns...)
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	cfg.Chain.PrivateKeyHex = "0xdeadbeef"
	cfg.Verifier.APIKey = "key"

	r := cfg.Redacted()
	require.Equal(t, "<redacted>", r.Chain.PrivateKeyHex)
	require.Equal(t, "<redacted>", r.Verifier.APIKey)
	require.Empty(t, r.DALayer.APIKey)
	require.Equal(t, "0xdeadbeef", cfg.Chain.PrivateKeyHex)
}
