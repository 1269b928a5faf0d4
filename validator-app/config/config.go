package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apisrv "github.com/tokenx-labs/fdc-validator/server/api"
	"github.com/tokenx-labs/fdc-validator/x/eventstore"
	"github.com/tokenx-labs/fdc-validator/x/fdc/chain"
	"github.com/tokenx-labs/fdc-validator/x/fdc/contracts"
	"github.com/tokenx-labs/fdc-validator/x/fdc/dalayer"
	"github.com/tokenx-labs/fdc-validator/x/fdc/finality"
	"github.com/tokenx-labs/fdc-validator/x/fdc/submitter"
	"github.com/tokenx-labs/fdc-validator/x/fdc/verifier"
	"github.com/tokenx-labs/fdc-validator/x/ledger"
	"github.com/tokenx-labs/fdc-validator/x/lock"
	"github.com/tokenx-labs/fdc-validator/x/pipeline"
)

// Config holds the complete application configuration
type Config struct {
	Validator  ValidatorConfig     `mapstructure:"validator"   yaml:"validator"`
	Chain      chain.Config        `mapstructure:"chain"       yaml:"chain"`
	Contracts  contracts.Addresses `mapstructure:"contracts"   yaml:"contracts"`
	Verifier   verifier.Config     `mapstructure:"verifier"    yaml:"verifier"`
	DALayer    dalayer.Config      `mapstructure:"da_layer"    yaml:"da_layer"`
	Finality   finality.Config     `mapstructure:"finality"    yaml:"finality"`
	EventStore eventstore.Config   `mapstructure:"event_store" yaml:"event_store"`
	Submitter  submitter.Config    `mapstructure:"submitter"   yaml:"submitter"`
	Pipeline   pipeline.Config     `mapstructure:"pipeline"    yaml:"pipeline"`
	Scheduler  SchedulerConfig     `mapstructure:"scheduler"   yaml:"scheduler"`
	Ledger     ledger.Config       `mapstructure:"ledger"      yaml:"ledger"`
	Lock       LockConfig          `mapstructure:"lock"        yaml:"lock"`
	API        apisrv.Config       `mapstructure:"api"         yaml:"api"`
	Metrics    MetricsConfig       `mapstructure:"metrics"     yaml:"metrics"`
	Log        LogConfig           `mapstructure:"log"         yaml:"log"`
}

// ValidatorConfig identifies the validator whose requests are processed.
type ValidatorConfig struct {
	// Address defaults to the address of the signing key.
	Address string `mapstructure:"address" yaml:"address" env:"VALIDATOR_ADDRESS"`
}

// SchedulerConfig holds the tick cadence.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"  yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// LockConfig selects the per-request lock backend.
type LockConfig struct {
	// Backend is local or redis.
	Backend string           `mapstructure:"backend" yaml:"backend"`
	Redis   lock.RedisConfig `mapstructure:"redis"   yaml:"redis"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// legacyEnv maps config keys to the variable names of the dotenv-driven
// deployment. They are consulted after the canonical CHAIN_RPC_ENDPOINT style
// names.
var legacyEnv = map[string]string{
	"chain.private_key_hex": "PRIVATE_KEY",
	"chain.rpc_endpoint":    "FLARE_RPC_URL",
	"verifier.base_url":     "JQ_VERIFIER_URL_TESTNET",
	"verifier.api_key":      "JQ_VERIFIER_API_KEY",
	"da_layer.base_url":     "COSTON2_DA_LAYER_URL",
	"validator.address":     "VALIDATOR_ADDRESS",
}

// Load reads envFile (if present), then configPath (if present), then the
// environment. A missing file is not an error; the defaults target Coston2.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, alias := range legacyEnv {
		canonical := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, canonical, alias); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("validator.address", "")

	ch := chain.DefaultConfig()
	v.SetDefault("chain.rpc_endpoint", ch.RPCEndpoint)
	v.SetDefault("chain.chain_id", ch.ChainID)
	v.SetDefault("chain.confirmations", ch.Confirmations)
	v.SetDefault("chain.max_fee_per_gas_wei", "")
	v.SetDefault("chain.max_priority_fee_wei", "")
	v.SetDefault("chain.gas_limit_buffer_pct", ch.GasLimitBufferPct)
	v.SetDefault("chain.fallback_gas_limit", ch.FallbackGasLimit)
	v.SetDefault("chain.receipt_poll_interval", ch.ReceiptPollInterval)
	v.SetDefault("chain.receipt_timeout", ch.ReceiptTimeout)
	v.SetDefault("chain.private_key_hex", "")

	addrs := contracts.DefaultAddresses()
	v.SetDefault("contracts.fdc_hub", addrs.FdcHub)
	v.SetDefault("contracts.fee_configurations", addrs.FeeConfigurations)
	v.SetDefault("contracts.flare_systems_manager", addrs.FlareSystemsManager)
	v.SetDefault("contracts.relay", addrs.Relay)

	ver := verifier.DefaultConfig()
	v.SetDefault("verifier.base_url", ver.BaseURL)
	v.SetDefault("verifier.api_key", "")
	v.SetDefault("verifier.timeout", ver.Timeout)
	v.SetDefault("verifier.rate_limit", ver.RateLimit)
	v.SetDefault("verifier.burst", ver.Burst)

	da := dalayer.DefaultConfig()
	v.SetDefault("da_layer.base_url", da.BaseURL)
	v.SetDefault("da_layer.api_key", "")
	v.SetDefault("da_layer.timeout", da.Timeout)
	v.SetDefault("da_layer.rate_limit", da.RateLimit)
	v.SetDefault("da_layer.burst", da.Burst)
	v.SetDefault("da_layer.settle_delay", da.SettleDelay)
	v.SetDefault("da_layer.poll.interval", da.Poll.Interval)
	v.SetDefault("da_layer.poll.max_attempts", da.Poll.MaxAttempts)
	v.SetDefault("da_layer.poll.max_consecutive_errors", da.Poll.MaxConsecutiveErrors)

	fin := finality.DefaultConfig()
	v.SetDefault("finality.protocol_id", fin.ProtocolID)
	v.SetDefault("finality.poll.interval", fin.Poll.Interval)
	v.SetDefault("finality.poll.max_attempts", fin.Poll.MaxAttempts)
	v.SetDefault("finality.poll.max_consecutive_errors", fin.Poll.MaxConsecutiveErrors)

	es := eventstore.DefaultConfig()
	v.SetDefault("event_store.base_url", es.BaseURL)
	v.SetDefault("event_store.timeout", es.Timeout)

	v.SetDefault("submitter.authorization_patterns", submitter.DefaultAuthorizationPatterns)

	pl := pipeline.DefaultConfig()
	v.SetDefault("pipeline.concurrency", pl.Concurrency)
	v.SetDefault("pipeline.request_timeout", pl.RequestTimeout)
	v.SetDefault("pipeline.stage_retries", pl.StageRetries)
	v.SetDefault("pipeline.stage_backoff_initial", pl.StageBackoffInitial)
	v.SetDefault("pipeline.stage_backoff_max", pl.StageBackoffMax)
	v.SetDefault("pipeline.postprocess_jq", "")
	v.SetDefault("pipeline.abi_signature", "")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 5*time.Minute)

	lg := ledger.DefaultConfig()
	v.SetDefault("ledger.driver", lg.Driver)
	v.SetDefault("ledger.dsn", lg.DSN)

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.redis.addr", "")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.redis.prefix", "fdc-validator:lock:")
	v.SetDefault("lock.redis.ttl", 45*time.Minute)

	api := apisrv.DefaultConfig()
	v.SetDefault("api.enabled", api.Enabled)
	v.SetDefault("api.listen_addr", api.ListenAddr)
	v.SetDefault("api.read_header_timeout", api.ReadHeaderTimeout)
	v.SetDefault("api.read_timeout", api.ReadTimeout)
	v.SetDefault("api.write_timeout", api.WriteTimeout)
	v.SetDefault("api.idle_timeout", api.IdleTimeout)
	v.SetDefault("api.max_header_bytes", api.MaxHeaderBytes)
	v.SetDefault("api.cors", false)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateChain(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateChain() error {
	if strings.TrimSpace(c.Chain.RPCEndpoint) == "" {
		return fmt.Errorf("chain.rpc_endpoint is required")
	}
	if addr := strings.TrimSpace(c.Validator.Address); addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("validator.address %q is not a hex address", addr)
	}
	if c.Chain.GasLimitBufferPct > 100 {
		return fmt.Errorf("chain.gas_limit_buffer_pct must be at most 100, got %d", c.Chain.GasLimitBufferPct)
	}
	if _, err := c.Contracts.Bind(); err != nil {
		return fmt.Errorf("contracts.%w", err)
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	if strings.TrimSpace(c.Verifier.BaseURL) == "" {
		return fmt.Errorf("verifier.base_url is required")
	}
	if strings.TrimSpace(c.DALayer.BaseURL) == "" {
		return fmt.Errorf("da_layer.base_url is required")
	}
	if strings.TrimSpace(c.EventStore.BaseURL) == "" {
		return fmt.Errorf("event_store.base_url is required")
	}
	if c.Finality.Poll.Interval <= 0 {
		return fmt.Errorf("finality.poll.interval must be positive")
	}
	if c.DALayer.Poll.Interval <= 0 {
		return fmt.Errorf("da_layer.poll.interval must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be positive, got %d", c.Pipeline.Concurrency)
	}
	if c.Pipeline.RequestTimeout <= 0 {
		return fmt.Errorf("pipeline.request_timeout must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive when the scheduler is enabled")
	}
	if (c.Pipeline.PostprocessJq == "") != (c.Pipeline.AbiSignature == "") {
		return fmt.Errorf("pipeline.postprocess_jq and pipeline.abi_signature must be set together")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Ledger.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("ledger.driver must be memory, sqlite or postgres, got %q", c.Ledger.Driver)
	}
	switch c.Lock.Backend {
	case "local":
	case "redis":
		if strings.TrimSpace(c.Lock.Redis.Addr) == "" {
			return fmt.Errorf("lock.redis.addr is required when lock.backend is redis")
		}
		if c.Lock.Redis.TTL > 0 && c.Lock.Redis.TTL <= c.Pipeline.RequestTimeout {
			return fmt.Errorf("lock.redis.ttl must exceed pipeline.request_timeout")
		}
	default:
		return fmt.Errorf("lock.backend must be local or redis, got %q", c.Lock.Backend)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Chain.PrivateKeyHex != "" {
		c.Chain.PrivateKeyHex = "<redacted>"
	}
	if c.Verifier.APIKey != "" {
		c.Verifier.APIKey = "<redacted>"
	}
	if c.DALayer.APIKey != "" {
		c.DALayer.APIKey = "<redacted>"
	}
	if c.Lock.Redis.Password != "" {
		c.Lock.Redis.Password = "<redacted>"
	}
	c.Submitter.AuthorizationPatterns = append([]string(nil), c.Submitter.AuthorizationPatterns...)
	return c
}
