package pipeline

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config configures the orchestrator.
type Config struct {
	// Validator is the address whose pending requests are processed.
	Validator common.Address `mapstructure:"-" yaml:"-"`
	// Concurrency bounds how many requests run at once. 1 processes the
	// listing strictly in order.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// RequestTimeout is the deadline of one request from listing to confirmation.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// StageRetries is the number of tries of a read-only stage that fails
	// with a transient error.
	StageRetries        uint          `mapstructure:"stage_retries"         yaml:"stage_retries"`
	StageBackoffInitial time.Duration `mapstructure:"stage_backoff_initial" yaml:"stage_backoff_initial"`
	StageBackoffMax     time.Duration `mapstructure:"stage_backoff_max"     yaml:"stage_backoff_max"`
	// PostprocessJq and AbiSignature override the task record schema.
	PostprocessJq string `mapstructure:"postprocess_jq" yaml:"postprocess_jq"`
	AbiSignature  string `mapstructure:"abi_signature"  yaml:"abi_signature"`
}

// DefaultConfig returns sequential processing with a 30 minute request deadline.
func DefaultConfig() Config {
	return Config{
		Concurrency:         1,
		RequestTimeout:      30 * time.Minute,
		StageRetries:        4,
		StageBackoffInitial: 2 * time.Second,
		StageBackoffMax:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.StageRetries == 0 {
		c.StageRetries = d.StageRetries
	}
	if c.StageBackoffInitial <= 0 {
		c.StageBackoffInitial = d.StageBackoffInitial
	}
	if c.StageBackoffMax <= 0 {
		c.StageBackoffMax = d.StageBackoffMax
	}
	return c
}
