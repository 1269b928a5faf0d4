package chain

import "time"

// Config holds Flare network access and transaction settings.
type Config struct {
	// RPC endpoint of a Flare/Coston2 node (http or ws).
	RPCEndpoint string `mapstructure:"rpc_endpoint" yaml:"rpc_endpoint"`

	// ChainID is auto-detected from the endpoint when zero.
	ChainID       uint64 `mapstructure:"chain_id"      yaml:"chain_id"`
	Confirmations uint64 `mapstructure:"confirmations" yaml:"confirmations"`

	// Gas/fees configuration (EIP-1559)
	MaxFeePerGasWei   string `mapstructure:"max_fee_per_gas_wei"  yaml:"max_fee_per_gas_wei"`  // optional cap
	MaxPriorityFeeWei string `mapstructure:"max_priority_fee_wei" yaml:"max_priority_fee_wei"` // optional tip cap
	GasLimitBufferPct uint64 `mapstructure:"gas_limit_buffer_pct" yaml:"gas_limit_buffer_pct"`
	FallbackGasLimit  uint64 `mapstructure:"fallback_gas_limit"   yaml:"fallback_gas_limit"`

	// Receipt polling
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval" yaml:"receipt_poll_interval"`
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout"       yaml:"receipt_timeout"`

	// Signing key of the validator wallet.
	PrivateKeyHex string `mapstructure:"private_key_hex" yaml:"private_key_hex" env:"PRIVATE_KEY"` //nolint:lll // ok
}

// DefaultConfig returns Coston2 defaults.
func DefaultConfig() Config {
	return Config{
		RPCEndpoint:         "https://coston2-api.flare.network/ext/C/rpc",
		ChainID:             114,
		Confirmations:       1,
		GasLimitBufferPct:   15,
		FallbackGasLimit:    1_500_000,
		ReceiptPollInterval: 2 * time.Second,
		ReceiptTimeout:      3 * time.Minute,
	}
}
