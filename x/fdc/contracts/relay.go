package contracts

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
)

//go:embed abi/relay.json
var relayABIJSON string

// FDCProtocolID is the relay protocol id of the Flare Data Connector.
const FDCProtocolID uint64 = 200

// RelayBinding queries round finalization on the Relay contract.
type RelayBinding struct {
	binding
}

// NewRelayBinding parses the embedded ABI and validates the address.
func NewRelayBinding(contractAddr string) (*RelayBinding, error) {
	b, err := newBinding("Relay", relayABIJSON, contractAddr)
	if err != nil {
		return nil, err
	}
	return &RelayBinding{binding: b}, nil
}

// IsFinalized reports whether roundID of protocolID has been finalized.
func (b *RelayBinding) IsFinalized(ctx context.Context, c Caller, protocolID, roundID uint64) (bool, error) {
	out, err := b.call(ctx, c, "isFinalized", new(big.Int).SetUint64(protocolID), new(big.Int).SetUint64(roundID))
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("isFinalized: unexpected result type %T", out[0])
	}
	return v, nil
}
