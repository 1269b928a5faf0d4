package contracts

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
)

var (
	//go:embed abi/fdc_hub.json
	fdcHubABIJSON string

	//go:embed abi/fdc_request_fee_configurations.json
	feeConfigurationsABIJSON string
)

// FdcHubBinding encodes attestation requests for FdcHub.
type FdcHubBinding struct {
	binding
}

// NewFdcHubBinding parses the embedded ABI and validates the address.
func NewFdcHubBinding(contractAddr string) (*FdcHubBinding, error) {
	b, err := newBinding("FdcHub", fdcHubABIJSON, contractAddr)
	if err != nil {
		return nil, err
	}
	return &FdcHubBinding{binding: b}, nil
}

// RequestAttestationCalldata encodes requestAttestation(bytes).
func (b *FdcHubBinding) RequestAttestationCalldata(encodedRequest []byte) ([]byte, error) {
	if len(encodedRequest) == 0 {
		return nil, fmt.Errorf("encoded request cannot be empty")
	}
	data, err := b.abi.Pack("requestAttestation", encodedRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to pack FdcHub.requestAttestation calldata: %w", err)
	}
	return data, nil
}

// FeeConfigurationsBinding reads request fees from FdcRequestFeeConfigurations.
type FeeConfigurationsBinding struct {
	binding
}

// NewFeeConfigurationsBinding parses the embedded ABI and validates the address.
func NewFeeConfigurationsBinding(contractAddr string) (*FeeConfigurationsBinding, error) {
	b, err := newBinding("FdcRequestFeeConfigurations", feeConfigurationsABIJSON, contractAddr)
	if err != nil {
		return nil, err
	}
	return &FeeConfigurationsBinding{binding: b}, nil
}

// RequestFee returns the fee in wei for encodedRequest.
func (b *FeeConfigurationsBinding) RequestFee(ctx context.Context, c Caller, encodedRequest []byte) (*big.Int, error) {
	out, err := b.call(ctx, c, "getRequestFee", encodedRequest)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getRequestFee: unexpected result type %T", out[0])
	}
	return v, nil
}
