package contracts

import (
	_ "embed"
	"fmt"
	"math/big"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
)

//go:embed abi/tokenx.json
var tokenXABIJSON string

const (
	methodValidateApproval = "validateApproval"
	methodValidateTransfer = "validateTransfer"
)

// TokenXBinding encodes validation calls for a TokenX contract.
type TokenXBinding struct {
	binding
}

// NewTokenXBinding parses the embedded ABI and validates the address.
func NewTokenXBinding(contractAddr string) (*TokenXBinding, error) {
	b, err := newBinding("TokenX", tokenXABIJSON, contractAddr)
	if err != nil {
		return nil, err
	}
	return &TokenXBinding{binding: b}, nil
}

// ValidationMethod maps a request kind to its entry point.
func ValidationMethod(kind attestation.RequestKind) (string, error) {
	switch kind {
	case attestation.KindApprove:
		return methodValidateApproval, nil
	case attestation.KindTransfer:
		return methodValidateTransfer, nil
	default:
		return "", fmt.Errorf("no validation method for request kind %s", kind)
	}
}

// ValidationCalldata encodes validateApproval or validateTransfer(reqId, proof).
func (b *TokenXBinding) ValidationCalldata(kind attestation.RequestKind, reqID *big.Int, proof attestation.Proof) ([]byte, error) {
	if reqID == nil || reqID.Sign() < 0 {
		return nil, fmt.Errorf("reqId must be a non-negative integer")
	}
	method, err := ValidationMethod(kind)
	if err != nil {
		return nil, err
	}
	data, err := b.abi.Pack(method, reqID, proof)
	if err != nil {
		return nil, fmt.Errorf("failed to pack TokenX.%s calldata: %w", method, err)
	}
	return data, nil
}
