package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller executes read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// binding holds the address and parsed ABI shared by every contract wrapper.
type binding struct {
	name    string
	address common.Address
	abi     abi.ABI
}

func newBinding(name, abiJSON, contractAddr string) (binding, error) {
	if strings.TrimSpace(contractAddr) == "" {
		return binding{}, fmt.Errorf("%s contract address cannot be empty", name)
	}
	if !common.IsHexAddress(contractAddr) {
		return binding{}, fmt.Errorf("%s contract address %q is not a hex address", name, contractAddr)
	}

	parsedABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return binding{}, fmt.Errorf("failed to parse %s ABI: %w", name, err)
	}

	return binding{
		name:    name,
		address: common.HexToAddress(contractAddr),
		abi:     parsedABI,
	}, nil
}

// Address returns the contract address.
func (b binding) Address() common.Address {
	return b.address
}

// ABI returns the parsed contract ABI.
func (b binding) ABI() abi.ABI {
	return b.abi
}

// call packs method, executes it at the latest block and unpacks the outputs.
func (b binding) call(ctx context.Context, c Caller, method string, args ...any) ([]any, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s.%s calldata: %w", b.name, method, err)
	}

	to := b.address
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s.%s call: %w", b.name, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s.%s returned no data; is %s deployed?", b.name, method, b.address.Hex())
	}

	values, err := b.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s.%s result: %w", b.name, method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s.%s returned no values", b.name, method)
	}
	return values, nil
}
