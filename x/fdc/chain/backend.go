package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// Backend is the subset of go-ethereum's client the validator relies on.
// It allows mocking in tests and decouples from the concrete ethclient.Client.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to cfg.RPCEndpoint and reconciles the chain id. A zero
// cfg.ChainID is filled from the endpoint.
func Dial(ctx context.Context, cfg *Config, log zerolog.Logger) (*ethclient.Client, error) {
	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("rpc_endpoint must be provided")
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}
	client := ethclient.NewClient(rpcClient)

	rpcChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = rpcChainID.Uint64()
		log.Info().Uint64("chain_id", cfg.ChainID).Msg("Auto-detected chain ID")
	} else if cfg.ChainID != rpcChainID.Uint64() {
		client.Close()
		return nil, fmt.Errorf("configured chain id %d differs from RPC endpoint chain id %s", cfg.ChainID, rpcChainID)
	}

	return client, nil
}
