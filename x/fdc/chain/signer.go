package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer abstracts transaction signing for the validator wallet.
type Signer interface {
	From() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// LocalECDSASigner signs transactions with a local secp256k1 private key.
type LocalECDSASigner struct {
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
}

func NewLocalECDSASigner(chainID *big.Int, key *ecdsa.PrivateKey) *LocalECDSASigner {
	return &LocalECDSASigner{
		chainID: chainID,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// SignerFromHex parses a hex private key, with or without 0x prefix.
func SignerFromHex(chainID uint64, keyHex string) (*LocalECDSASigner, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewLocalECDSASigner(new(big.Int).SetUint64(chainID), key), nil
}

func (s *LocalECDSASigner) From() common.Address { return s.from }

func (s *LocalECDSASigner) ChainID(_ context.Context) (*big.Int, error) {
	if s.chainID == nil {
		return nil, fmt.Errorf("signer chainID not set")
	}
	return new(big.Int).Set(s.chainID), nil
}

func (s *LocalECDSASigner) SignTx(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
}
