package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

// TxRequest describes a contract call to sign and broadcast.
type TxRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
	// Label names the call in logs.
	Label string
}

// Sender signs and broadcasts transactions for one wallet. Nonce assignment
// is serialized so concurrent callers never reuse a nonce.
type Sender struct {
	cfg     Config
	backend Backend
	signer  Signer
	chainID *big.Int
	log     zerolog.Logger

	mu        sync.Mutex
	nextNonce uint64
	hasNonce  bool
}

// NewSender prepares a Sender. The signer chain id must match cfg.ChainID.
func NewSender(ctx context.Context, cfg Config, backend Backend, signer Signer, log zerolog.Logger) (*Sender, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend must be provided")
	}
	if signer == nil {
		return nil, fmt.Errorf("no signer provided")
	}
	chainID, err := signer.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("signer chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("signer chain id %s differs from configured %d", chainID, cfg.ChainID)
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = DefaultConfig().ReceiptPollInterval
	}
	if cfg.FallbackGasLimit == 0 {
		cfg.FallbackGasLimit = DefaultConfig().FallbackGasLimit
	}

	return &Sender{
		cfg:     cfg,
		backend: backend,
		signer:  signer,
		chainID: chainID,
		log:     log.With().Str("component", "tx-sender").Str("from", signer.From().Hex()).Logger(),
	}, nil
}

// From returns the wallet address.
func (s *Sender) From() common.Address {
	return s.signer.From()
}

// Backend returns the chain backend transactions are sent through.
func (s *Sender) Backend() Backend {
	return s.backend
}

// CallContract executes a read-only call from the wallet address.
func (s *Sender) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if msg.From == (common.Address{}) {
		msg.From = s.From()
	}
	return s.backend.CallContract(ctx, msg, blockNumber)
}

// Balance returns the wallet balance at the latest block.
func (s *Sender) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := s.backend.BalanceAt(ctx, s.From(), nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "chain.balance", err, "fetch balance")
	}
	return bal, nil
}

// Send estimates, signs and broadcasts req. A revert detected during gas
// estimation is returned before anything is broadcast.
func (s *Sender) Send(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	from := s.From()
	to := req.To

	gasLimit, err := s.estimateGasLimit(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: req.Data})
	if err != nil {
		return nil, err
	}
	tipCap, feeCap := s.suggestFees(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.reserveNonce(ctx)
	if err != nil {
		return nil, err
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gasLimit,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      req.Data,
	})

	signed, err := s.signer.SignTx(ctx, unsigned)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, "chain.sign", err, "sign tx")
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		if isNonceError(err) {
			s.hasNonce = false
		}
		s.log.Error().Err(err).
			Str("call", req.Label).
			Str("tx_hash", signed.Hash().Hex()).
			Uint64("nonce", nonce).
			Msg("Failed to send transaction")
		return nil, classify("chain.send", err)
	}
	s.nextNonce = nonce + 1
	s.hasNonce = true

	s.log.Info().
		Str("call", req.Label).
		Str("tx_hash", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Str("value", value.String()).
		Uint64("nonce", nonce).
		Uint64("gas_limit", gasLimit).
		Str("gas_tip_cap", tipCap.String()).
		Str("gas_fee_cap", feeCap.String()).
		Msg("Transaction submitted")

	return signed, nil
}

// reserveNonce returns the next nonce, never going below the node's pending
// nonce. Callers hold s.mu.
func (s *Sender) reserveNonce(ctx context.Context) (uint64, error) {
	pending, err := s.backend.PendingNonceAt(ctx, s.From())
	if err != nil {
		return 0, fault.Wrap(fault.KindTransient, "chain.nonce", err, "fetch nonce")
	}
	if s.hasNonce && s.nextNonce > pending {
		return s.nextNonce, nil
	}
	return pending, nil
}

// estimateGasLimit estimates gas and applies the safety buffer. Reverts and
// funding errors are returned; other estimation failures fall back to the
// configured limit.
func (s *Sender) estimateGasLimit(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	est, err := s.backend.EstimateGas(ctx, msg)
	if err == nil {
		buffer := est * s.cfg.GasLimitBufferPct / 100
		s.log.Debug().Uint64("estimated_gas", est).Uint64("gas_limit", est+buffer).Msg("Gas estimated")
		return est + buffer, nil
	}
	if _, ok := AsRevert(err); ok {
		return 0, classify("chain.estimate", err)
	}
	if isInsufficientFunds(err) {
		return 0, classify("chain.estimate", err)
	}
	if ctx.Err() != nil {
		return 0, fault.Ensure(ctx.Err(), fault.KindTransient, "chain.estimate")
	}
	s.log.Warn().Err(err).Uint64("fallback_gas_limit", s.cfg.FallbackGasLimit).Msg("Gas estimation failed, using fallback")
	return s.cfg.FallbackGasLimit, nil
}

// suggestFees returns EIP-1559 tip and fee caps with config overrides.
func (s *Sender) suggestFees(ctx context.Context) (*big.Int, *big.Int) {
	head, _ := s.backend.HeaderByNumber(ctx, nil)
	tipCap, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		tipCap = big.NewInt(2_000_000_000)
	}
	var feeCap *big.Int
	if head != nil && head.BaseFee != nil {
		feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)
	} else if sp, err := s.backend.SuggestGasPrice(ctx); err == nil && sp != nil {
		feeCap = sp
	} else {
		feeCap = new(big.Int).Add(big.NewInt(2_000_000_000), tipCap)
	}
	if s.cfg.MaxPriorityFeeWei != "" {
		if v, ok := new(big.Int).SetString(s.cfg.MaxPriorityFeeWei, 10); ok && v.Sign() > 0 && v.Cmp(tipCap) < 0 {
			tipCap = v
		}
	}
	if s.cfg.MaxFeePerGasWei != "" {
		if v, ok := new(big.Int).SetString(s.cfg.MaxFeePerGasWei, 10); ok && v.Sign() > 0 && v.Cmp(feeCap) < 0 {
			feeCap = v
		}
	}
	if feeCap.Cmp(tipCap) < 0 {
		feeCap = new(big.Int).Set(tipCap)
	}
	return tipCap, feeCap
}

// Receipt returns the receipt of hash, or found=false while it is pending.
func (s *Sender) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, bool, error) {
	receipt, err := s.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) || strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, false, nil
		}
		return nil, false, fault.Wrap(fault.KindTransient, "chain.receipt", err, "get receipt")
	}
	return receipt, true, nil
}

// Transaction returns the transaction hash names, or found=false when the
// node does not know it (never broadcast, dropped or replaced).
func (s *Sender) Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, _, err := s.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) || strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, false, nil
		}
		return nil, false, fault.Wrap(fault.KindTransient, "chain.transaction", err, "get transaction")
	}
	return tx, true, nil
}

// WaitMined polls until hash is included with the configured confirmations.
// The returned receipt may carry a failed status; callers decide what a
// revert means.
func (s *Sender) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if s.cfg.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(s.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, found, err := s.Receipt(ctx, hash)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("tx_hash", hash.Hex()).Msg("Receipt lookup failed, retrying")
		case found && s.confirmed(ctx, receipt):
			s.log.Debug().
				Str("tx_hash", hash.Hex()).
				Uint64("block_number", receipt.BlockNumber.Uint64()).
				Uint64("status", receipt.Status).
				Uint64("gas_used", receipt.GasUsed).
				Msg("Transaction mined")
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fault.Wrap(fault.KindTimedOut, "chain.wait_mined", ctx.Err(), "waiting for "+hash.Hex())
		case <-ticker.C:
		}
	}
}

// confirmed reports whether receipt has reached cfg.Confirmations, counting
// the inclusion block as the first confirmation.
func (s *Sender) confirmed(ctx context.Context, receipt *types.Receipt) bool {
	if s.cfg.Confirmations <= 1 || receipt.BlockNumber == nil {
		return true
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil || head == nil || head.Number == nil {
		return false
	}
	if head.Number.Cmp(receipt.BlockNumber) < 0 {
		return false
	}
	confs := new(big.Int).Sub(head.Number, receipt.BlockNumber).Uint64() + 1
	return confs >= s.cfg.Confirmations
}

// RevertReason replays tx at the receipt block to recover why it failed.
func (s *Sender) RevertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) *RevertError {
	msg := ethereum.CallMsg{
		From:  s.From(),
		To:    tx.To(),
		Value: tx.Value(),
		Data:  tx.Data(),
		Gas:   tx.Gas(),
	}
	var block *big.Int
	if receipt != nil {
		block = receipt.BlockNumber
	}
	_, err := s.backend.CallContract(ctx, msg, block)
	if rev, ok := AsRevert(err); ok {
		return rev
	}
	return &RevertError{Cause: err}
}
