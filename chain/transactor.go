package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"
	"go.uber.org/zap"
)

// TxOpts are the fee parameters applied to every transaction.
type TxOpts struct {
	ChainID   int64
	GasFeeCap *big.Int
	GasTipCap *big.Int
	// GasLimit is used when estimation fails.
	GasLimit uint64
}

// Transactor signs and submits EIP-1559 transactions with a local key.
type Transactor struct {
	client       Caller
	signer       types.Signer
	key          *ecdsa.PrivateKey
	address      common.Address
	opts         TxOpts
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewTransactor creates a transactor for key.
func NewTransactor(client Caller, key *ecdsa.PrivateKey, opts TxOpts, logger *zap.Logger) *Transactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transactor{
		client:       client,
		signer:       types.NewLondonSigner(big.NewInt(opts.ChainID)),
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		opts:         opts,
		pollInterval: 2 * time.Second,
		logger:       logger,
	}
}

// ParsePrivateKey decodes a hex private key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Address returns the sender address.
func (t *Transactor) Address() common.Address {
	return t.address
}

// Key returns the signing key.
func (t *Transactor) Key() *ecdsa.PrivateKey {
	return t.key
}

// SetPollInterval changes how often WaitForReceipt polls.
func (t *Transactor) SetPollInterval(d time.Duration) {
	t.pollInterval = d
}

func (t *Transactor) getNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	if err := t.client.CallCtx(ctx, eth.Nonce(t.address, nil).Returns(&nonce)); err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

func (t *Transactor) estimateGas(ctx context.Context, to common.Address, data []byte) uint64 {
	var gas uint64
	msg := &w3types.Message{From: t.address, To: &to, Input: data}
	if err := t.client.CallCtx(ctx, eth.EstimateGas(msg, nil).Returns(&gas)); err != nil {
		t.logger.Debug("gas estimation failed, using configured limit",
			zap.String("to", to.Hex()), zap.Error(err))
		return t.opts.GasLimit
	}
	// 20% headroom over the estimate
	return gas + gas/5
}

// Send signs and submits a call to `to` with calldata.
func (t *Transactor) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := t.getNonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(t.opts.ChainID),
		Nonce:     nonce,
		To:        &to,
		GasFeeCap: t.opts.GasFeeCap,
		GasTipCap: t.opts.GasTipCap,
		Gas:       t.estimateGas(ctx, to, data),
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, t.signer, t.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := t.client.CallCtx(ctx, eth.SendTx(signedTx).Returns(nil)); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}

	t.logger.Info("transaction sent",
		zap.String("hash", signedTx.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce))
	return signedTx.Hash(), nil
}

// WaitForReceipt polls until txHash is mined or ctx ends. A reverted
// transaction is returned together with an error.
func (t *Transactor) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := t.client.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt))
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SendAndWait is Send followed by WaitForReceipt.
func (t *Transactor) SendAndWait(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	hash, err := t.Send(ctx, to, data)
	if err != nil {
		return nil, err
	}
	return t.WaitForReceipt(ctx, hash)
}
