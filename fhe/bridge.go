// Package fhe is the encryption bridge: one lazily created, shared relayer
// instance that performs user decryption and encrypted-input generation.
package fhe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SepoliaChainID is the chain the relayer serves.
const SepoliaChainID = 11155111

// DefaultInitTimeout bounds instance creation.
const DefaultInitTimeout = 30 * time.Second

// ErrEmptyDecryption means the relayer answered without a value for the handle.
var ErrEmptyDecryption = errors.New("decrypted, but returned empty value")

// State is the bridge lifecycle shown to users.
type State string

const (
	StateInit  State = "init"
	StateReady State = "ready"
	StateError State = "error"
)

// Status reports the bridge state.
type Status struct {
	State State  `json:"state"`
	Ready bool   `json:"ready"`
	Error string `json:"error"`
}

// UserDecryptRequest is a signed request to decrypt handles for a user.
type UserDecryptRequest struct {
	Pairs          []HandleContractPair
	Keypair        Keypair
	Signature      []byte
	Contracts      []common.Address
	User           common.Address
	StartTimestamp int64
	DurationDays   int
}

// Instance is an initialized connection to the encryption network.
type Instance interface {
	GenerateKeypair() (Keypair, error)
	CreateEIP712(publicKey string, contracts []common.Address, startTimestamp int64, durationDays int) apitypes.TypedData
	UserDecrypt(ctx context.Context, req UserDecryptRequest) (map[common.Hash]string, error)
	EncryptUint64(ctx context.Context, contract, user common.Address, value uint64) (EncryptedInput, error)
}

// Factory creates an Instance.
type Factory func(ctx context.Context) (Instance, error)

// Bridge holds the single shared Instance. Concurrent first callers share
// one initialization. A failed initialization is retried on the next call.
type Bridge struct {
	factory Factory
	timeout time.Duration
	logger  *zap.Logger
	group   singleflight.Group

	mu      sync.RWMutex
	inst    Instance
	lastErr error
}

// NewBridge creates a bridge; nothing is initialized until first use.
func NewBridge(factory Factory, timeout time.Duration, logger *zap.Logger) *Bridge {
	if timeout <= 0 {
		timeout = DefaultInitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{factory: factory, timeout: timeout, logger: logger}
}

// Instance returns the shared instance, creating it on first use.
func (b *Bridge) Instance(ctx context.Context) (Instance, error) {
	b.mu.RLock()
	inst := b.inst
	b.mu.RUnlock()
	if inst != nil {
		return inst, nil
	}

	ch := b.group.DoChan("instance", func() (interface{}, error) {
		return b.create(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Instance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) create(ctx context.Context) (Instance, error) {
	b.mu.RLock()
	inst := b.inst
	b.mu.RUnlock()
	if inst != nil {
		return inst, nil
	}

	b.logger.Info("initializing encryption bridge")
	b.mu.Lock()
	b.lastErr = nil
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		inst Instance
		err  error
	}
	done := make(chan result, 1)
	go func() {
		inst, err := b.factory(ctx)
		done <- result{inst, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("createInstance timeout (%dms)", b.timeout.Milliseconds())
	}
	if res.err == nil && res.inst == nil {
		res.err = errors.New("encryption bridge returned no instance")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if res.err != nil {
		b.lastErr = res.err
		b.logger.Error("encryption bridge initialization failed", zap.Error(res.err))
		return nil, res.err
	}
	b.inst = res.inst
	b.logger.Info("encryption bridge ready")
	return res.inst, nil
}

// Warmup starts initialization in the background.
func (b *Bridge) Warmup(ctx context.Context) {
	go func() {
		_, _ = b.Instance(ctx)
	}()
}

// Status reports init, ready or error.
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch {
	case b.inst != nil:
		return Status{State: StateReady, Ready: true}
	case b.lastErr != nil:
		return Status{State: StateError, Error: b.lastErr.Error()}
	default:
		return Status{State: StateInit}
	}
}

// RelayerConfig configures relayer-backed instances.
type RelayerConfig struct {
	URL                string
	ChainID            int64
	DecryptionContract common.Address
}

// ChainIDFunc reports the chain the configured RPC is connected to.
type ChainIDFunc func(ctx context.Context) (int64, error)

// NewRelayerFactory returns a Factory that checks the relayer key endpoint
// and, when chainID is set, warns if the RPC is not on Sepolia.
func NewRelayerFactory(cfg RelayerConfig, chainID ChainIDFunc, logger *zap.Logger) Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) (Instance, error) {
		client := NewRelayerClient(cfg.URL)

		if chainID != nil {
			id, err := chainID(ctx)
			switch {
			case err != nil:
				logger.Warn("chain detection failed, using configured chain", zap.Error(err))
			case id != SepoliaChainID:
				logger.Warn("rpc not on Sepolia", zap.Int64("chain_id", id))
			}
		}

		info, err := client.KeyURL(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch relayer keys: %w", err)
		}
		logger.Debug("relayer keys", zap.String("public_key_id", info.PublicKeyID))

		return &relayerInstance{client: client, cfg: cfg, keys: info}, nil
	}
}

type relayerInstance struct {
	client *RelayerClient
	cfg    RelayerConfig
	keys   KeyInfo
}

func (r *relayerInstance) GenerateKeypair() (Keypair, error) {
	return GenerateKeypair()
}

func (r *relayerInstance) CreateEIP712(publicKey string, contracts []common.Address, startTimestamp int64, durationDays int) apitypes.TypedData {
	return CreateEIP712(r.cfg.ChainID, r.cfg.DecryptionContract, publicKey, contracts, startTimestamp, durationDays)
}

func (r *relayerInstance) UserDecrypt(ctx context.Context, req UserDecryptRequest) (map[common.Hash]string, error) {
	body := userDecryptBody{
		HandleContractPairs: req.Pairs,
		RequestValidity: requestValidity{
			StartTimestamp: strconv.FormatInt(req.StartTimestamp, 10),
			DurationDays:   strconv.Itoa(req.DurationDays),
		},
		ContractsChainID:  strconv.FormatInt(r.cfg.ChainID, 10),
		ContractAddresses: req.Contracts,
		UserAddress:       req.User,
		Signature:         common.Bytes2Hex(req.Signature),
		PublicKey:         trim0x(req.Keypair.PublicKey),
	}

	results, err := r.client.UserDecrypt(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make(map[common.Hash]string, len(results))
	for _, res := range results {
		value, err := req.Keypair.Open(res.Sealed)
		if err != nil {
			return nil, fmt.Errorf("handle %s: %w", res.Handle.Hex(), err)
		}
		out[res.Handle] = value
	}
	return out, nil
}

func (r *relayerInstance) EncryptUint64(ctx context.Context, contract, user common.Address, value uint64) (EncryptedInput, error) {
	return r.client.InputProof(ctx, inputProofBody{
		ContractAddress: contract,
		UserAddress:     user,
		ContractChainID: strconv.FormatInt(r.cfg.ChainID, 10),
		Values:          []inputValue{{Type: "euint64", Value: strconv.FormatUint(value, 10)}},
	})
}
