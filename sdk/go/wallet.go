package launchpad

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/contracts/factory"
	"github.com/cipherlaunch/launchpad/contracts/token"
	"github.com/cipherlaunch/launchpad/fhe"
	"github.com/cipherlaunch/launchpad/schemas"
)

// DefaultDurationDays is how long a user-decryption authorization stays valid.
const DefaultDurationDays = 10

var (
	// ErrPending means a decrypt or send for the same token is still in flight.
	ErrPending = errors.New("operation already pending for token")
	// ErrFactoryNotConfigured means the wallet has no factory address.
	ErrFactoryNotConfigured = errors.New("factory address not configured")
	// ErrNoUploader means an icon was given but no gateway client is configured.
	ErrNoUploader = errors.New("icon upload requires a gateway client")
	// ErrNoBridge means the wallet has no FHE bridge to encrypt or decrypt with.
	ErrNoBridge = errors.New("fhe bridge not configured")
)

// Sender signs and submits transactions. *chain.Transactor implements it.
type Sender interface {
	Address() common.Address
	Key() *ecdsa.PrivateKey
	SendAndWait(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error)
}

// BalanceReader reads encrypted balance handles. *token.Reader implements it.
type BalanceReader interface {
	BalanceHandle(ctx context.Context, address, account common.Address) (common.Hash, error)
}

// Icon is an image to pin before creating a token.
type Icon struct {
	Filename string
	Data     io.Reader
}

// WalletOptions configures a Wallet.
type WalletOptions struct {
	Sender       Sender
	Balances     BalanceReader
	Bridge       *fhe.Bridge
	Gateway      *Client
	Factory      common.Address
	DurationDays int
	Logger       *zap.Logger
}

// Wallet runs launchpad flows with a local key.
type Wallet struct {
	sender       Sender
	balances     BalanceReader
	bridge       *fhe.Bridge
	gateway      *Client
	factory      common.Address
	durationDays int
	now          func() time.Time
	logger       *zap.Logger

	mu      sync.Mutex
	pending map[common.Address]bool
}

// NewWallet creates a wallet.
func NewWallet(opts WalletOptions) *Wallet {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DurationDays <= 0 {
		opts.DurationDays = DefaultDurationDays
	}
	return &Wallet{
		sender:       opts.Sender,
		balances:     opts.Balances,
		bridge:       opts.Bridge,
		gateway:      opts.Gateway,
		factory:      opts.Factory,
		durationDays: opts.DurationDays,
		now:          time.Now,
		logger:       opts.Logger,
		pending:      make(map[common.Address]bool),
	}
}

// Address returns the wallet address.
func (w *Wallet) Address() common.Address {
	return w.sender.Address()
}

// acquire marks token busy; the returned func releases it.
func (w *Wallet) acquire(tok common.Address) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[tok] {
		return nil, fmt.Errorf("%w: %s", ErrPending, tok.Hex())
	}
	w.pending[tok] = true
	return func() {
		w.mu.Lock()
		delete(w.pending, tok)
		w.mu.Unlock()
	}, nil
}

// CreateToken validates form, pins icon when given, sends createToken and
// returns the TokenCreated event from the receipt.
func (w *Wallet) CreateToken(ctx context.Context, form *schemas.CreateTokenForm, icon *Icon) (factory.TokenCreated, error) {
	if w.factory == (common.Address{}) {
		return factory.TokenCreated{}, ErrFactoryNotConfigured
	}
	args, err := form.ToCreateArgs()
	if err != nil {
		return factory.TokenCreated{}, err
	}

	if icon != nil && args.IconCID == "" {
		if w.gateway == nil {
			return factory.TokenCreated{}, ErrNoUploader
		}
		cid, err := w.gateway.Upload(ctx, icon.Filename, icon.Data)
		if err != nil {
			return factory.TokenCreated{}, fmt.Errorf("upload icon: %w", err)
		}
		args.IconCID = cid
	}

	data, err := factory.EncodeCreate(args)
	if err != nil {
		return factory.TokenCreated{}, fmt.Errorf("encode createToken: %w", err)
	}
	receipt, err := w.sender.SendAndWait(ctx, w.factory, data)
	if err != nil {
		return factory.TokenCreated{}, fmt.Errorf("createToken: %w", err)
	}

	ev, err := factory.TokenCreatedFromReceipt(receipt)
	if err != nil {
		return factory.TokenCreated{}, err
	}
	w.logger.Info("token created",
		zap.String("token", ev.Token.Hex()),
		zap.String("symbol", ev.Symbol),
		zap.String("tx", ev.TxHash.Hex()))
	return ev, nil
}

// Mint sends publicMint() to tok.
func (w *Wallet) Mint(ctx context.Context, tok common.Address) (*types.Receipt, error) {
	data, err := token.EncodePublicMint()
	if err != nil {
		return nil, fmt.Errorf("encode publicMint: %w", err)
	}
	receipt, err := w.sender.SendAndWait(ctx, tok, data)
	if err != nil {
		return nil, fmt.Errorf("publicMint: %w", err)
	}
	return receipt, nil
}

// DecryptBalance returns the clear balance of the wallet in tok. A zero
// handle is a zero balance and is not sent to the relayer.
func (w *Wallet) DecryptBalance(ctx context.Context, tok common.Address) (string, error) {
	release, err := w.acquire(tok)
	if err != nil {
		return "", err
	}
	defer release()

	user := w.sender.Address()
	handle, err := w.balances.BalanceHandle(ctx, tok, user)
	if err != nil {
		return "", err
	}
	if chain.IsZeroHandle(handle) {
		return "0", nil
	}
	if w.bridge == nil {
		return "", ErrNoBridge
	}

	inst, err := w.bridge.Instance(ctx)
	if err != nil {
		return "", err
	}
	kp, err := inst.GenerateKeypair()
	if err != nil {
		return "", err
	}

	contracts := []common.Address{tok}
	start := w.now().Unix()
	td := inst.CreateEIP712(kp.PublicKey, contracts, start, w.durationDays)
	sig, err := fhe.SignTypedData(w.sender.Key(), td)
	if err != nil {
		return "", err
	}

	values, err := inst.UserDecrypt(ctx, fhe.UserDecryptRequest{
		Pairs:          []fhe.HandleContractPair{{Handle: handle, ContractAddress: tok}},
		Keypair:        kp,
		Signature:      sig,
		Contracts:      contracts,
		User:           user,
		StartTimestamp: start,
		DurationDays:   w.durationDays,
	})
	if err != nil {
		return "", fmt.Errorf("user decrypt: %w", err)
	}
	value, ok := values[handle]
	if !ok || value == "" {
		return "", fhe.ErrEmptyDecryption
	}
	return value, nil
}

// SendConfidential encrypts the amount for (tok, wallet) and sends
// confidentialTransfer.
func (w *Wallet) SendConfidential(ctx context.Context, tok common.Address, req schemas.TransferRequest) (*types.Receipt, error) {
	to, err := req.Recipient()
	if err != nil {
		return nil, err
	}
	amount, err := req.Value()
	if err != nil {
		return nil, err
	}

	release, err := w.acquire(tok)
	if err != nil {
		return nil, err
	}
	defer release()

	if w.bridge == nil {
		return nil, ErrNoBridge
	}
	inst, err := w.bridge.Instance(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := inst.EncryptUint64(ctx, tok, w.sender.Address(), amount)
	if err != nil {
		return nil, fmt.Errorf("encrypt amount: %w", err)
	}
	if len(enc.Handles) == 0 {
		return nil, errors.New("encrypted input has no handles")
	}

	data, err := token.EncodeConfidentialTransfer(to, enc.Handles[0], enc.InputProof)
	if err != nil {
		return nil, fmt.Errorf("encode confidentialTransfer: %w", err)
	}
	receipt, err := w.sender.SendAndWait(ctx, tok, data)
	if err != nil {
		return nil, fmt.Errorf("confidentialTransfer: %w", err)
	}
	w.logger.Info("confidential transfer sent",
		zap.String("token", tok.Hex()),
		zap.String("to", to.Hex()),
		zap.String("tx", receipt.TxHash.Hex()))
	return receipt, nil
}
