// Package token binds the per-token confidential and public mintable contracts.
package token

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"

	"github.com/cipherlaunch/launchpad/chain"
)

var (
	FuncName                  = w3.MustNewFunc("name()", "string")
	FuncSymbol                = w3.MustNewFunc("symbol()", "string")
	FuncDescription           = w3.MustNewFunc("description()", "string")
	FuncIconCid               = w3.MustNewFunc("iconCid()", "string")
	FuncMaxSupply             = w3.MustNewFunc("maxSupply()", "uint64")
	FuncPerMintAmount         = w3.MustNewFunc("perMintAmount()", "uint64")
	FuncPerWalletMintLimit    = w3.MustNewFunc("perWalletMintLimit()", "uint32")
	FuncPublicAllocation      = w3.MustNewFunc("publicAllocation()", "uint64")
	FuncCreatorReserveBps     = w3.MustNewFunc("creatorReserveBps()", "uint16")
	FuncPublicMintBps         = w3.MustNewFunc("publicMintBps()", "uint16")
	FuncIsTotalSupplyPublic   = w3.MustNewFunc("isTotalSupplyPublic()", "bool")
	FuncTotalMinted           = w3.MustNewFunc("totalMinted()", "uint64")
	FuncTotalSupply           = w3.MustNewFunc("totalSupply()", "uint256")
	FuncCreator               = w3.MustNewFunc("creator()", "address")
	FuncPublicMintEnabled     = w3.MustNewFunc("publicMintEnabled()", "bool")
	FuncWalletMintCount       = w3.MustNewFunc("walletMintCount(address)", "uint32")
	FuncConfidentialBalanceOf = w3.MustNewFunc("confidentialBalanceOf(address)", "bytes32")

	FuncPublicMint           = w3.MustNewFunc("publicMint()", "")
	FuncConfidentialTransfer = w3.MustNewFunc("confidentialTransfer(address,bytes32,bytes)", "bytes32")
)

// ErrNotFound is returned when no view of a token could be read.
var ErrNotFound = errors.New("token not found")

// Snapshot is the state shown on a token page. Pointer fields are nil when
// the corresponding view could not be read.
type Snapshot struct {
	Address             common.Address  `json:"address"`
	Name                string          `json:"name"`
	Symbol              string          `json:"symbol"`
	Description         string          `json:"description"`
	IconCid             string          `json:"iconCid"`
	MaxSupply           uint64          `json:"maxSupply"`
	PerMintAmount       uint64          `json:"perMintAmount"`
	PerWalletMintLimit  uint32          `json:"perWalletMintLimit"`
	PublicAllocation    uint64          `json:"publicAllocation"`
	CreatorReserveBps   uint16          `json:"creatorReserveBps"`
	PublicMintBps       uint16          `json:"publicMintBps"`
	IsTotalSupplyPublic bool            `json:"isTotalSupplyPublic"`
	TotalMinted         *uint64         `json:"totalMinted,omitempty"`
	TotalSupply         *big.Int        `json:"totalSupply,omitempty"`
	Creator             *common.Address `json:"creator,omitempty"`
	PublicMintEnabled   *bool           `json:"publicMintEnabled,omitempty"`
}

// Minted returns totalMinted, falling back to totalSupply for public tokens.
func (s Snapshot) Minted() (float64, bool) {
	return Minted(s.TotalMinted, s.TotalSupply)
}

// Progress returns the minted percentage of max supply.
func (s Snapshot) Progress() (float64, bool) {
	minted, ok := s.Minted()
	if !ok {
		return 0, false
	}
	return Progress(minted, s.MaxSupply)
}

// Renounced reports whether ownership was renounced (creator reads as zero).
func (s Snapshot) Renounced() bool {
	return s.Creator != nil && *s.Creator == (common.Address{})
}

// Minted picks totalMinted when readable, else totalSupply.
func Minted(totalMinted *uint64, totalSupply *big.Int) (float64, bool) {
	if totalMinted != nil {
		return float64(*totalMinted), true
	}
	if totalSupply != nil {
		f, _ := new(big.Float).SetInt(totalSupply).Float64()
		return f, true
	}
	return 0, false
}

// Progress is minted/max*100 clamped to [0, 100]; absent when max is zero.
func Progress(minted float64, maxSupply uint64) (float64, bool) {
	if maxSupply == 0 {
		return 0, false
	}
	pct := minted / float64(maxSupply) * 100
	return math.Max(0, math.Min(100, pct)), true
}

// Supply holds the minted counters of one token; nil fields were unreadable.
type Supply struct {
	TotalMinted *uint64
	TotalSupply *big.Int
}

// Progress returns the minted percentage of maxSupply.
func (s Supply) Progress(maxSupply uint64) (float64, bool) {
	minted, ok := Minted(s.TotalMinted, s.TotalSupply)
	if !ok {
		return 0, false
	}
	return Progress(minted, maxSupply)
}

// Supplies reads totalMinted and totalSupply of every token in one batch.
func (t *Reader) Supplies(ctx context.Context, tokens []common.Address) ([]Supply, error) {
	minted := make([]uint64, len(tokens))
	supplies := make([]big.Int, len(tokens))

	calls := make([]w3types.RPCCaller, 0, len(tokens)*2)
	for i, addr := range tokens {
		calls = append(calls,
			eth.CallFunc(addr, FuncTotalMinted).Returns(&minted[i]),
			eth.CallFunc(addr, FuncTotalSupply).Returns(&supplies[i]),
		)
	}

	errs, err := t.reader.Batch(ctx, calls...)
	if err != nil {
		return nil, err
	}

	out := make([]Supply, len(tokens))
	for i := range tokens {
		if errs[i*2] == nil {
			out[i].TotalMinted = &minted[i]
		}
		if errs[i*2+1] == nil {
			out[i].TotalSupply = &supplies[i]
		}
	}
	return out, nil
}

// AccountState is what the dashboard needs about one account for one token.
type AccountState struct {
	Token         common.Address  `json:"token"`
	Creator       *common.Address `json:"creator,omitempty"`
	MintCount     *uint32         `json:"mintCount,omitempty"`
	BalanceHandle *common.Hash    `json:"balanceHandle,omitempty"`
}

// Reader reads token contracts.
type Reader struct {
	reader *chain.Reader
}

// NewReader creates a token Reader.
func NewReader(r *chain.Reader) *Reader {
	return &Reader{reader: r}
}

// Snapshot reads every token view in one batch.
func (t *Reader) Snapshot(ctx context.Context, address common.Address) (Snapshot, error) {
	var (
		s                 = Snapshot{Address: address}
		totalMinted       uint64
		totalSupply       big.Int
		creator           common.Address
		publicMintEnabled bool
	)

	calls := []w3types.RPCCaller{
		eth.CallFunc(address, FuncName).Returns(&s.Name),
		eth.CallFunc(address, FuncSymbol).Returns(&s.Symbol),
		eth.CallFunc(address, FuncDescription).Returns(&s.Description),
		eth.CallFunc(address, FuncIconCid).Returns(&s.IconCid),
		eth.CallFunc(address, FuncMaxSupply).Returns(&s.MaxSupply),
		eth.CallFunc(address, FuncPerMintAmount).Returns(&s.PerMintAmount),
		eth.CallFunc(address, FuncPerWalletMintLimit).Returns(&s.PerWalletMintLimit),
		eth.CallFunc(address, FuncPublicAllocation).Returns(&s.PublicAllocation),
		eth.CallFunc(address, FuncCreatorReserveBps).Returns(&s.CreatorReserveBps),
		eth.CallFunc(address, FuncPublicMintBps).Returns(&s.PublicMintBps),
		eth.CallFunc(address, FuncIsTotalSupplyPublic).Returns(&s.IsTotalSupplyPublic),
		eth.CallFunc(address, FuncTotalMinted).Returns(&totalMinted),
		eth.CallFunc(address, FuncTotalSupply).Returns(&totalSupply),
		eth.CallFunc(address, FuncCreator).Returns(&creator),
		eth.CallFunc(address, FuncPublicMintEnabled).Returns(&publicMintEnabled),
	}

	errs, err := t.reader.Batch(ctx, calls...)
	if err != nil {
		return Snapshot{}, err
	}
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	if failed == len(calls) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, address.Hex())
	}

	if errs[11] == nil {
		s.TotalMinted = &totalMinted
	}
	if errs[12] == nil {
		s.TotalSupply = &totalSupply
	}
	if errs[13] == nil {
		s.Creator = &creator
	}
	if errs[14] == nil {
		s.PublicMintEnabled = &publicMintEnabled
	}
	return s, nil
}

// AccountStates reads creator, walletMintCount and the balance handle for
// account across tokens in one batch. Failed reads leave the field nil.
func (t *Reader) AccountStates(ctx context.Context, tokens []common.Address, account common.Address) ([]AccountState, error) {
	const perToken = 3

	creators := make([]common.Address, len(tokens))
	counts := make([]uint32, len(tokens))
	handles := make([]common.Hash, len(tokens))

	calls := make([]w3types.RPCCaller, 0, len(tokens)*perToken)
	for i, addr := range tokens {
		calls = append(calls,
			eth.CallFunc(addr, FuncCreator).Returns(&creators[i]),
			eth.CallFunc(addr, FuncWalletMintCount, account).Returns(&counts[i]),
			eth.CallFunc(addr, FuncConfidentialBalanceOf, account).Returns(&handles[i]),
		)
	}

	errs, err := t.reader.Batch(ctx, calls...)
	if err != nil {
		return nil, err
	}

	states := make([]AccountState, len(tokens))
	for i, addr := range tokens {
		states[i].Token = addr
		if errs[i*perToken] == nil {
			states[i].Creator = &creators[i]
		}
		if errs[i*perToken+1] == nil {
			states[i].MintCount = &counts[i]
		}
		if errs[i*perToken+2] == nil {
			states[i].BalanceHandle = &handles[i]
		}
	}
	return states, nil
}

// BalanceHandle reads the encrypted balance handle of account.
func (t *Reader) BalanceHandle(ctx context.Context, address, account common.Address) (common.Hash, error) {
	var handle common.Hash
	if err := t.reader.Call(ctx, eth.CallFunc(address, FuncConfidentialBalanceOf, account).Returns(&handle)); err != nil {
		return common.Hash{}, fmt.Errorf("confidentialBalanceOf: %w", err)
	}
	return handle, nil
}

// EncodePublicMint returns publicMint() calldata.
func EncodePublicMint() ([]byte, error) {
	return FuncPublicMint.EncodeArgs()
}

// EncodeConfidentialTransfer returns confidentialTransfer calldata.
func EncodeConfidentialTransfer(to common.Address, handle common.Hash, inputProof []byte) ([]byte, error) {
	return FuncConfidentialTransfer.EncodeArgs(to, handle, inputProof)
}
