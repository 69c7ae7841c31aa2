// Package factory binds the TokenFactory contract that deploys launchpad tokens.
package factory

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"

	"github.com/cipherlaunch/launchpad/chain"
)

const tokenInfoTuple = "(address token, address creator, string name, string symbol, string description, string iconCid, uint64 maxSupply, uint16 creatorReserveBps, uint16 publicMintBps, uint64 perMintAmount, uint32 perWalletMintLimit, uint64 publicAllocation)"

var (
	FuncCreateToken = w3.MustNewFunc(
		"createToken(string,string,string,string,uint64,uint16,uint16,uint64,uint32,bool,bool)", "address",
	)
	FuncGetTokenInfo = w3.MustNewFunc(
		"getTokenInfo(uint256)", tokenInfoTuple+" info",
	)
	FuncGetTokensCount = w3.MustNewFunc(
		"getTokensCount()", "uint256",
	)
	FuncTokens = w3.MustNewFunc(
		"tokens(uint256)",
		"address,address,string,string,string,string,uint64,uint16,uint16,uint64,uint32,uint64",
	)
	EventTokenCreated = w3.MustNewEvent(
		"TokenCreated(address indexed token, address indexed creator, string name, string symbol)",
	)
)

// ErrTokenCreatedNotFound is returned when a receipt carries no TokenCreated log.
var ErrTokenCreatedNotFound = errors.New("TokenCreated event not found in receipt logs")

// CreateArgs are the createToken parameters. Percentages are already in basis points.
type CreateArgs struct {
	Name                string `json:"name"`
	Symbol              string `json:"symbol"`
	Description         string `json:"description"`
	IconCID             string `json:"iconCid"`
	MaxSupply           uint64 `json:"maxSupply"`
	CreatorReserveBps   uint16 `json:"creatorReserveBps"`
	PublicMintBps       uint16 `json:"publicMintBps"`
	PerMintAmount       uint64 `json:"perMintAmount"`
	PerWalletMintLimit  uint32 `json:"perWalletMintLimit"`
	IsTotalSupplyPublic bool   `json:"isTotalSupplyPublic"`
	RenounceOnCreation  bool   `json:"renounceOnCreation"`
}

// TokenInfo is one factory registry entry. Entries never change after creation.
// Field names follow the ABI tuple component names.
type TokenInfo struct {
	Token              common.Address `json:"token"`
	Creator            common.Address `json:"creator"`
	Name               string         `json:"name"`
	Symbol             string         `json:"symbol"`
	Description        string         `json:"description"`
	IconCid            string         `json:"iconCid"`
	MaxSupply          uint64         `json:"maxSupply"`
	CreatorReserveBps  uint16         `json:"creatorReserveBps"`
	PublicMintBps      uint16         `json:"publicMintBps"`
	PerMintAmount      uint64         `json:"perMintAmount"`
	PerWalletMintLimit uint32         `json:"perWalletMintLimit"`
	PublicAllocation   uint64         `json:"publicAllocation"`
}

// TokenCreated is the decoded factory event.
type TokenCreated struct {
	Token       common.Address `json:"token"`
	Creator     common.Address `json:"creator"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
}

// EncodeCreate returns createToken calldata.
func EncodeCreate(args CreateArgs) ([]byte, error) {
	return FuncCreateToken.EncodeArgs(
		args.Name, args.Symbol, args.Description, args.IconCID,
		args.MaxSupply, args.CreatorReserveBps, args.PublicMintBps,
		args.PerMintAmount, args.PerWalletMintLimit,
		args.IsTotalSupplyPublic, args.RenounceOnCreation,
	)
}

// DecodeTokenCreated decodes a TokenCreated log.
func DecodeTokenCreated(log *types.Log) (TokenCreated, error) {
	var ev TokenCreated
	if err := EventTokenCreated.DecodeArgs(log, &ev.Token, &ev.Creator, &ev.Name, &ev.Symbol); err != nil {
		return TokenCreated{}, fmt.Errorf("decode TokenCreated: %w", err)
	}
	ev.BlockNumber = log.BlockNumber
	ev.TxHash = log.TxHash
	return ev, nil
}

// TokenCreatedFromReceipt returns the first TokenCreated event in receipt.
func TokenCreatedFromReceipt(receipt *types.Receipt) (TokenCreated, error) {
	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 || log.Topics[0] != EventTokenCreated.Topic0 {
			continue
		}
		if ev, err := DecodeTokenCreated(log); err == nil {
			return ev, nil
		}
	}
	return TokenCreated{}, ErrTokenCreatedNotFound
}

// Reader reads the factory registry.
type Reader struct {
	reader  *chain.Reader
	address common.Address
}

// NewReader binds a Reader to the factory at address.
func NewReader(r *chain.Reader, address common.Address) *Reader {
	return &Reader{reader: r, address: address}
}

// Address returns the factory address.
func (f *Reader) Address() common.Address {
	return f.address
}

// Count returns the number of tokens created so far.
func (f *Reader) Count(ctx context.Context) (uint64, error) {
	var count big.Int
	if err := f.reader.Call(ctx, eth.CallFunc(f.address, FuncGetTokensCount).Returns(&count)); err != nil {
		return 0, fmt.Errorf("getTokensCount: %w", err)
	}
	if !count.IsUint64() {
		return 0, fmt.Errorf("getTokensCount: value out of range")
	}
	return count.Uint64(), nil
}

// TokenInfos reads the given registry indices in one batch. Entries whose
// call failed are returned as nil.
func (f *Reader) TokenInfos(ctx context.Context, indices []uint64) ([]*TokenInfo, error) {
	infos := make([]TokenInfo, len(indices))
	calls := make([]w3types.RPCCaller, len(indices))
	for i, idx := range indices {
		calls[i] = eth.CallFunc(f.address, FuncGetTokenInfo, new(big.Int).SetUint64(idx)).Returns(&infos[i])
	}

	errs, err := f.reader.Batch(ctx, calls...)
	if err != nil {
		return nil, fmt.Errorf("getTokenInfo batch: %w", err)
	}

	out := make([]*TokenInfo, len(indices))
	for i := range infos {
		if errs[i] == nil {
			out[i] = &infos[i]
		}
	}
	return out, nil
}

// Entry is a readable registry entry at its factory index.
type Entry struct {
	Index uint64 `json:"index"`
	TokenInfo
}

// All enumerates the full registry in index order. Unreadable entries are
// skipped; the rest keep their registry index.
func (f *Reader) All(ctx context.Context) ([]Entry, error) {
	count, err := f.Count(ctx)
	if err != nil {
		return nil, err
	}
	indices := make([]uint64, count)
	for i := range indices {
		indices[i] = uint64(i)
	}
	infos, err := f.TokenInfos(ctx, indices)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(infos))
	for i, info := range infos {
		if info != nil {
			out = append(out, Entry{Index: indices[i], TokenInfo: *info})
		}
	}
	return out, nil
}

// NewestIndices returns registry indices from count-1 down to max(0, count-limit).
func NewestIndices(count uint64, limit int) []uint64 {
	if count == 0 || limit <= 0 {
		return nil
	}
	n := uint64(limit)
	if n > count {
		n = count
	}
	out := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, count-1-i)
	}
	return out
}
