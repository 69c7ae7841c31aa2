package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherlaunch/launchpad/contracts/factory"
	"github.com/cipherlaunch/launchpad/contracts/token"
	"github.com/cipherlaunch/launchpad/schemas"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

func tokenAt(i int) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", 0xa0+i))
}

func u64(v uint64) *uint64 { return &v }
func u32(v uint32) *uint32 { return &v }
func boolp(v bool) *bool   { return &v }
func addrp(a common.Address) *common.Address {
	return &a
}

type fakeFactory struct {
	infos    []factory.TokenInfo
	countErr error
	fetched  []uint64
}

func (f *fakeFactory) Address() common.Address { return factoryAddr }

func (f *fakeFactory) Count(ctx context.Context) (uint64, error) {
	return uint64(len(f.infos)), f.countErr
}

func (f *fakeFactory) TokenInfos(ctx context.Context, indices []uint64) ([]*factory.TokenInfo, error) {
	f.fetched = append(f.fetched, indices...)
	out := make([]*factory.TokenInfo, len(indices))
	for i, idx := range indices {
		if idx < uint64(len(f.infos)) {
			info := f.infos[idx]
			out[i] = &info
		}
	}
	return out, nil
}

type fakeTokens struct {
	snapshots map[common.Address]token.Snapshot
	supplies  map[common.Address]token.Supply
	states    map[common.Address]token.AccountState
}

func (f *fakeTokens) Snapshot(ctx context.Context, address common.Address) (token.Snapshot, error) {
	snap, ok := f.snapshots[address]
	if !ok {
		return token.Snapshot{}, fmt.Errorf("%w: %s", token.ErrNotFound, address.Hex())
	}
	return snap, nil
}

func (f *fakeTokens) Supplies(ctx context.Context, tokens []common.Address) ([]token.Supply, error) {
	out := make([]token.Supply, len(tokens))
	for i, t := range tokens {
		out[i] = f.supplies[t]
	}
	return out, nil
}

func (f *fakeTokens) AccountStates(ctx context.Context, tokens []common.Address, account common.Address) ([]token.AccountState, error) {
	out := make([]token.AccountState, len(tokens))
	for i, t := range tokens {
		st, ok := f.states[t]
		if !ok {
			st = token.AccountState{Token: t}
		}
		out[i] = st
	}
	return out, nil
}

// catalog builds n factory entries with maxSupply 100 each; token i has
// minted supply progress[i] (negative means unreadable).
func catalog(progress ...int) (*fakeFactory, *fakeTokens) {
	f := &fakeFactory{}
	tk := &fakeTokens{
		snapshots: map[common.Address]token.Snapshot{},
		supplies:  map[common.Address]token.Supply{},
		states:    map[common.Address]token.AccountState{},
	}
	for i, p := range progress {
		addr := tokenAt(i)
		creator := alice
		if i%2 == 1 {
			creator = bob
		}
		f.infos = append(f.infos, factory.TokenInfo{
			Token:     addr,
			Creator:   creator,
			Name:      fmt.Sprintf("Token %d", i),
			Symbol:    fmt.Sprintf("T%d", i),
			IconCid:   fmt.Sprintf("bafy%d", i),
			MaxSupply: 100,
		})
		if p >= 0 {
			tk.supplies[addr] = token.Supply{TotalMinted: u64(uint64(p))}
		}
	}
	return f, tk
}

func newTestService(f FactoryReader, tk TokenReader) *Service {
	return NewService(Options{Factory: f, Tokens: tk, PinataGateway: "gateway.example"})
}

func TestService_Newest(t *testing.T) {
	f, tk := catalog(10, 20, 30, 40, 50, 60, 70, 80, 90, 100)
	svc := newTestService(f, tk)

	cards, err := svc.Newest(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Equal(t, []uint64{9, 8, 7}, []uint64{cards[0].Index, cards[1].Index, cards[2].Index})
	require.NotNil(t, cards[0].Progress)
	assert.InDelta(t, 100.0, *cards[0].Progress, 1e-9)
	assert.Equal(t, "https://gateway.example/ipfs/bafy9", cards[0].IconURL)

	defaults, err := svc.Newest(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, defaults, defaultNewestLimit)

	// 3 fetched first, then 3 more misses for the default limit of 6
	assert.Len(t, f.fetched, 6, "registry entries are cached")
}

func TestService_NewestEmptyRegistry(t *testing.T) {
	f, tk := catalog()
	cards, err := newTestService(f, tk).Newest(context.Background(), 6)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestService_Soaring(t *testing.T) {
	f, tk := catalog(10, -1, 90, 50)
	cards, err := newTestService(f, tk).Soaring(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, cards, 4)

	var order []uint64
	for _, c := range cards {
		order = append(order, c.Index)
	}
	assert.Equal(t, []uint64{2, 3, 0, 1}, order, "missing progress sorts as 0")
	assert.Nil(t, cards[3].Progress)
}

func TestSortByProgress_Stable(t *testing.T) {
	p := 50.0
	cards := []TokenCard{{Index: 1}, {Index: 2, Progress: &p}, {Index: 3}}
	SortByProgress(cards)
	assert.Equal(t, []uint64{2, 1, 3}, []uint64{cards[0].Index, cards[1].Index, cards[2].Index})
}

func TestService_List(t *testing.T) {
	f, tk := catalog(1, 2, 3, 4, 5)
	svc := newTestService(f, tk)

	page, err := svc.List(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, uint64(1), page.Items[0].Index)
	assert.Equal(t, uint64(2), page.Items[1].Index)

	page, err = svc.List(context.Background(), 4, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	page, err = svc.List(context.Background(), 9, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = svc.List(context.Background(), 0, 10_000)
	require.NoError(t, err)
	assert.Equal(t, maxPageLimit, page.Limit)
}

func TestService_NoFactory(t *testing.T) {
	svc := newTestService(nil, &fakeTokens{})

	_, err := svc.Newest(context.Background(), 1)
	assert.ErrorIs(t, err, ErrFactoryNotConfigured)
	_, err = svc.Dashboard(context.Background(), alice)
	assert.ErrorIs(t, err, ErrFactoryNotConfigured)
	_, err = svc.PrepareCreate(&schemas.CreateTokenForm{})
	assert.ErrorIs(t, err, ErrFactoryNotConfigured)
}

func TestService_Token(t *testing.T) {
	f, tk := catalog(0, 0)
	addr := tokenAt(0)
	tk.snapshots[addr] = token.Snapshot{
		Address:            addr,
		Name:               "Token 0",
		IconCid:            "bafy0",
		MaxSupply:          1000,
		PerWalletMintLimit: 0,
		CreatorReserveBps:  1050,
		PublicMintBps:      8950,
		TotalMinted:        u64(1000),
		Creator:            addrp(bob),
		PublicMintEnabled:  boolp(true),
	}

	d, err := newTestService(f, tk).Token(context.Background(), addr)
	require.NoError(t, err)

	assert.False(t, d.Renounced)
	assert.True(t, d.SoldOut)
	require.NotNil(t, d.DisplayCreator)
	assert.Equal(t, bob, *d.DisplayCreator, "on-chain creator wins when set")
	assert.Equal(t, "https://sepolia.etherscan.io/address/"+bob.Hex(), d.CreatorURL)
	assert.Equal(t, "10.50", d.CreatorReservePct)
	assert.Equal(t, "89.50", d.PublicMintPct)
	assert.Equal(t, "Unlimited", d.PerWallet)
	assert.Equal(t, "https://gateway.example/ipfs/bafy0", d.IconURL)
}

func TestService_TokenRenouncedUsesFactoryCreator(t *testing.T) {
	f, tk := catalog(0, 0)
	addr := tokenAt(1)
	tk.snapshots[addr] = token.Snapshot{Address: addr, MaxSupply: 0, Creator: addrp(common.Address{})}

	d, err := newTestService(f, tk).Token(context.Background(), addr)
	require.NoError(t, err)

	assert.True(t, d.Renounced)
	assert.Nil(t, d.Progress, "no progress when max supply is zero")
	assert.False(t, d.SoldOut)
	require.NotNil(t, d.DisplayCreator)
	assert.Equal(t, bob, *d.DisplayCreator)
}

func TestService_TokenRenouncedUsesIndexer(t *testing.T) {
	addr := tokenAt(7)
	indexer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tokens/"+addr.Hex(), r.URL.Path)
		json.NewEncoder(w).Encode(IndexerToken{Token: addr, Creator: alice})
	}))
	defer indexer.Close()

	tk := &fakeTokens{snapshots: map[common.Address]token.Snapshot{
		addr: {Address: addr, Creator: addrp(common.Address{})},
	}}
	svc := NewService(Options{Tokens: tk, Creators: NewIndexerTokenQuerier(indexer.URL)})

	d, err := svc.Token(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, d.DisplayCreator)
	assert.Equal(t, alice, *d.DisplayCreator)
}

func TestService_TokenNotFound(t *testing.T) {
	f, tk := catalog()
	_, err := newTestService(f, tk).Token(context.Background(), tokenAt(3))
	assert.True(t, errors.Is(err, token.ErrNotFound))
}

func TestService_Dashboard(t *testing.T) {
	f, tk := catalog(0, 0, 0, 0, 0)
	account := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	nonZero := common.HexToHash("0xbeef")
	zero := common.Hash{}

	// 0: alice created, account unrelated
	// 1: account minted twice
	// 2: account holds a balance
	// 3: account has zero handle and no mints
	// 4: account is the on-chain creator, reads failed
	tk.states[tokenAt(1)] = token.AccountState{Token: tokenAt(1), MintCount: u32(2), BalanceHandle: &zero}
	tk.states[tokenAt(2)] = token.AccountState{Token: tokenAt(2), MintCount: u32(0), BalanceHandle: &nonZero}
	tk.states[tokenAt(3)] = token.AccountState{Token: tokenAt(3), MintCount: u32(0), BalanceHandle: &zero}
	tk.states[tokenAt(4)] = token.AccountState{Token: tokenAt(4), Creator: addrp(account)}

	rows, err := newTestService(f, tk).Dashboard(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, tokenAt(1), rows[0].Token)
	assert.Equal(t, uint32(2), rows[0].MintCount)
	assert.Equal(t, "0", rows[0].KnownBalance)

	assert.Equal(t, tokenAt(2), rows[1].Token)
	assert.Equal(t, nonZero, *rows[1].BalanceHandle)
	assert.Empty(t, rows[1].KnownBalance)

	assert.Equal(t, tokenAt(4), rows[2].Token)
	assert.True(t, rows[2].IsCreator)
	assert.Nil(t, rows[2].BalanceHandle)
}

func TestService_DashboardFactoryCreator(t *testing.T) {
	f, tk := catalog(0, 0)
	rows, err := newTestService(f, tk).Dashboard(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsCreator)
	assert.Equal(t, tokenAt(0), rows[0].Token)
}

func TestService_PrepareCreate(t *testing.T) {
	f, tk := catalog()
	svc := newTestService(f, tk)

	tx, err := svc.PrepareCreate(&schemas.CreateTokenForm{
		Name: "Secret", Symbol: "SCT", MaxSupply: "1000", PerMint: "10",
		CreatorReservePct: "10", PublicMintPct: "90",
	})
	require.NoError(t, err)
	assert.Equal(t, factoryAddr, tx.To)
	assert.Equal(t, factory.FuncCreateToken.Selector[:], []byte(tx.Data[:4]))

	args, ok := tx.Args.(factory.CreateArgs)
	require.True(t, ok)
	assert.Equal(t, uint16(1000), args.CreatorReserveBps)
	assert.Equal(t, uint16(9000), args.PublicMintBps)

	_, err = svc.PrepareCreate(&schemas.CreateTokenForm{
		Name: "Secret", Symbol: "SCT", MaxSupply: "1000", PerMint: "10",
		CreatorReservePct: "50", PublicMintPct: "51",
	})
	var verr *schemas.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, schemas.MsgPercentSum, verr.Message)
}

func TestService_PrepareMint(t *testing.T) {
	f, tk := catalog()
	open, disabled, soldOut := tokenAt(0), tokenAt(1), tokenAt(2)
	tk.snapshots[open] = token.Snapshot{MaxSupply: 10, TotalMinted: u64(5), PublicMintEnabled: boolp(true)}
	tk.snapshots[disabled] = token.Snapshot{MaxSupply: 10, TotalMinted: u64(5), PublicMintEnabled: boolp(false)}
	tk.snapshots[soldOut] = token.Snapshot{MaxSupply: 10, TotalMinted: u64(10), PublicMintEnabled: boolp(true)}
	svc := newTestService(f, tk)

	tx, err := svc.PrepareMint(context.Background(), open)
	require.NoError(t, err)
	assert.Equal(t, open, tx.To)
	assert.Equal(t, token.FuncPublicMint.Selector[:], []byte(tx.Data))

	_, err = svc.PrepareMint(context.Background(), disabled)
	assert.ErrorIs(t, err, ErrMintDisabled)

	_, err = svc.PrepareMint(context.Background(), soldOut)
	assert.ErrorIs(t, err, ErrSoldOut)
}

func TestService_PrepareTransfer(t *testing.T) {
	svc := newTestService(nil, &fakeTokens{})
	handle := "0x" + fmt.Sprintf("%064x", 0xfeed)

	tx, err := svc.PrepareTransfer(tokenAt(0), TransferCalldataRequest{To: bob.Hex(), Handle: handle, InputProof: "0xdead"})
	require.NoError(t, err)
	assert.Equal(t, token.FuncConfidentialTransfer.Selector[:], []byte(tx.Data[:4]))

	tests := []struct {
		name  string
		req   TransferCalldataRequest
		field string
	}{
		{"bad recipient", TransferCalldataRequest{To: "0x12", Handle: handle, InputProof: "0x"}, "to"},
		{"short handle", TransferCalldataRequest{To: bob.Hex(), Handle: "0x01", InputProof: "0x"}, "handle"},
		{"bad proof", TransferCalldataRequest{To: bob.Hex(), Handle: handle, InputProof: "zz"}, "inputProof"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PrepareTransfer(tokenAt(0), tt.req)
			var verr *schemas.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
