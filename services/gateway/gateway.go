// Package gateway serves the launchpad HTTP API: the upload proxy, catalog
// and token reads, the account dashboard, prepared wallet transactions and
// the encryption bridge surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/contracts/factory"
	"github.com/cipherlaunch/launchpad/contracts/token"
	"github.com/cipherlaunch/launchpad/fhe"
	"github.com/cipherlaunch/launchpad/pinning"
	"github.com/cipherlaunch/launchpad/schemas"
)

const (
	defaultNewestLimit = 6
	defaultPageLimit   = 24
	maxPageLimit       = 200
)

var (
	// ErrFactoryNotConfigured means FACTORY_ADDRESS is unset.
	ErrFactoryNotConfigured = errors.New("factory address not configured")
	// ErrMintDisabled means the token has public minting switched off.
	ErrMintDisabled = errors.New("public mint is disabled")
	// ErrSoldOut means the public allocation is fully minted.
	ErrSoldOut = errors.New("token is sold out")
)

// FactoryReader reads the factory registry.
type FactoryReader interface {
	Address() common.Address
	Count(ctx context.Context) (uint64, error)
	TokenInfos(ctx context.Context, indices []uint64) ([]*factory.TokenInfo, error)
}

// TokenReader reads per-token contracts.
type TokenReader interface {
	Snapshot(ctx context.Context, address common.Address) (token.Snapshot, error)
	Supplies(ctx context.Context, tokens []common.Address) ([]token.Supply, error)
	AccountStates(ctx context.Context, tokens []common.Address, account common.Address) ([]token.AccountState, error)
}

// Uploader pins files to IPFS.
type Uploader interface {
	Configured() bool
	PinFile(ctx context.Context, filename string, r io.Reader) (string, error)
}

// CreatorQuerier resolves a token's original creator without enumerating the factory.
type CreatorQuerier interface {
	GetToken(ctx context.Context, address common.Address) (*IndexerToken, error)
}

// Options configures the gateway service.
type Options struct {
	Factory        FactoryReader
	Tokens         TokenReader
	Uploader       Uploader
	Bridge         *fhe.Bridge
	Relayer        *fhe.RelayerClient
	Creators       CreatorQuerier
	PinataGateway  string
	ExplorerURL    string
	MaxUploadBytes int64
	NewestLimit    int
	CacheSize      int
	CacheTTL       time.Duration
	CORSOrigins    []string
	Logger         *zap.Logger
}

// Service implements the gateway operations.
type Service struct {
	opts    Options
	logger  *zap.Logger
	infos   *expirable.LRU[uint64, factory.TokenInfo]
	metrics *metrics
}

// TokenCard is a catalog entry: a registry entry plus its mint progress.
type TokenCard struct {
	factory.TokenInfo
	Index    uint64   `json:"index"`
	Progress *float64 `json:"progress,omitempty"`
	IconURL  string   `json:"iconUrl,omitempty"`
}

// Page is one page of the full catalog.
type Page struct {
	Total  uint64      `json:"total"`
	Offset uint64      `json:"offset"`
	Limit  int         `json:"limit"`
	Items  []TokenCard `json:"items"`
}

// TokenDetail is everything the token page shows.
type TokenDetail struct {
	token.Snapshot
	Progress          *float64        `json:"progress,omitempty"`
	SoldOut           bool            `json:"soldOut"`
	Renounced         bool            `json:"renounced"`
	DisplayCreator    *common.Address `json:"displayCreator,omitempty"`
	CreatorURL        string          `json:"creatorUrl,omitempty"`
	IconURL           string          `json:"iconUrl,omitempty"`
	CreatorReservePct string          `json:"creatorReservePct"`
	PublicMintPct     string          `json:"publicMintPct"`
	PerWallet         string          `json:"perWallet"`
}

// DashboardRow is a token relevant to an account.
type DashboardRow struct {
	factory.TokenInfo
	Index         uint64       `json:"index"`
	IsCreator     bool         `json:"isCreator"`
	MintCount     uint32       `json:"mintCount"`
	BalanceHandle *common.Hash `json:"balanceHandle,omitempty"`
	KnownBalance  string       `json:"knownBalance,omitempty"`
	IconURL       string       `json:"iconUrl,omitempty"`
}

// PreparedTx is calldata for a browser wallet to sign and send.
type PreparedTx struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
	Args interface{}    `json:"args,omitempty"`
}

// TransferCalldataRequest is an already encrypted transfer.
type TransferCalldataRequest struct {
	To         string `json:"to"`
	Handle     string `json:"handle"`
	InputProof string `json:"inputProof"`
}

// NewService creates a gateway service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewestLimit <= 0 {
		opts.NewestLimit = defaultNewestLimit
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 2 * 1024 * 1024
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.ExplorerURL == "" {
		opts.ExplorerURL = "https://sepolia.etherscan.io"
	}
	if opts.Uploader == nil {
		opts.Uploader = pinning.NewClient("", "", opts.Logger)
	}

	return &Service{
		opts:    opts,
		logger:  opts.Logger,
		infos:   expirable.NewLRU[uint64, factory.TokenInfo](opts.CacheSize, nil, opts.CacheTTL),
		metrics: newMetrics(),
	}
}

// tokenInfos returns registry entries, serving immutable entries from the
// cache and reading only misses. Unreadable entries are nil.
func (s *Service) tokenInfos(ctx context.Context, indices []uint64) ([]*factory.TokenInfo, error) {
	out := make([]*factory.TokenInfo, len(indices))
	var missing []uint64
	var slots []int
	for i, idx := range indices {
		if info, ok := s.infos.Get(idx); ok {
			info := info
			out[i] = &info
			continue
		}
		missing = append(missing, idx)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	s.metrics.batchCalls.Observe(float64(len(missing)))
	fetched, err := s.opts.Factory.TokenInfos(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, info := range fetched {
		if info == nil {
			s.logger.Warn("getTokenInfo failed", zap.Uint64("index", missing[j]))
			continue
		}
		s.infos.Add(missing[j], *info)
		out[slots[j]] = info
	}
	return out, nil
}

func (s *Service) cards(ctx context.Context, indices []uint64) ([]TokenCard, error) {
	infos, err := s.tokenInfos(ctx, indices)
	if err != nil {
		return nil, err
	}

	cards := make([]TokenCard, 0, len(infos))
	addrs := make([]common.Address, 0, len(infos))
	for i, info := range infos {
		if info == nil {
			continue
		}
		cards = append(cards, TokenCard{
			TokenInfo: *info,
			Index:     indices[i],
			IconURL:   pinning.GatewayURL(s.opts.PinataGateway, info.IconCid),
		})
		addrs = append(addrs, info.Token)
	}

	supplies, err := s.opts.Tokens.Supplies(ctx, addrs)
	if err != nil {
		// Progress is decoration; the listing still renders.
		s.logger.Warn("supply batch failed", zap.Error(err))
		return cards, nil
	}
	for i := range cards {
		if pct, ok := supplies[i].Progress(cards[i].MaxSupply); ok {
			cards[i].Progress = &pct
		}
	}
	return cards, nil
}

// Newest returns the most recently created tokens, newest first.
func (s *Service) Newest(ctx context.Context, limit int) ([]TokenCard, error) {
	if s.opts.Factory == nil {
		return nil, ErrFactoryNotConfigured
	}
	if limit <= 0 {
		limit = s.opts.NewestLimit
	}
	count, err := s.opts.Factory.Count(ctx)
	if err != nil {
		return nil, err
	}
	return s.cards(ctx, factory.NewestIndices(count, limit))
}

// Soaring returns the newest tokens ordered by progress, highest first.
func (s *Service) Soaring(ctx context.Context, limit int) ([]TokenCard, error) {
	cards, err := s.Newest(ctx, limit)
	if err != nil {
		return nil, err
	}
	SortByProgress(cards)
	return cards, nil
}

// SortByProgress orders cards by descending progress; missing progress counts as 0.
func SortByProgress(cards []TokenCard) {
	sort.SliceStable(cards, func(i, j int) bool {
		return progressOf(cards[i]) > progressOf(cards[j])
	})
}

func progressOf(c TokenCard) float64 {
	if c.Progress == nil {
		return 0
	}
	return *c.Progress
}

// List pages through the whole registry in creation order.
func (s *Service) List(ctx context.Context, offset uint64, limit int) (*Page, error) {
	if s.opts.Factory == nil {
		return nil, ErrFactoryNotConfigured
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	count, err := s.opts.Factory.Count(ctx)
	if err != nil {
		return nil, err
	}
	page := &Page{Total: count, Offset: offset, Limit: limit, Items: []TokenCard{}}
	if offset >= count {
		return page, nil
	}

	end := offset + uint64(limit)
	if end > count {
		end = count
	}
	indices := make([]uint64, 0, end-offset)
	for i := offset; i < end; i++ {
		indices = append(indices, i)
	}
	page.Items, err = s.cards(ctx, indices)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// all returns every readable registry entry with its index.
func (s *Service) all(ctx context.Context) ([]uint64, []factory.TokenInfo, error) {
	count, err := s.opts.Factory.Count(ctx)
	if err != nil {
		return nil, nil, err
	}
	indices := make([]uint64, count)
	for i := range indices {
		indices[i] = uint64(i)
	}
	infos, err := s.tokenInfos(ctx, indices)
	if err != nil {
		return nil, nil, err
	}

	var idx []uint64
	var out []factory.TokenInfo
	for i, info := range infos {
		if info != nil {
			idx = append(idx, indices[i])
			out = append(out, *info)
		}
	}
	return idx, out, nil
}

// Token returns the detail view of one token.
func (s *Service) Token(ctx context.Context, address common.Address) (*TokenDetail, error) {
	snap, err := s.opts.Tokens.Snapshot(ctx, address)
	if err != nil {
		return nil, err
	}

	d := &TokenDetail{
		Snapshot:          snap,
		Renounced:         snap.Renounced(),
		IconURL:           pinning.GatewayURL(s.opts.PinataGateway, snap.IconCid),
		CreatorReservePct: schemas.BpsToPercent(snap.CreatorReserveBps),
		PublicMintPct:     schemas.BpsToPercent(snap.PublicMintBps),
		PerWallet:         schemas.FormatPerWallet(snap.PerWalletMintLimit),
	}
	if pct, ok := snap.Progress(); ok {
		d.Progress = &pct
		d.SoldOut = pct >= 100
	}

	if snap.Creator != nil && *snap.Creator != (common.Address{}) {
		creator := *snap.Creator
		d.DisplayCreator = &creator
	} else if creator, ok := s.originalCreator(ctx, address); ok {
		d.DisplayCreator = &creator
	}
	if d.DisplayCreator != nil {
		d.CreatorURL = strings.TrimSuffix(s.opts.ExplorerURL, "/") + "/address/" + d.DisplayCreator.Hex()
	}
	return d, nil
}

// originalCreator finds who created a token whose on-chain creator is gone,
// asking the indexer first and falling back to the factory listing.
func (s *Service) originalCreator(ctx context.Context, address common.Address) (common.Address, bool) {
	if s.opts.Creators != nil {
		tok, err := s.opts.Creators.GetToken(ctx, address)
		if err == nil && tok.Creator != (common.Address{}) {
			return tok.Creator, true
		}
		if err != nil && !errors.Is(err, ErrIndexerNotFound) {
			s.logger.Warn("indexer creator lookup failed", zap.String("token", address.Hex()), zap.Error(err))
		}
	}

	if s.opts.Factory == nil {
		return common.Address{}, false
	}
	_, infos, err := s.all(ctx)
	if err != nil {
		s.logger.Warn("factory creator lookup failed", zap.String("token", address.Hex()), zap.Error(err))
		return common.Address{}, false
	}
	for _, info := range infos {
		if info.Token == address {
			return info.Creator, true
		}
	}
	return common.Address{}, false
}

// Dashboard returns the tokens an account created, minted or holds a balance of.
func (s *Service) Dashboard(ctx context.Context, account common.Address) ([]DashboardRow, error) {
	if s.opts.Factory == nil {
		return nil, ErrFactoryNotConfigured
	}
	indices, infos, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	addrs := make([]common.Address, len(infos))
	for i, info := range infos {
		addrs[i] = info.Token
	}
	s.metrics.batchCalls.Observe(float64(len(addrs) * 3))
	states, err := s.opts.Tokens.AccountStates(ctx, addrs, account)
	if err != nil {
		return nil, err
	}

	rows := []DashboardRow{}
	for i, info := range infos {
		st := states[i]
		if st.MintCount == nil {
			s.logger.Debug("walletMintCount unreadable", zap.String("token", info.Token.Hex()))
		}
		if st.BalanceHandle == nil {
			s.logger.Debug("confidentialBalanceOf unreadable", zap.String("token", info.Token.Hex()))
		}

		isCreator := chain.SameAddress(info.Creator.Hex(), account.Hex()) ||
			(st.Creator != nil && chain.SameAddress(st.Creator.Hex(), account.Hex()))
		var minted uint32
		if st.MintCount != nil {
			minted = *st.MintCount
		}
		hasBalance := st.BalanceHandle != nil && !chain.IsZeroHandle(*st.BalanceHandle)

		if !isCreator && minted == 0 && !hasBalance {
			continue
		}

		row := DashboardRow{
			TokenInfo:     info,
			Index:         indices[i],
			IsCreator:     isCreator,
			MintCount:     minted,
			BalanceHandle: st.BalanceHandle,
			IconURL:       pinning.GatewayURL(s.opts.PinataGateway, info.IconCid),
		}
		if st.BalanceHandle != nil && chain.IsZeroHandle(*st.BalanceHandle) {
			row.KnownBalance = "0"
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PrepareCreate validates the form and returns createToken calldata.
func (s *Service) PrepareCreate(form *schemas.CreateTokenForm) (*PreparedTx, error) {
	if s.opts.Factory == nil {
		return nil, ErrFactoryNotConfigured
	}
	args, err := form.ToCreateArgs()
	if err != nil {
		return nil, err
	}
	data, err := factory.EncodeCreate(args)
	if err != nil {
		return nil, fmt.Errorf("encode createToken: %w", err)
	}
	return &PreparedTx{To: s.opts.Factory.Address(), Data: data, Args: args}, nil
}

// PrepareMint returns publicMint calldata when minting is possible.
func (s *Service) PrepareMint(ctx context.Context, address common.Address) (*PreparedTx, error) {
	snap, err := s.opts.Tokens.Snapshot(ctx, address)
	if err != nil {
		return nil, err
	}
	if snap.PublicMintEnabled != nil && !*snap.PublicMintEnabled {
		return nil, ErrMintDisabled
	}
	if pct, ok := snap.Progress(); ok && pct >= 100 {
		return nil, ErrSoldOut
	}

	data, err := token.EncodePublicMint()
	if err != nil {
		return nil, fmt.Errorf("encode publicMint: %w", err)
	}
	return &PreparedTx{To: address, Data: data}, nil
}

// PrepareTransfer returns confidentialTransfer calldata for an encrypted amount.
func (s *Service) PrepareTransfer(address common.Address, req TransferCalldataRequest) (*PreparedTx, error) {
	to, err := chain.ParseAddress(strings.TrimSpace(req.To))
	if err != nil {
		return nil, &schemas.ValidationError{Field: "to", Message: schemas.MsgInvalidRecipient}
	}
	handle, err := hexutil.Decode(req.Handle)
	if err != nil || len(handle) != common.HashLength {
		return nil, &schemas.ValidationError{Field: "handle", Message: "handle must be 32 bytes of 0x-prefixed hex"}
	}
	proof, err := hexutil.Decode(req.InputProof)
	if err != nil {
		return nil, &schemas.ValidationError{Field: "inputProof", Message: "inputProof must be 0x-prefixed hex"}
	}

	data, err := token.EncodeConfidentialTransfer(to, common.BytesToHash(handle), proof)
	if err != nil {
		return nil, fmt.Errorf("encode confidentialTransfer: %w", err)
	}
	return &PreparedTx{
		To:   address,
		Data: data,
		Args: map[string]string{"to": to.Hex(), "handle": req.Handle},
	}, nil
}

// Upload pins a file and returns its CID.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	return s.opts.Uploader.PinFile(ctx, filename, r)
}

// FHEStatus reports the encryption bridge state.
func (s *Service) FHEStatus() fhe.Status {
	if s.opts.Bridge == nil {
		return fhe.Status{State: fhe.StateError, Error: "encryption bridge not configured"}
	}
	return s.opts.Bridge.Status()
}

// ForwardRelayer passes a signed request to the relayer once the shared
// bridge instance is ready.
func (s *Service) ForwardRelayer(ctx context.Context, path string, body []byte) (int, []byte, error) {
	if s.opts.Bridge == nil || s.opts.Relayer == nil {
		return 0, nil, errBridgeUnavailable
	}
	if _, err := s.opts.Bridge.Instance(ctx); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errBridgeUnavailable, err)
	}
	return s.opts.Relayer.Forward(ctx, path, body)
}

var errBridgeUnavailable = errors.New("encryption bridge unavailable")
