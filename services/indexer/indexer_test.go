package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/contracts/factory"
	"github.com/cipherlaunch/launchpad/internal/rpctest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fakeFactory struct {
	entries []factory.Entry
	err     error
}

func (f *fakeFactory) All(ctx context.Context) ([]factory.Entry, error) {
	return f.entries, f.err
}

type fakeLogs struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (f *fakeLogs) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	var out []types.Log
	for _, l := range f.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeLogs) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("notifications not supported")
}

func (f *fakeLogs) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeLogs) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func tokenCreatedLog(token, creator common.Address, name, symbol string, block uint64) types.Log {
	return types.Log{
		Address: factoryAddr,
		Topics: []common.Hash{
			factory.EventTokenCreated.Topic0,
			common.BytesToHash(token.Bytes()),
			common.BytesToHash(creator.Bytes()),
		},
		Data:        rpctest.Pack([]string{"string", "string"}, name, symbol),
		BlockNumber: block,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%x", block)),
	}
}

func TestService_BackfillFromFactory(t *testing.T) {
	svc := NewService(Options{
		Factory: &fakeFactory{entries: []factory.Entry{
			{Index: 0, TokenInfo: factory.TokenInfo{Token: tokenA, Creator: creatorA, Name: "Alpha", Symbol: "ALP"}},
			{Index: 1, TokenInfo: factory.TokenInfo{Token: tokenB, Creator: creatorB, Name: "Beta", Symbol: "BET"}},
		}},
	})

	svc.Backfill(context.Background())

	tokens, err := svc.Tokens().QueryTokens()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, tokenA, tokens[0].Token)
	require.NotNil(t, tokens[1].Index)
	assert.Equal(t, uint64(1), *tokens[1].Index)
}

func TestService_BackfillFactoryError(t *testing.T) {
	svc := NewService(Options{Factory: &fakeFactory{err: errors.New("rpc down")}})
	svc.Backfill(context.Background())
	assert.Equal(t, 0, svc.Tokens().Len())
}

func TestService_BackfillFromSubgraph(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		queries = append(queries, req.Query)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"tokenCreateds": []map[string]string{
					{"id": "1", "token": tokenA.Hex(), "creator": creatorA.Hex(), "name": "Alpha", "symbol": "ALP", "blockNumber": "100", "transactionHash": "0x01"},
					{"id": "2", "token": tokenB.Hex(), "creator": creatorB.Hex(), "name": "Beta", "symbol": "BET", "blockNumber": "101", "transactionHash": "0x02"},
				},
			},
		})
	}))
	defer server.Close()

	svc := NewService(Options{Subgraph: NewSubgraphSource(server.URL)})
	svc.Backfill(context.Background())

	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], "tokenCreateds(first: $first, skip: $skip")

	rec, ok := svc.Tokens().QueryToken(tokenB)
	require.True(t, ok)
	assert.Equal(t, SourceSubgraph, rec.Source)
	assert.Equal(t, uint64(101), rec.BlockNumber)
	assert.Equal(t, creatorB, rec.Creator)
}

func TestService_PollOnce(t *testing.T) {
	logs := &fakeLogs{
		head: 120,
		logs: []types.Log{
			tokenCreatedLog(tokenA, creatorA, "Alpha", "ALP", 99),
			tokenCreatedLog(tokenB, creatorB, "Beta", "BET", 110),
		},
	}
	svc := NewService(Options{FactoryAddress: factoryAddr, Logs: logs, StartBlock: 100})

	require.NoError(t, svc.pollOnce(context.Background()))
	assert.Equal(t, 1, svc.Tokens().Len(), "logs before the start block are skipped")

	rec, ok := svc.Tokens().QueryToken(tokenB)
	require.True(t, ok)
	assert.Equal(t, "Beta", rec.Name)
	assert.Equal(t, SourceLog, rec.Source)

	require.Len(t, logs.queries, 1)
	q := logs.queries[0]
	assert.Equal(t, []common.Address{factoryAddr}, q.Addresses)
	assert.Equal(t, factory.EventTokenCreated.Topic0, q.Topics[0][0])
	assert.Equal(t, uint64(100), q.FromBlock.Uint64())
	assert.Equal(t, uint64(120), q.ToBlock.Uint64())

	require.NoError(t, svc.pollOnce(context.Background()))
	assert.Equal(t, 1, logs.queryCount(), "nothing new to scan at the same head")

	logs.mu.Lock()
	logs.head = 130
	logs.logs = append(logs.logs, tokenCreatedLog(tokenC, creatorA, "Gamma", "GAM", 125))
	logs.mu.Unlock()

	require.NoError(t, svc.pollOnce(context.Background()))
	assert.Equal(t, 2, svc.Tokens().Len())
	assert.Equal(t, uint64(121), logs.queries[1].FromBlock.Uint64())
}

func TestService_PollWithoutStartBlockFollowsHead(t *testing.T) {
	logs := &fakeLogs{head: 500, logs: []types.Log{tokenCreatedLog(tokenA, creatorA, "Alpha", "ALP", 10)}}
	svc := NewService(Options{FactoryAddress: factoryAddr, Logs: logs})

	require.NoError(t, svc.pollOnce(context.Background()))
	assert.Equal(t, 0, logs.queryCount())
	assert.Equal(t, uint64(501), svc.fromBlock().Uint64())
}

func TestService_RunFallsBackToPolling(t *testing.T) {
	logs := &fakeLogs{head: 10, logs: []types.Log{tokenCreatedLog(tokenA, creatorA, "Alpha", "ALP", 5)}}
	svc := NewService(Options{FactoryAddress: factoryAddr, Logs: logs, StartBlock: 1, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.Tokens().Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestService_HandleLogSkipsRemovedAndGarbage(t *testing.T) {
	svc := NewService(Options{})

	removed := tokenCreatedLog(tokenA, creatorA, "Alpha", "ALP", 5)
	removed.Removed = true
	svc.handleLog(&removed)

	garbage := tokenCreatedLog(tokenB, creatorB, "Beta", "BET", 6)
	garbage.Data = []byte{0x01}
	svc.handleLog(&garbage)

	assert.Equal(t, 0, svc.Tokens().Len())
}

type recordingReader struct {
	*TokenReadModel
	events []TokenEvent
}

func (r *recordingReader) HandleEvent(ev TokenEvent) error {
	r.events = append(r.events, ev)
	return r.TokenReadModel.HandleEvent(ev)
}

func TestService_AddReader(t *testing.T) {
	svc := NewService(Options{})
	extra := &recordingReader{TokenReadModel: NewTokenReadModel()}
	svc.AddReader(extra)

	svc.handleEvent(TokenEvent{Source: SourceLog, Token: tokenA, Creator: creatorA})
	require.Len(t, extra.events, 1)
	assert.Equal(t, tokenA, extra.events[0].Token)
	assert.Equal(t, 1, extra.Len())
}

var tokenInfoComponents = []abi.ArgumentMarshaling{
	{Name: "token", Type: "address"},
	{Name: "creator", Type: "address"},
	{Name: "name", Type: "string"},
	{Name: "symbol", Type: "string"},
	{Name: "description", Type: "string"},
	{Name: "iconCid", Type: "string"},
	{Name: "maxSupply", Type: "uint64"},
	{Name: "creatorReserveBps", Type: "uint16"},
	{Name: "publicMintBps", Type: "uint16"},
	{Name: "perMintAmount", Type: "uint64"},
	{Name: "perWalletMintLimit", Type: "uint32"},
	{Name: "publicAllocation", Type: "uint64"},
}

// newFactoryNode serves a registry of count tokens; indices in failing revert.
func newFactoryNode(t *testing.T, count uint64, failing map[uint64]bool) *factory.Reader {
	t.Helper()
	node := rpctest.NewServer()
	t.Cleanup(node.Close)

	node.HandleCall(factoryAddr, factory.FuncGetTokensCount.Selector[:], rpctest.Static(
		rpctest.Pack([]string{"uint256"}, new(big.Int).SetUint64(count)),
	))
	node.HandleCall(factoryAddr, factory.FuncGetTokenInfo.Selector[:], func(input []byte) ([]byte, error) {
		idx := rpctest.Unpack([]string{"uint256"}, input)[0].(*big.Int).Uint64()
		if idx >= count || failing[idx] {
			return nil, rpctest.Revert("index out of bounds")
		}
		return rpctest.PackTuple(tokenInfoComponents, factory.TokenInfo{
			Token:   common.BigToAddress(new(big.Int).SetUint64(0x1000 + idx)),
			Creator: creatorA,
			Name:    fmt.Sprintf("Token %d", idx),
			Symbol:  fmt.Sprintf("T%d", idx),
		}), nil
	})

	client, err := w3.Dial(node.URL)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return factory.NewReader(chain.NewReader(client, nil), factoryAddr)
}

func TestService_BackfillKeepsRegistryIndex(t *testing.T) {
	store := openTestStore(t, ":memory:")
	svc := NewService(Options{
		Factory: newFactoryNode(t, 3, map[uint64]bool{1: true}),
		Store:   store,
	})

	svc.Backfill(context.Background())
	assert.Equal(t, 2, svc.Tokens().Len(), "the unreadable entry is skipped")

	third := common.BigToAddress(big.NewInt(0x1002))
	rec, ok := svc.Tokens().QueryToken(third)
	require.True(t, ok)
	require.NotNil(t, rec.Index)
	assert.Equal(t, uint64(2), *rec.Index)
	assert.Equal(t, "Token 2", rec.Name)

	stored, ok := store.QueryToken(third)
	require.True(t, ok)
	require.NotNil(t, stored.Index)
	assert.Equal(t, uint64(2), *stored.Index)
}

func TestService_PollOnceSplitsBlockRange(t *testing.T) {
	logs := &fakeLogs{
		head: 125,
		logs: []types.Log{
			tokenCreatedLog(tokenA, creatorA, "Alpha", "ALP", 105),
			tokenCreatedLog(tokenB, creatorB, "Beta", "BET", 124),
		},
	}
	svc := NewService(Options{FactoryAddress: factoryAddr, Logs: logs, StartBlock: 100, MaxBlockRange: 10})

	require.NoError(t, svc.pollOnce(context.Background()))
	assert.Equal(t, 2, svc.Tokens().Len())

	require.Len(t, logs.queries, 3)
	ranges := make([][2]uint64, len(logs.queries))
	for i, q := range logs.queries {
		ranges[i] = [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()}
	}
	assert.Equal(t, [][2]uint64{{100, 109}, {110, 119}, {120, 125}}, ranges)
	assert.Equal(t, uint64(126), svc.fromBlock().Uint64())
}

func TestService_PollOnceKeepsProgressOnError(t *testing.T) {
	logs := &failingLogs{fakeLogs: fakeLogs{head: 130}, failFrom: 120}
	svc := NewService(Options{FactoryAddress: factoryAddr, Logs: logs, StartBlock: 100, MaxBlockRange: 10})

	err := svc.pollOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs 120-129")
	assert.Equal(t, uint64(120), svc.fromBlock().Uint64(), "completed chunks are not rescanned")
}

type failingLogs struct {
	fakeLogs
	failFrom uint64
}

func (f *failingLogs) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if q.FromBlock.Uint64() >= f.failFrom {
		return nil, errors.New("query returned more than 10000 results")
	}
	return f.fakeLogs.FilterLogs(ctx, q)
}
