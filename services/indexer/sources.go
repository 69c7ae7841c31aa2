package indexer

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/cipherlaunch/launchpad/contracts/factory"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/hasura/go-graphql-client"
)

// FactorySource enumerates the factory registry.
type FactorySource interface {
	All(ctx context.Context) ([]factory.Entry, error)
}

// LogSource is the part of an Ethereum client the live follower needs.
// *ethclient.Client satisfies it.
type LogSource interface {
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
}

// SubgraphSource pages TokenCreated entities out of a subgraph.
type SubgraphSource struct {
	client   *graphql.Client
	pageSize int
}

// NewSubgraphSource creates a subgraph source for url.
func NewSubgraphSource(url string) *SubgraphSource {
	return &SubgraphSource{
		client:   graphql.NewClient(url, &http.Client{Timeout: 15 * time.Second}),
		pageSize: 100,
	}
}

type subgraphTokenCreated struct {
	ID              string `graphql:"id"`
	Token           string `graphql:"token"`
	Creator         string `graphql:"creator"`
	Name            string `graphql:"name"`
	Symbol          string `graphql:"symbol"`
	BlockNumber     string `graphql:"blockNumber"`
	TransactionHash string `graphql:"transactionHash"`
}

// Events returns every TokenCreated entity in block order.
func (s *SubgraphSource) Events(ctx context.Context) ([]TokenEvent, error) {
	var events []TokenEvent
	for skip := 0; ; skip += s.pageSize {
		var q struct {
			TokenCreateds []subgraphTokenCreated `graphql:"tokenCreateds(first: $first, skip: $skip, orderBy: blockNumber, orderDirection: asc)"`
		}
		vars := map[string]interface{}{
			"first": graphql.Int(s.pageSize),
			"skip":  graphql.Int(skip),
		}
		if err := s.client.Query(ctx, &q, vars); err != nil {
			return events, fmt.Errorf("subgraph query (skip %d): %w", skip, err)
		}

		for _, tc := range q.TokenCreateds {
			ev, err := tc.event()
			if err != nil {
				return events, err
			}
			events = append(events, ev)
		}
		if len(q.TokenCreateds) < s.pageSize {
			return events, nil
		}
	}
}

func (tc subgraphTokenCreated) event() (TokenEvent, error) {
	if !common.IsHexAddress(tc.Token) {
		return TokenEvent{}, fmt.Errorf("subgraph entity %s: bad token address %q", tc.ID, tc.Token)
	}
	block, err := strconv.ParseUint(tc.BlockNumber, 10, 64)
	if err != nil {
		return TokenEvent{}, fmt.Errorf("subgraph entity %s: bad block number %q", tc.ID, tc.BlockNumber)
	}
	return TokenEvent{
		Source:      SourceSubgraph,
		Token:       common.HexToAddress(tc.Token),
		Creator:     common.HexToAddress(tc.Creator),
		Name:        tc.Name,
		Symbol:      tc.Symbol,
		BlockNumber: block,
		TxHash:      common.HexToHash(tc.TransactionHash),
	}, nil
}

func factoryEvents(entries []factory.Entry) []TokenEvent {
	events := make([]TokenEvent, 0, len(entries))
	for _, e := range entries {
		idx := e.Index
		events = append(events, TokenEvent{
			Source:  SourceFactory,
			Token:   e.Token,
			Creator: e.Creator,
			Name:    e.Name,
			Symbol:  e.Symbol,
			Index:   &idx,
		})
	}
	return events
}

func logEvent(log *types.Log) (TokenEvent, error) {
	ev, err := factory.DecodeTokenCreated(log)
	if err != nil {
		return TokenEvent{}, err
	}
	return TokenEvent{
		Source:      SourceLog,
		Token:       ev.Token,
		Creator:     ev.Creator,
		Name:        ev.Name,
		Symbol:      ev.Symbol,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
	}, nil
}

func tokenCreatedQuery(address common.Address, from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{factory.EventTokenCreated.Topic0}},
	}
}
