package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrIndexerNotFound means the indexer has not seen the token.
var ErrIndexerNotFound = errors.New("token not found in indexer")

// IndexerTokenQuerier implements CreatorQuerier by querying the indexer HTTP API
type IndexerTokenQuerier struct {
	indexerEndpoint string
	httpClient      *http.Client
}

// NewIndexerTokenQuerier creates a new indexer-based token querier
func NewIndexerTokenQuerier(indexerEndpoint string) *IndexerTokenQuerier {
	return &IndexerTokenQuerier{
		indexerEndpoint: strings.TrimSuffix(indexerEndpoint, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// IndexerToken is a token as reported by the indexer.
type IndexerToken struct {
	Token       common.Address `json:"token"`
	Creator     common.Address `json:"creator"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
	Index       *uint64        `json:"index,omitempty"`
}

// GetToken retrieves a token by address
func (q *IndexerTokenQuerier) GetToken(ctx context.Context, address common.Address) (*IndexerToken, error) {
	var tok IndexerToken
	if err := q.get(ctx, "/api/v1/tokens/"+address.Hex(), &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (q *IndexerTokenQuerier) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.indexerEndpoint+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query indexer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrIndexerNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indexer returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode indexer response: %w", err)
	}
	return nil
}
