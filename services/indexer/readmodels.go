package indexer

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenReadModel keeps every created token in memory, keyed by token address.
type TokenReadModel struct {
	mu        sync.RWMutex
	tokens    map[common.Address]TokenRecord
	byCreator map[common.Address][]common.Address
}

// NewTokenReadModel creates an empty read model.
func NewTokenReadModel() *TokenReadModel {
	return &TokenReadModel{
		tokens:    make(map[common.Address]TokenRecord),
		byCreator: make(map[common.Address][]common.Address),
	}
}

// HandleEvent records a token. Events are idempotent by token address; a later
// event only fills fields that are still empty, so a factory backfill and a
// log for the same token merge into one record.
func (m *TokenReadModel) HandleEvent(event TokenEvent) error {
	if event.Token == (common.Address{}) {
		return errZeroToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tokens[event.Token]
	if !ok {
		rec := TokenRecord{TokenEvent: event}
		m.tokens[event.Token] = rec
		if event.Creator != (common.Address{}) {
			m.byCreator[event.Creator] = append(m.byCreator[event.Creator], event.Token)
		}
		return nil
	}

	hadCreator := existing.Creator != (common.Address{})
	existing.merge(event)
	m.tokens[event.Token] = existing
	if !hadCreator && existing.Creator != (common.Address{}) {
		m.byCreator[existing.Creator] = append(m.byCreator[existing.Creator], event.Token)
	}
	return nil
}

// QueryTokens returns all tokens ordered by block number, then index.
func (m *TokenReadModel) QueryTokens() ([]TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tokens := make([]TokenRecord, 0, len(m.tokens))
	for _, t := range m.tokens {
		tokens = append(tokens, t)
	}
	sortRecords(tokens)
	return tokens, nil
}

// QueryToken returns one token.
func (m *TokenReadModel) QueryToken(address common.Address) (TokenRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[address]
	return t, ok
}

// QueryByCreator returns the tokens created by creator.
func (m *TokenReadModel) QueryByCreator(creator common.Address) ([]TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addrs := m.byCreator[creator]
	tokens := make([]TokenRecord, 0, len(addrs))
	for _, a := range addrs {
		tokens = append(tokens, m.tokens[a])
	}
	sortRecords(tokens)
	return tokens, nil
}

// Len returns the number of indexed tokens.
func (m *TokenReadModel) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

func (r *TokenRecord) merge(ev TokenEvent) {
	if r.Creator == (common.Address{}) {
		r.Creator = ev.Creator
	}
	if r.Name == "" {
		r.Name = ev.Name
	}
	if r.Symbol == "" {
		r.Symbol = ev.Symbol
	}
	if r.BlockNumber == 0 {
		r.BlockNumber = ev.BlockNumber
	}
	if r.TxHash == (common.Hash{}) {
		r.TxHash = ev.TxHash
	}
	if r.Index == nil && ev.Index != nil {
		idx := *ev.Index
		r.Index = &idx
	}
}

func sortRecords(tokens []TokenRecord) {
	sort.SliceStable(tokens, func(i, j int) bool {
		a, b := tokens[i], tokens[j]
		if a.Index != nil && b.Index != nil {
			return *a.Index < *b.Index
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.Token.Hex() < b.Token.Hex()
	})
}
