package indexer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS token (
    address TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    creator TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    symbol TEXT NOT NULL DEFAULT '',
    block_number INTEGER NOT NULL DEFAULT 0,
    tx_hash TEXT NOT NULL DEFAULT '',
    registry_index INTEGER
);

CREATE INDEX IF NOT EXISTS idx_token_creator ON token(creator);
`

// upsert keeps the first non-empty value of every column.
const upsertToken = `
INSERT INTO token (address, source, creator, name, symbol, block_number, tx_hash, registry_index)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(address) DO UPDATE SET
    creator = CASE WHEN token.creator = '' THEN excluded.creator ELSE token.creator END,
    name = CASE WHEN token.name = '' THEN excluded.name ELSE token.name END,
    symbol = CASE WHEN token.symbol = '' THEN excluded.symbol ELSE token.symbol END,
    block_number = CASE WHEN token.block_number = 0 THEN excluded.block_number ELSE token.block_number END,
    tx_hash = CASE WHEN token.tx_hash = '' THEN excluded.tx_hash ELSE token.tx_hash END,
    registry_index = COALESCE(token.registry_index, excluded.registry_index)
`

const selectTokens = `SELECT address, source, creator, name, symbol, block_number, tx_hash, registry_index FROM token`

// SQLStore persists indexed tokens in SQLite so a restarted indexer resumes
// from the last seen block instead of rescanning.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) the database at path. Use ":memory:" for
// a throwaway store.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// HandleEvent upserts the token with the same merge rule as TokenReadModel.
func (s *SQLStore) HandleEvent(event TokenEvent) error {
	if event.Token == (common.Address{}) {
		return errZeroToken
	}

	var creator, txHash string
	if event.Creator != (common.Address{}) {
		creator = event.Creator.Hex()
	}
	if event.TxHash != (common.Hash{}) {
		txHash = event.TxHash.Hex()
	}
	var index sql.NullInt64
	if event.Index != nil {
		index = sql.NullInt64{Int64: int64(*event.Index), Valid: true}
	}

	_, err := s.db.Exec(upsertToken,
		event.Token.Hex(), event.Source, creator, event.Name, event.Symbol,
		int64(event.BlockNumber), txHash, index)
	if err != nil {
		return fmt.Errorf("store token %s: %w", event.Token.Hex(), err)
	}
	return nil
}

// QueryTokens returns all stored tokens ordered like TokenReadModel.
func (s *SQLStore) QueryTokens() ([]TokenRecord, error) {
	return s.query(context.Background(), selectTokens)
}

// QueryToken returns one stored token.
func (s *SQLStore) QueryToken(address common.Address) (TokenRecord, bool) {
	recs, err := s.query(context.Background(), selectTokens+` WHERE address = ?`, address.Hex())
	if err != nil || len(recs) == 0 {
		return TokenRecord{}, false
	}
	return recs[0], true
}

// QueryByCreator returns the stored tokens created by creator.
func (s *SQLStore) QueryByCreator(creator common.Address) ([]TokenRecord, error) {
	return s.query(context.Background(), selectTokens+` WHERE creator = ?`, creator.Hex())
}

// LastBlock returns the highest block number stored, or 0.
func (s *SQLStore) LastBlock(ctx context.Context) (uint64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(block_number) FROM token`).Scan(&n); err != nil {
		return 0, fmt.Errorf("read last block: %w", err)
	}
	if !n.Valid || n.Int64 < 0 {
		return 0, nil
	}
	return uint64(n.Int64), nil
}

func (s *SQLStore) query(ctx context.Context, q string, args ...interface{}) ([]TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var out []TokenRecord
	for rows.Next() {
		var (
			rec                      TokenRecord
			address, creator, txHash string
			block                    int64
			index                    sql.NullInt64
		)
		if err := rows.Scan(&address, &rec.Source, &creator, &rec.Name, &rec.Symbol, &block, &txHash, &index); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		rec.Token = common.HexToAddress(address)
		if creator != "" {
			rec.Creator = common.HexToAddress(creator)
		}
		if txHash != "" {
			rec.TxHash = common.HexToHash(txHash)
		}
		rec.BlockNumber = uint64(block)
		if index.Valid {
			idx := uint64(index.Int64)
			rec.Index = &idx
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	sortRecords(out)
	return out, nil
}
