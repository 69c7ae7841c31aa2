package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event sources.
const (
	SourceFactory  = "factory"
	SourceSubgraph = "subgraph"
	SourceLog      = "log"
)

// DefaultMaxBlockRange fits the eth_getLogs limits of common public RPCs.
const DefaultMaxBlockRange = 2000

var errZeroToken = errors.New("token address is zero")

// ReadModel consumes token events and answers queries.
type ReadModel interface {
	HandleEvent(event TokenEvent) error
	QueryTokens() ([]TokenRecord, error)
	QueryToken(address common.Address) (TokenRecord, bool)
	QueryByCreator(creator common.Address) ([]TokenRecord, error)
}

// TokenEvent is a created token seen by one of the sources.
type TokenEvent struct {
	Source      string         `json:"source"`
	Token       common.Address `json:"token"`
	Creator     common.Address `json:"creator"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	BlockNumber uint64         `json:"blockNumber,omitempty"`
	TxHash      common.Hash    `json:"txHash,omitempty"`

	// Index is the factory registry index when known.
	Index *uint64 `json:"index,omitempty"`
}

// TokenRecord is an indexed token.
type TokenRecord struct {
	TokenEvent
}

// Options configures the indexer service.
type Options struct {
	FactoryAddress common.Address
	Factory        FactorySource
	Subgraph       *SubgraphSource
	Logs           LogSource
	StartBlock     uint64
	PollInterval   time.Duration
	Port           string
	Logger         *zap.Logger

	// Store persists tokens across restarts when set.
	Store *SQLStore

	// MaxBlockRange caps the blocks covered by one eth_getLogs call.
	MaxBlockRange uint64
}

// Service indexes TokenCreated events into read models.
type Service struct {
	opts    Options
	logger  *zap.Logger
	tokens  *TokenReadModel
	readers []ReadModel
	mu      sync.RWMutex
	hub     *Hub
	metrics *metrics
	server  *Server

	lastBlock uint64
}

// NewService creates a new indexer service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 12 * time.Second
	}
	if opts.MaxBlockRange == 0 {
		opts.MaxBlockRange = DefaultMaxBlockRange
	}

	svc := &Service{
		opts:    opts,
		logger:  opts.Logger,
		tokens:  NewTokenReadModel(),
		hub:     NewHub(opts.Logger),
		metrics: newMetrics(),
	}
	svc.readers = []ReadModel{svc.tokens}
	if opts.Store != nil {
		svc.readers = append(svc.readers, opts.Store)
	}
	if opts.StartBlock > 0 {
		svc.lastBlock = opts.StartBlock - 1
	}

	svc.server = NewServer(svc, opts.Port)
	return svc
}

// AddReader adds a read model to the indexer.
func (s *Service) AddReader(reader ReadModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readers = append(s.readers, reader)
}

// Tokens returns the primary read model.
func (s *Service) Tokens() *TokenReadModel {
	return s.tokens
}

// Hub returns the live feed hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Start runs the HTTP server and the indexer until ctx ends.
func (s *Service) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("indexer http server listening", zap.String("addr", s.server.http.Addr))
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.Close()
		return s.server.Stop(shutdownCtx)
	})
	g.Go(func() error {
		return s.Run(ctx)
	})

	return g.Wait()
}

// Run backfills and then follows new logs until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if err := s.restore(ctx); err != nil {
		s.logger.Warn("token store restore failed", zap.Error(err))
	}
	s.Backfill(ctx)

	if s.opts.Logs == nil {
		<-ctx.Done()
		return nil
	}
	return s.follow(ctx)
}

// Backfill loads existing tokens from the factory registry and the subgraph.
// Source failures are logged; the live follower fills any gap.
func (s *Service) Backfill(ctx context.Context) {
	if s.opts.Factory != nil {
		entries, err := s.opts.Factory.All(ctx)
		if err != nil {
			s.logger.Warn("factory backfill failed", zap.Error(err))
		}
		for _, ev := range factoryEvents(entries) {
			s.handleEvent(ev)
		}
		s.logger.Info("factory backfill complete", zap.Int("tokens", len(entries)))
	}

	if s.opts.Subgraph != nil {
		events, err := s.opts.Subgraph.Events(ctx)
		if err != nil {
			s.logger.Warn("subgraph backfill failed", zap.Error(err))
		}
		for _, ev := range events {
			s.handleEvent(ev)
		}
		s.logger.Info("subgraph backfill complete", zap.Int("events", len(events)))
	}
}

// restore loads persisted tokens into the in-memory model and resumes log
// scanning after the highest stored block.
func (s *Service) restore(ctx context.Context) error {
	if s.opts.Store == nil {
		return nil
	}
	recs, err := s.opts.Store.QueryTokens()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.tokens.HandleEvent(rec.TokenEvent); err != nil {
			return err
		}
	}
	last, err := s.opts.Store.LastBlock(ctx)
	if err != nil {
		return err
	}
	s.setLastBlock(last)
	s.metrics.tokens.Set(float64(s.tokens.Len()))
	s.logger.Info("restored tokens from store", zap.Int("tokens", len(recs)), zap.Uint64("last_block", last))
	return nil
}

func (s *Service) follow(ctx context.Context) error {
	logs := make(chan types.Log, 64)
	q := tokenCreatedQuery(s.opts.FactoryAddress, s.fromBlock(), nil)
	sub, err := s.opts.Logs.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		s.logger.Info("log subscription unavailable, polling", zap.Error(err), zap.Duration("interval", s.opts.PollInterval))
		return s.poll(ctx)
	}
	defer sub.Unsubscribe()
	s.logger.Info("subscribed to TokenCreated logs")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			s.logger.Warn("log subscription ended, polling", zap.Error(err))
			return s.poll(ctx)
		case log := <-logs:
			s.handleLog(&log)
		}
	}
}

func (s *Service) poll(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.pollOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("log poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) error {
	head, err := s.opts.Logs.BlockNumber(ctx)
	if err != nil {
		return err
	}
	from := s.fromBlock()
	if from == nil {
		// No start block: follow from the current head.
		s.setLastBlock(head)
		return nil
	}
	if from.Uint64() > head {
		return nil
	}

	for start := from.Uint64(); start <= head; {
		end := start + s.opts.MaxBlockRange - 1
		if end > head || end < start {
			end = head
		}
		q := tokenCreatedQuery(s.opts.FactoryAddress, new(big.Int).SetUint64(start), new(big.Int).SetUint64(end))
		logs, err := s.opts.Logs.FilterLogs(ctx, q)
		if err != nil {
			return fmt.Errorf("logs %d-%d: %w", start, end, err)
		}
		for i := range logs {
			s.handleLog(&logs[i])
		}
		s.setLastBlock(end)
		start = end + 1
	}
	return nil
}

func (s *Service) fromBlock() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastBlock == 0 && s.opts.StartBlock == 0 {
		return nil
	}
	return new(big.Int).SetUint64(s.lastBlock + 1)
}

func (s *Service) setLastBlock(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.lastBlock {
		s.lastBlock = n
	}
}

func (s *Service) handleLog(log *types.Log) {
	if log.Removed {
		return
	}
	ev, err := logEvent(log)
	if err != nil {
		s.logger.Warn("skipping undecodable log", zap.String("tx", log.TxHash.Hex()), zap.Error(err))
		return
	}
	s.handleEvent(ev)
	s.setLastBlock(log.BlockNumber)
}

// handleEvent fans an event out to every read model and broadcasts tokens
// seen for the first time.
func (s *Service) handleEvent(event TokenEvent) {
	_, known := s.tokens.QueryToken(event.Token)

	s.mu.RLock()
	readers := s.readers
	s.mu.RUnlock()

	for _, reader := range readers {
		if err := reader.HandleEvent(event); err != nil {
			s.logger.Warn("read model rejected event", zap.String("token", event.Token.Hex()), zap.Error(err))
		}
	}
	s.metrics.events.WithLabelValues(event.Source).Inc()
	s.metrics.tokens.Set(float64(s.tokens.Len()))

	if !known {
		if rec, ok := s.tokens.QueryToken(event.Token); ok {
			s.hub.Broadcast(rec)
		}
	}
}
