package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/config"
	"github.com/cipherlaunch/launchpad/contracts/factory"
	"github.com/cipherlaunch/launchpad/logging"
	"github.com/cipherlaunch/launchpad/services/indexer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "launchpad.yaml", "Path to configuration file")
		httpPort   = flag.String("http-port", "", "HTTP server port (overrides config)")
		subgraph   = flag.String("subgraph", "", "Subgraph GraphQL endpoint for backfill (overrides config)")
		startBlock = flag.Uint64("start-block", 0, "First block to scan for TokenCreated logs (overrides config)")
		dbPath     = flag.String("db", "", "SQLite token store path (overrides config)")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *httpPort != "" {
		cfg.Indexer.Port = *httpPort
	}
	if *subgraph != "" {
		cfg.Indexer.SubgraphURL = *subgraph
	}
	if *startBlock != 0 {
		cfg.Indexer.StartBlock = *startBlock
	}
	if *dbPath != "" {
		cfg.Indexer.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger := logging.MustNew(logging.Verbose(cfg.Logging, *debug))
	defer logger.Sync()

	if !common.IsHexAddress(cfg.Chain.FactoryAddress) {
		logger.Fatal("FACTORY_ADDRESS is required")
	}
	factoryAddr := common.HexToAddress(cfg.Chain.FactoryAddress)

	reader, client, err := chain.Dial(cfg.Chain.RPCURL, logger)
	if err != nil {
		logger.Fatal("failed to dial rpc", zap.Error(err))
	}
	defer client.Close()

	opts := indexer.Options{
		FactoryAddress: factoryAddr,
		Factory:        factory.NewReader(reader, factoryAddr),
		StartBlock:     cfg.Indexer.StartBlock,
		PollInterval:   cfg.GetPollInterval(),
		MaxBlockRange:  cfg.Indexer.MaxBlockRange,
		Port:           cfg.Indexer.Port,
		Logger:         logger,
	}
	if cfg.Indexer.SubgraphURL != "" {
		opts.Subgraph = indexer.NewSubgraphSource(cfg.Indexer.SubgraphURL)
	}
	if cfg.Indexer.DBPath != "" {
		store, err := indexer.OpenSQLStore(cfg.Indexer.DBPath)
		if err != nil {
			logger.Fatal("failed to open token store", zap.String("path", cfg.Indexer.DBPath), zap.Error(err))
		}
		defer store.Close()
		opts.Store = store
	}

	// WebSocket endpoint first so logs can be subscribed; HTTP falls back to polling.
	logURL := cfg.Chain.WSURL
	if logURL == "" {
		logURL = cfg.Chain.RPCURL
	}
	eth, err := ethclient.Dial(logURL)
	if err != nil {
		logger.Fatal("failed to dial log endpoint", zap.String("url", logURL), zap.Error(err))
	}
	defer eth.Close()
	opts.Logs = eth

	svc := indexer.NewService(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting indexer service",
		zap.String("port", cfg.Indexer.Port),
		zap.String("factory", factoryAddr.Hex()),
		zap.Bool("subgraph", opts.Subgraph != nil),
		zap.Bool("persistent", opts.Store != nil),
	)
	if err := svc.Start(ctx); err != nil {
		logger.Error("indexer stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("indexer service stopped")
}
