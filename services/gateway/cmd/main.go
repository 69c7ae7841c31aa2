package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3/module/eth"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/config"
	"github.com/cipherlaunch/launchpad/contracts/factory"
	"github.com/cipherlaunch/launchpad/contracts/token"
	"github.com/cipherlaunch/launchpad/fhe"
	"github.com/cipherlaunch/launchpad/logging"
	"github.com/cipherlaunch/launchpad/pinning"
	"github.com/cipherlaunch/launchpad/services/gateway"
)

func main() {
	var (
		configPath      = flag.String("config", "launchpad.yaml", "Path to configuration file")
		port            = flag.String("port", "", "HTTP server port (overrides config)")
		indexerEndpoint = flag.String("indexer-endpoint", "", "Indexer service HTTP endpoint (overrides config)")
		debug           = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *port, *indexerEndpoint)
	if err != nil {
		panic(err)
	}

	logger := logging.MustNew(logging.Verbose(cfg.Logging, *debug))
	defer logger.Sync()

	reader, client, err := chain.Dial(cfg.Chain.RPCURL, logger)
	if err != nil {
		logger.Fatal("failed to dial rpc", zap.Error(err))
	}
	defer client.Close()

	opts := gateway.Options{
		Tokens:         token.NewReader(reader),
		Uploader:       pinning.NewClient(cfg.Pinata.Endpoint, cfg.Pinata.JWT, logger),
		PinataGateway:  cfg.Pinata.Gateway,
		ExplorerURL:    cfg.Chain.ExplorerURL,
		MaxUploadBytes: cfg.Pinata.MaxUploadBytes,
		NewestLimit:    cfg.Gateway.NewestLimit,
		CacheSize:      cfg.Gateway.CacheSize,
		CacheTTL:       cfg.GetCacheTTL(),
		CORSOrigins:    cfg.Gateway.CORSOrigins,
		Logger:         logger,
	}

	if common.IsHexAddress(cfg.Chain.FactoryAddress) {
		opts.Factory = factory.NewReader(reader, common.HexToAddress(cfg.Chain.FactoryAddress))
	} else {
		logger.Warn("FACTORY_ADDRESS not set, catalog and create endpoints disabled")
	}

	if cfg.Gateway.IndexerURL != "" {
		opts.Creators = gateway.NewIndexerTokenQuerier(cfg.Gateway.IndexerURL)
		logger.Info("gateway connected to indexer", zap.String("url", cfg.Gateway.IndexerURL))
	}

	chainID := func(ctx context.Context) (int64, error) {
		var id uint64
		if err := client.CallCtx(ctx, eth.ChainID().Returns(&id)); err != nil {
			return 0, err
		}
		return int64(id), nil
	}
	opts.Relayer = fhe.NewRelayerClient(cfg.FHE.RelayerURL)
	opts.Bridge = fhe.NewBridge(fhe.NewRelayerFactory(fhe.RelayerConfig{
		URL:                cfg.FHE.RelayerURL,
		ChainID:            cfg.Chain.ChainID,
		DecryptionContract: common.HexToAddress(cfg.FHE.DecryptionContract),
	}, chainID, logger), cfg.GetFHEInitTimeout(), logger)

	svc := gateway.NewService(opts)
	server := gateway.NewServer(svc, cfg.Gateway.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts.Bridge.Warmup(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting gateway", zap.String("port", cfg.Gateway.Port))
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("gateway stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

// loadConfig applies flag overrides and rejects invalid settings before
// anything is dialed.
func loadConfig(path, port, indexerEndpoint string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if port != "" {
		cfg.Gateway.Port = port
	}
	if indexerEndpoint != "" {
		cfg.Gateway.IndexerURL = indexerEndpoint
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
