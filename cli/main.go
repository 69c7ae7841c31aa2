package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/config"
	"github.com/cipherlaunch/launchpad/contracts/token"
	"github.com/cipherlaunch/launchpad/fhe"
	"github.com/cipherlaunch/launchpad/logging"
	launchpad "github.com/cipherlaunch/launchpad/sdk/go"
)

// app holds what the commands share once flags are parsed.
type app struct {
	configPath string
	gatewayURL string
	debug      bool
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "launchpad",
		Short: "CLI for the confidential token launchpad",
		Long:  `Browse tokens, create and mint them, and decrypt or send confidential balances`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "launchpad.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&a.gatewayURL, "gateway", "", "Gateway URL (overrides config)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 5*time.Minute, "Overall command timeout")

	root.AddCommand(
		a.tokensCmd(),
		a.tokenCmd(),
		a.createCmd(),
		a.mintCmd(),
		a.dashboardCmd(),
		a.balanceCmd(),
		a.sendCmd(),
		a.uploadCmd(),
		a.statusCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.gatewayURL != "" {
		cfg.Wallet.GatewayURL = a.gatewayURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", a.configPath, err)
	}
	logger, err := logging.New(logging.Verbose(cfg.Logging, a.debug))
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) client() *launchpad.Client {
	return launchpad.NewClient(a.cfg.Wallet.GatewayURL, a.logger)
}

// wallet dials the RPC node and builds a wallet for PRIVATE_KEY. The
// returned func closes the RPC client.
func (a *app) wallet() (*launchpad.Wallet, func(), error) {
	if a.cfg.Wallet.PrivateKey == "" {
		return nil, nil, fmt.Errorf("PRIVATE_KEY is required for this command")
	}
	key, err := chain.ParsePrivateKey(a.cfg.Wallet.PrivateKey)
	if err != nil {
		return nil, nil, err
	}

	reader, client, err := chain.Dial(a.cfg.Chain.RPCURL, a.logger)
	if err != nil {
		return nil, nil, err
	}

	tx := chain.NewTransactor(client, key, chain.TxOpts{
		ChainID:   a.cfg.Chain.ChainID,
		GasFeeCap: a.cfg.GasFeeCap(),
		GasTipCap: a.cfg.GasTipCap(),
		GasLimit:  a.cfg.Chain.GasLimit,
	}, a.logger)

	bridge := fhe.NewBridge(fhe.NewRelayerFactory(fhe.RelayerConfig{
		URL:                a.cfg.FHE.RelayerURL,
		ChainID:            a.cfg.Chain.ChainID,
		DecryptionContract: common.HexToAddress(a.cfg.FHE.DecryptionContract),
	}, nil, a.logger), a.cfg.GetFHEInitTimeout(), a.logger)

	var factoryAddr common.Address
	if common.IsHexAddress(a.cfg.Chain.FactoryAddress) {
		factoryAddr = common.HexToAddress(a.cfg.Chain.FactoryAddress)
	}

	w := launchpad.NewWallet(launchpad.WalletOptions{
		Sender:       tx,
		Balances:     token.NewReader(reader),
		Bridge:       bridge,
		Gateway:      a.client(),
		Factory:      factoryAddr,
		DurationDays: a.cfg.FHE.DurationDays,
		Logger:       a.logger,
	})
	return w, func() { client.Close() }, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
