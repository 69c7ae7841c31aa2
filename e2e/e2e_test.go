package e2e

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/config"
	"github.com/cipherlaunch/launchpad/contracts/token"
	"github.com/cipherlaunch/launchpad/fhe"
	"github.com/cipherlaunch/launchpad/schemas"
	launchpad "github.com/cipherlaunch/launchpad/sdk/go"
)

// TestLaunchpadFlow runs create, mint, decrypt and transfer against a live
// gateway and Sepolia. It needs LAUNCHPAD_E2E=1, PRIVATE_KEY (funded) and
// FACTORY_ADDRESS, plus a gateway at GATEWAY_URL.
func TestLaunchpadFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	if os.Getenv("LAUNCHPAD_E2E") == "" {
		t.Skip("LAUNCHPAD_E2E not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	env := setupTestEnvironment(t)
	defer env.cleanup()

	t.Run("GatewayStatus", func(t *testing.T) {
		status, err := env.gateway.FHEStatus(ctx)
		require.NoError(t, err, "gateway unreachable")
		t.Logf("encryption bridge: %s", status.State)
	})

	t.Run("CreateToken", func(t *testing.T) {
		symbol := fmt.Sprintf("E2E%d", time.Now().Unix()%100000)
		keep := false
		form := &schemas.CreateTokenForm{
			Name:               "E2E " + symbol,
			Symbol:             symbol,
			Description:        "created by the e2e suite",
			MaxSupply:          "1000000",
			PerMint:            "1000",
			PerWalletLimit:     "0",
			CreatorReservePct:  "10",
			PublicMintPct:      "90",
			RenounceOnCreation: &keep,
		}

		ev, err := env.wallet.CreateToken(ctx, form, &launchpad.Icon{
			Filename: "e2e.svg",
			Data:     strings.NewReader(`<svg xmlns="http://www.w3.org/2000/svg"/>`),
		})
		require.NoError(t, err, "createToken failed")
		require.NotEqual(t, common.Address{}, ev.Token)
		require.Equal(t, env.wallet.Address(), ev.Creator)
		env.token = ev.Token
	})

	t.Run("TokenVisible", func(t *testing.T) {
		require.NotEqual(t, common.Address{}, env.token, "no token created")
		detail, err := env.gateway.Token(ctx, env.token)
		require.NoError(t, err)
		require.False(t, detail.Renounced)
		require.Equal(t, "10.00", detail.CreatorReservePct)
	})

	t.Run("Mint", func(t *testing.T) {
		require.NotEqual(t, common.Address{}, env.token, "no token created")
		_, err := env.wallet.Mint(ctx, env.token)
		require.NoError(t, err, "publicMint failed")
	})

	t.Run("DecryptBalance", func(t *testing.T) {
		require.NotEqual(t, common.Address{}, env.token, "no token created")
		value, err := env.wallet.DecryptBalance(ctx, env.token)
		require.NoError(t, err, "decrypt failed")
		require.NotEqual(t, "0", value, "minted balance should be positive")
		t.Logf("balance: %s", value)
	})

	t.Run("SendConfidential", func(t *testing.T) {
		require.NotEqual(t, common.Address{}, env.token, "no token created")
		to := getEnvOrDefault("LAUNCHPAD_E2E_RECIPIENT", "0x000000000000000000000000000000000000dEaD")
		_, err := env.wallet.SendConfidential(ctx, env.token, schemas.TransferRequest{To: to, Amount: "1"})
		require.NoError(t, err, "confidentialTransfer failed")
	})

	t.Run("Dashboard", func(t *testing.T) {
		require.NotEqual(t, common.Address{}, env.token, "no token created")
		rows, err := env.gateway.Dashboard(ctx, env.wallet.Address())
		require.NoError(t, err)

		found := false
		for _, r := range rows {
			if r.Token == env.token {
				found = true
				require.True(t, r.IsCreator)
				require.Greater(t, r.MintCount, uint32(0))
			}
		}
		require.True(t, found, "created token missing from dashboard")
	})
}

// Test environment
type TestEnvironment struct {
	gateway *launchpad.Client
	wallet  *launchpad.Wallet
	token   common.Address
	cleanup func()
}

func setupTestEnvironment(t *testing.T) *TestEnvironment {
	cfg, err := config.Load(getEnvOrDefault("LAUNCHPAD_CONFIG", "launchpad.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Wallet.PrivateKey, "PRIVATE_KEY is required")
	require.True(t, common.IsHexAddress(cfg.Chain.FactoryAddress), "FACTORY_ADDRESS is required")

	logger := zaptest.NewLogger(t)
	key, err := chain.ParsePrivateKey(cfg.Wallet.PrivateKey)
	require.NoError(t, err)

	reader, client, err := chain.Dial(cfg.Chain.RPCURL, logger)
	require.NoError(t, err)

	tx := chain.NewTransactor(client, key, chain.TxOpts{
		ChainID:   cfg.Chain.ChainID,
		GasFeeCap: cfg.GasFeeCap(),
		GasTipCap: cfg.GasTipCap(),
		GasLimit:  cfg.Chain.GasLimit,
	}, logger)

	gw := launchpad.NewClient(cfg.Wallet.GatewayURL, logger)
	bridge := fhe.NewBridge(fhe.NewRelayerFactory(fhe.RelayerConfig{
		URL:                cfg.FHE.RelayerURL,
		ChainID:            cfg.Chain.ChainID,
		DecryptionContract: common.HexToAddress(cfg.FHE.DecryptionContract),
	}, nil, logger), cfg.GetFHEInitTimeout(), logger)

	env := &TestEnvironment{
		gateway: gw,
		wallet: launchpad.NewWallet(launchpad.WalletOptions{
			Sender:   tx,
			Balances: token.NewReader(reader),
			Bridge:   bridge,
			Gateway:  gw,
			Factory:  common.HexToAddress(cfg.Chain.FactoryAddress),
			Logger:   logger,
		}),
	}
	env.cleanup = func() {
		t.Log("Cleaning up test environment")
		client.Close()
	}
	return env
}

// Utility functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
