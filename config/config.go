package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultRPCURL is the public Sepolia endpoint used when RPC_URL is unset.
const DefaultRPCURL = "https://ethereum-sepolia.publicnode.com"

// SepoliaChainID is the only chain the launchpad contracts are deployed on.
const SepoliaChainID = 11155111

// Config holds launchpad configuration shared by the services, SDK and CLI.
type Config struct {
	Chain   ChainConfig   `yaml:"chain"`
	Pinata  PinataConfig  `yaml:"pinata"`
	FHE     FHEConfig     `yaml:"fhe"`
	Gateway GatewayConfig `yaml:"gateway"`
	Indexer IndexerConfig `yaml:"indexer"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Logging LoggingConfig `yaml:"logging"`
}

// ChainConfig configures RPC access and the factory contract.
type ChainConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	WSURL          string `yaml:"ws_url"`
	ChainID        int64  `yaml:"chain_id"`
	FactoryAddress string `yaml:"factory_address"`
	ExplorerURL    string `yaml:"explorer_url"`
	GasLimit       uint64 `yaml:"gas_limit"`
	GasFeeCapGwei  int64  `yaml:"gas_fee_cap_gwei"`
	GasTipCapGwei  int64  `yaml:"gas_tip_cap_gwei"`
}

// PinataConfig configures the upload proxy.
type PinataConfig struct {
	JWT            string `yaml:"jwt"`
	Endpoint       string `yaml:"endpoint"`
	Gateway        string `yaml:"gateway"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// FHEConfig configures the encryption bridge.
type FHEConfig struct {
	RelayerURL         string `yaml:"relayer_url"`
	DecryptionContract string `yaml:"decryption_contract"`
	InitTimeout        string `yaml:"init_timeout"`
	DurationDays       int    `yaml:"duration_days"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Port        string   `yaml:"port"`
	CacheTTL    string   `yaml:"cache_ttl"`
	CacheSize   int      `yaml:"cache_size"`
	NewestLimit int      `yaml:"newest_limit"`
	CORSOrigins []string `yaml:"cors_origins"`
	IndexerURL  string   `yaml:"indexer_url"`
}

// IndexerConfig configures the TokenCreated indexer.
type IndexerConfig struct {
	Port         string `yaml:"port"`
	SubgraphURL  string `yaml:"subgraph_url"`
	StartBlock   uint64 `yaml:"start_block"`
	PollInterval string `yaml:"poll_interval"`

	// MaxBlockRange caps one eth_getLogs call; 0 uses the indexer default.
	MaxBlockRange uint64 `yaml:"max_block_range"`

	// DBPath is the SQLite token store; empty keeps tokens in memory only.
	DBPath string `yaml:"db_path"`
}

// WalletConfig configures the local signer used by the SDK and CLI.
type WalletConfig struct {
	PrivateKey string `yaml:"private_key"`
	GatewayURL string `yaml:"gateway_url"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file or environment is present.
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCURL:        DefaultRPCURL,
			ChainID:       SepoliaChainID,
			ExplorerURL:   "https://sepolia.etherscan.io",
			GasLimit:      3_000_000,
			GasFeeCapGwei: 30,
			GasTipCapGwei: 2,
		},
		Pinata: PinataConfig{
			Endpoint:       "https://api.pinata.cloud/pinning/pinFileToIPFS",
			Gateway:        "gateway.pinata.cloud",
			MaxUploadBytes: 2 * 1024 * 1024,
		},
		FHE: FHEConfig{
			RelayerURL:   "https://relayer.testnet.zama.cloud",
			InitTimeout:  "30s",
			DurationDays: 10,
		},
		Gateway: GatewayConfig{
			Port:        "8080",
			CacheTTL:    "5m",
			CacheSize:   1024,
			NewestLimit: 6,
			CORSOrigins: []string{"*"},
		},
		Indexer: IndexerConfig{
			Port:         "8081",
			PollInterval: "12s",
		},
		Wallet: WalletConfig{
			GatewayURL: "http://localhost:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file, then .env, then the environment.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// .env never overrides variables already set in the process environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("NEXT_PUBLIC_SEPOLIA_RPC_URL"); v != "" && os.Getenv("RPC_URL") == "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("WS_RPC_URL"); v != "" {
		c.Chain.WSURL = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Chain.ChainID = id
		}
	}
	if v := os.Getenv("FACTORY_ADDRESS"); v != "" {
		c.Chain.FactoryAddress = v
	}
	if v := os.Getenv("PINATA_JWT"); v != "" {
		c.Pinata.JWT = v
	}
	if v := os.Getenv("PINATA_ENDPOINT"); v != "" {
		c.Pinata.Endpoint = v
	}
	if v := os.Getenv("PINATA_GATEWAY"); v != "" {
		c.Pinata.Gateway = v
	}
	if v := os.Getenv("RELAYER_URL"); v != "" {
		c.FHE.RelayerURL = v
	}
	if v := os.Getenv("DECRYPTION_CONTRACT"); v != "" {
		c.FHE.DecryptionContract = v
	}
	if v := os.Getenv("INDEXER_URL"); v != "" {
		c.Gateway.IndexerURL = v
	}
	if v := os.Getenv("SUBGRAPH_URL"); v != "" {
		c.Indexer.SubgraphURL = v
	}
	if v := os.Getenv("INDEXER_DB"); v != "" {
		c.Indexer.DBPath = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		c.Wallet.PrivateKey = v
	}
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		c.Wallet.GatewayURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Gateway.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks values that would otherwise fail late at call time.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain.chain_id must be positive")
	}
	if c.Pinata.MaxUploadBytes <= 0 {
		return fmt.Errorf("pinata.max_upload_bytes must be positive")
	}
	if c.FHE.DurationDays <= 0 {
		return fmt.Errorf("fhe.duration_days must be positive")
	}
	if c.Chain.FactoryAddress != "" && !common.IsHexAddress(c.Chain.FactoryAddress) {
		return fmt.Errorf("chain.factory_address %q is not an address", c.Chain.FactoryAddress)
	}
	for key, v := range map[string]string{
		"gateway.cache_ttl":     c.Gateway.CacheTTL,
		"fhe.init_timeout":      c.FHE.InitTimeout,
		"indexer.poll_interval": c.Indexer.PollInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// GetCacheTTL returns the token cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Gateway.CacheTTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetFHEInitTimeout returns the encryption bridge initialization timeout.
func (c *Config) GetFHEInitTimeout() time.Duration {
	d, err := time.ParseDuration(c.FHE.InitTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetPollInterval returns the indexer polling interval.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Indexer.PollInterval)
	if err != nil {
		return 12 * time.Second
	}
	return d
}

// GasFeeCap returns the configured max fee per gas in wei.
func (c *Config) GasFeeCap() *big.Int {
	return gwei(c.Chain.GasFeeCapGwei)
}

// GasTipCap returns the configured priority fee per gas in wei.
func (c *Config) GasTipCap() *big.Int {
	return gwei(c.Chain.GasTipCapGwei)
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}
