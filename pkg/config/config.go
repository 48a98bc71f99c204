// Package config loads all process configuration once at boot: environment
// variables, the per-environment chain table, an optional YAML chain override
// file, and the DKG metadata file for the signing aggregator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"gopkg.in/yaml.v3"
)

// Env selects mainnet vs testnet parameters and vault addresses.
type Env string

const (
	EnvProd Env = "PROD"
	EnvDev  Env = "DEV"
)

// ChainConfig describes one observed chain. Kind discriminates the EVM and
// BTC sections; fields of the other section stay zero.
type ChainConfig struct {
	Symbol             string           `yaml:"symbol"`
	Kind               bridge.ChainKind `yaml:"kind"`
	PrivateRPC         string           `yaml:"private_rpc"`
	FinalizeBlockCount uint64           `yaml:"finalize_block_count"`
	Delay              time.Duration    `yaml:"delay"`
	BatchBlockSize     int              `yaml:"batch_block_size"`
	VaultAddress       string           `yaml:"vault_address"`

	// EVM section.
	ChainID int64 `yaml:"chain_id"`
	POA     bool  `yaml:"poa"`

	// BTC section.
	IndexerRPC string `yaml:"indexer_rpc"`
}

// Config is the full process configuration.
type Config struct {
	Env        Env
	ZexBaseURL string
	MongoURI   string

	// EVM deposit derivation.
	UserDepositFactoryAddress string
	UserDepositBytecodeHash   string

	// BTC master key (x-only, hex).
	BTCGroupPubKey string

	// Signing keys. Loaded lazily by the components that use them.
	WithdrawerPrivateKey     string
	VaultDepositorPrivateKey string
	ShieldPrivateKey         string
	BTCWithdrawerPrivateKey  string

	// Signing aggregator.
	SABaseURL     string
	SATimeout     time.Duration
	SADelay       time.Duration
	DKGJSONPath   string
	DKGName       string
	WithdrawBatch int

	MetricsAddr string

	Chains map[string]ChainConfig
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// Load reads the environment and builds the chain table. ENV is required;
// RPC URLs are required for every configured chain.
func Load() (*Config, error) {
	env := Env(os.Getenv("ENV"))
	switch env {
	case EnvProd, EnvDev:
	default:
		return nil, fmt.Errorf("ENV must be PROD or DEV, got %q", os.Getenv("ENV"))
	}

	cfg := &Config{
		Env:                       env,
		MongoURI:                  getenv("MONGO_URI", "mongodb://mongodb:27017/"),
		UserDepositFactoryAddress: os.Getenv("USER_DEPOSIT_FACTORY_ADDRESS"),
		UserDepositBytecodeHash:   os.Getenv("USER_DEPOSIT_BYTECODE_HASH"),
		BTCGroupPubKey:            os.Getenv("BTC_GROUP_KEY_PUB"),
		WithdrawerPrivateKey:      os.Getenv("WITHDRAWER_PRIVATE_KEY"),
		VaultDepositorPrivateKey:  os.Getenv("EVM_VAULT_DEPOSITOR_PRIVATE_KEY"),
		ShieldPrivateKey:          os.Getenv("SA_SHIELD_PRIVATE_KEY"),
		BTCWithdrawerPrivateKey:   os.Getenv("BTC_WITHDRAWER_PRIVATE_KEY"),
		SABaseURL:                 os.Getenv("SA_BASE_URL"),
		SATimeout:                 time.Duration(getenvInt("SA_TIMEOUT_SECONDS", 200)) * time.Second,
		SADelay:                   time.Duration(getenvInt("SA_DELAY_SECONDS", 10)) * time.Second,
		DKGJSONPath:               getenv("DKG_JSON_PATH", "./dkgs/dkgs.json"),
		DKGName:                   getenv("DKG_NAME", "ethereum"),
		WithdrawBatch:             getenvInt("WITHDRAW_BATCH_SIZE", 10),
		MetricsAddr:               getenv("METRICS_ADDR", ":9090"),
	}

	if env == EnvProd {
		cfg.ZexBaseURL = getenv("ZEX_BASE_URL", "https://api.zex.finance/v1")
		cfg.Chains = prodChains()
	} else {
		cfg.ZexBaseURL = getenv("ZEX_BASE_URL", "https://api-dev.zex.finance/v1")
		cfg.Chains = devChains()
	}

	if path := os.Getenv("CHAINS_CONFIG_PATH"); path != "" {
		if err := cfg.overrideChains(path); err != nil {
			return nil, fmt.Errorf("load chains config %s: %w", path, err)
		}
	}

	for symbol, chain := range cfg.Chains {
		if chain.PrivateRPC == "" {
			return nil, fmt.Errorf("chain %s: missing RPC URL", symbol)
		}
	}
	return cfg, nil
}

// yamlChain mirrors ChainConfig for file decoding; delays are written as
// Go duration strings ("10s").
type yamlChain struct {
	Symbol             string           `yaml:"symbol"`
	Kind               bridge.ChainKind `yaml:"kind"`
	PrivateRPC         string           `yaml:"private_rpc"`
	FinalizeBlockCount uint64           `yaml:"finalize_block_count"`
	Delay              string           `yaml:"delay"`
	BatchBlockSize     int              `yaml:"batch_block_size"`
	VaultAddress       string           `yaml:"vault_address"`
	ChainID            int64            `yaml:"chain_id"`
	POA                bool             `yaml:"poa"`
	IndexerRPC         string           `yaml:"indexer_rpc"`
}

// overrideChains replaces the built-in chain table with the YAML file at path.
func (c *Config) overrideChains(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file struct {
		Chains []yamlChain `yaml:"chains"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}
	chains := make(map[string]ChainConfig, len(file.Chains))
	for _, entry := range file.Chains {
		if entry.Symbol == "" {
			return fmt.Errorf("chain entry without symbol")
		}
		delay := time.Second
		if entry.Delay != "" {
			if delay, err = time.ParseDuration(entry.Delay); err != nil {
				return fmt.Errorf("chain %s: delay: %w", entry.Symbol, err)
			}
		}
		chains[entry.Symbol] = ChainConfig{
			Symbol:             entry.Symbol,
			Kind:               entry.Kind,
			PrivateRPC:         entry.PrivateRPC,
			FinalizeBlockCount: entry.FinalizeBlockCount,
			Delay:              delay,
			BatchBlockSize:     entry.BatchBlockSize,
			VaultAddress:       entry.VaultAddress,
			ChainID:            entry.ChainID,
			POA:                entry.POA,
			IndexerRPC:         entry.IndexerRPC,
		}
	}
	c.Chains = chains
	return nil
}

// Symbols lists the configured chain symbols.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Chains))
	for symbol := range c.Chains {
		out = append(out, symbol)
	}
	return out
}

// BTCChains returns the Bitcoin subset of the chain table.
func (c *Config) BTCChains() []ChainConfig {
	var out []ChainConfig
	for _, chain := range c.Chains {
		if chain.Kind == bridge.ChainKindBTC {
			out = append(out, chain)
		}
	}
	return out
}

// EVMChains returns the EVM subset of the chain table.
func (c *Config) EVMChains() []ChainConfig {
	var out []ChainConfig
	for _, chain := range c.Chains {
		if chain.Kind == bridge.ChainKindEVM {
			out = append(out, chain)
		}
	}
	return out
}

func prodChains() map[string]ChainConfig {
	return map[string]ChainConfig{
		"POL": {
			Symbol:             "POL",
			Kind:               bridge.ChainKindEVM,
			PrivateRPC:         os.Getenv("POL_RPC"),
			ChainID:            137,
			POA:                true,
			FinalizeBlockCount: 20,
			Delay:              time.Second,
			BatchBlockSize:     20,
			VaultAddress:       "0xc3D07c4FDE03b8B1F9FeE3C19d906681b7b66B82",
		},
		"OPT": {
			Symbol:             "OPT",
			Kind:               bridge.ChainKindEVM,
			PrivateRPC:         os.Getenv("OP_RPC"),
			ChainID:            10,
			POA:                true,
			FinalizeBlockCount: 10,
			Delay:              time.Second,
			BatchBlockSize:     20,
			VaultAddress:       "0xBa4e58D407F2D304f4d4eb476DECe5D9304D9c0E",
		},
		"BSC": {
			Symbol:             "BSC",
			Kind:               bridge.ChainKindEVM,
			PrivateRPC:         os.Getenv("BSC_RPC"),
			ChainID:            56,
			POA:                true,
			FinalizeBlockCount: 10,
			Delay:              time.Second,
			BatchBlockSize:     30,
			VaultAddress:       "0xc3D07c4FDE03b8B1F9FeE3C19d906681b7b66B82",
		},
		"BTC": {
			Symbol:             "BTC",
			Kind:               bridge.ChainKindBTC,
			PrivateRPC:         os.Getenv("BTC_RPC"),
			IndexerRPC:         os.Getenv("BTC_INDEXER"),
			FinalizeBlockCount: 6,
			Delay:              10 * time.Second,
			BatchBlockSize:     1,
			VaultAddress:       os.Getenv("BTC_VAULT_ADDRESS"),
		},
	}
}

func devChains() map[string]ChainConfig {
	return map[string]ChainConfig{
		"HOL": {
			Symbol:             "HOL",
			Kind:               bridge.ChainKindEVM,
			PrivateRPC:         os.Getenv("HOL_RPC"),
			ChainID:            17000,
			FinalizeBlockCount: 20,
			Delay:              time.Second,
			BatchBlockSize:     20,
			VaultAddress:       "0x17a8bC4724666738387Ef5Fc59F7EF835AF60979",
		},
		"SEP": {
			Symbol:             "SEP",
			Kind:               bridge.ChainKindEVM,
			PrivateRPC:         os.Getenv("SEP_RPC"),
			ChainID:            11155111,
			POA:                true,
			FinalizeBlockCount: 10,
			Delay:              time.Second,
			BatchBlockSize:     20,
			VaultAddress:       "0x17a8bC4724666738387Ef5Fc59F7EF835AF60979",
		},
		"BST": {
			Symbol:             "BST",
			Kind:               bridge.ChainKindEVM,
			PrivateRPC:         os.Getenv("BST_RPC"),
			ChainID:            97,
			POA:                true,
			FinalizeBlockCount: 10,
			Delay:              time.Second,
			BatchBlockSize:     30,
			VaultAddress:       "0x17a8bC4724666738387Ef5Fc59F7EF835AF60979",
		},
		"BTC": {
			Symbol:             "BTC",
			Kind:               bridge.ChainKindBTC,
			PrivateRPC:         os.Getenv("BTC_RPC"),
			IndexerRPC:         os.Getenv("BTC_INDEXER"),
			FinalizeBlockCount: 6,
			Delay:              10 * time.Second,
			BatchBlockSize:     1,
			VaultAddress:       os.Getenv("BTC_VAULT_ADDRESS"),
		},
	}
}
