// Package config defines all configuration for the indexer/analytics
// service. Config is loaded from a YAML file (default: configs/config.yaml)
// with every field overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Chain       ChainConfig       `mapstructure:"chain"`
	Gamma       GammaConfig       `mapstructure:"gamma"`
	DataAPI     DataAPIConfig     `mapstructure:"data_api"`
	Store       StoreConfig       `mapstructure:"store"`
	Indexer     IndexerConfig     `mapstructure:"indexer"`
	Whale       WhaleConfig       `mapstructure:"whale"`
	TraderLevel TraderLevelConfig `mapstructure:"trader_level"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	API         APIConfig         `mapstructure:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ChainConfig points at the Polygon RPC endpoint and the CTF/exchange
// contract addresses the indexer reads OrderFilled logs from.
type ChainConfig struct {
	RPCURL                string `mapstructure:"rpc_url"`
	CTFExchange           string `mapstructure:"ctf_exchange"`
	NegRiskCTFExchange    string `mapstructure:"neg_risk_ctf_exchange"`
	USDCe                 string `mapstructure:"usdc_e"`
	WrappedCollateral     string `mapstructure:"wrapped_collateral"`
	StartBlock            int64  `mapstructure:"start_block"`
	LogBatchSize          uint64 `mapstructure:"log_batch_size"`
	Confirmations         uint64 `mapstructure:"confirmations"`
}

// GammaConfig is the Polymarket Gamma metadata API (events, markets).
type GammaConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// DataAPIConfig is the Polymarket Data API (trades, holders, leaderboards).
type DataAPIConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// StoreConfig sets where the SQLite database file lives.
type StoreConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// IndexerConfig tunes the on-chain log scanner.
type IndexerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// WhaleConfig sets the USD notional above which a trade is flagged.
type WhaleConfig struct {
	ThresholdUSD float64 `mapstructure:"threshold_usd"`
}

// TraderLevelConfig tunes the fish/dolphin/shark/whale classifier cache.
type TraderLevelConfig struct {
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	MaxTrades int           `mapstructure:"max_trades"`
}

// SchedulerConfig controls the periodic sync/refresh/whale-detect pipeline.
type SchedulerConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Interval             time.Duration `mapstructure:"interval"`
	PriceRefreshLimit    int           `mapstructure:"price_refresh_limit"`
	PriceRefreshWorkers  int           `mapstructure:"price_refresh_workers"`
	TraderStatsLimit     int           `mapstructure:"trader_stats_limit"`
}

// APIConfig controls the read-only HTTP + WebSocket server.
type APIConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. Every field
// is addressable as POLY_<SECTION>_<FIELD>, e.g. POLY_CHAIN_RPC_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// RPC_URL and DATABASE_PATH are the two fields operators set most often
	// without a config file; give them bare env names too.
	if url := os.Getenv("RPC_URL"); url != "" {
		cfg.Chain.RPCURL = url
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.Store.DatabasePath = path
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gamma.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("data_api.base_url", "https://data-api.polymarket.com")
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.wrapped_collateral", "")
	v.SetDefault("chain.start_block", 0)
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("chain.ctf_exchange", "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	v.SetDefault("chain.neg_risk_ctf_exchange", "0xC5d563A36AE78145C45a50134d48A1215220f80a")
	v.SetDefault("chain.usdc_e", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	v.SetDefault("chain.log_batch_size", 2000)
	v.SetDefault("chain.confirmations", 5)
	v.SetDefault("store.database_path", "./polylens.db")
	v.SetDefault("indexer.poll_interval", 15*time.Second)
	v.SetDefault("whale.threshold_usd", 10000.0)
	v.SetDefault("trader_level.cache_ttl", 600*time.Second)
	v.SetDefault("trader_level.max_trades", 10000)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 10*time.Second)
	v.SetDefault("scheduler.price_refresh_limit", 50)
	v.SetDefault("scheduler.price_refresh_workers", 10)
	v.SetDefault("scheduler.trader_stats_limit", 50)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required (set RPC_URL or POLY_CHAIN_RPC_URL)")
	}
	if c.Chain.CTFExchange == "" {
		return fmt.Errorf("chain.ctf_exchange is required")
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	if c.Whale.ThresholdUSD <= 0 {
		return fmt.Errorf("whale.threshold_usd must be > 0")
	}
	if c.Scheduler.PriceRefreshWorkers <= 0 {
		return fmt.Errorf("scheduler.price_refresh_workers must be > 0")
	}
	if c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0")
	}
	return nil
}
