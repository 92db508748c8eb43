// Package config loads the executor's configuration surface (spec §6.4,
// SPEC_FULL.md §6.4) via viper with env-var overrides, validating required
// fields after unmarshal.
//
// Grounded on hft-bot/pkg/config/config.go's viper.SetDefault +
// AutomaticEnv + post-unmarshal validate() pattern.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/flashloan-executor/executor/internal/executor"
)

// NodeConfig is one entry of nodes[] (spec §6.4).
type NodeConfig struct {
	ChainName string `mapstructure:"chainName"`
	RPCURL    string `mapstructure:"rpcUrl"`
	ChainID   int64  `mapstructure:"chainId"`
}

// SmartContractConfig is one entry of smartContracts[] (spec §6.4).
type SmartContractConfig struct {
	ChainName       string `mapstructure:"chainName"`
	ContractAddress string `mapstructure:"contractAddress"`
	ABI             string `mapstructure:"abi"`
}

// KafkaConfig is the bus configuration, substituting spec §6.4's nats.*
// surface per SPEC_FULL.md §4.8.
type KafkaConfig struct {
	Brokers             []string `mapstructure:"brokers"`
	OpportunityTopic    string   `mapstructure:"opportunityTopic"`
	ResultTopicPrefix   string   `mapstructure:"resultTopicPrefix"`
	StatusTopic         string   `mapstructure:"statusTopic"`
	MevResultTopicPrefix string  `mapstructure:"mevResultTopicPrefix"`
	LearningTopic       string   `mapstructure:"learningTopic"`
	ConsumerGroup       string   `mapstructure:"consumerGroup"`
}

// ExecutorWalletConfig holds the signing key (spec §6.4).
type ExecutorWalletConfig struct {
	PrivateKey string `mapstructure:"privateKey"`
}

// MLOptimizerConfig is the gas-bidding oracle endpoint (spec §6.4).
type MLOptimizerConfig struct {
	BaseURL             string `mapstructure:"baseUrl"`
	GasBiddingEndpoint  string `mapstructure:"gasBiddingEndpoint"`
}

// JitoConfig is the Solana bundle-relay configuration (spec §6.4).
type JitoConfig struct {
	Endpoint            string `mapstructure:"endpoint"`
	AuthToken           string `mapstructure:"authToken"`
	TipEstimateEndpoint string `mapstructure:"tipEstimateEndpoint"`
}

// SuaveConfig is the EVM bundle-relay configuration, per chain (spec §6.4).
type SuaveConfig struct {
	BuilderURLs map[string]string `mapstructure:"builderUrls"`
	AuthToken   string            `mapstructure:"authToken"`
}

// PipelineConfig holds the pipeline's tuning knobs. MaxConcurrentRuns sizes
// the Bus Subscriber. The receipt-poll fields are loaded but not read by
// internal/pipeline, whose receipt poll always uses its fixed 2 s interval
// and 60-attempt budget.
type PipelineConfig struct {
	MaxConcurrentRuns       int `mapstructure:"maxConcurrentRuns"`
	ReceiptPollIntervalSecs int `mapstructure:"receiptPollIntervalSecs"`
	ReceiptPollMaxAttempts  int `mapstructure:"receiptPollMaxAttempts"`
}

// LoggingConfig mirrors crypto-wallet/pkg/config's LoggingConfig shape.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"filePath"`
	MaxSize    int    `mapstructure:"maxSize"`
	MaxAge     int    `mapstructure:"maxAge"`
	MaxBackups int    `mapstructure:"maxBackups"`
	Compress   bool   `mapstructure:"compress"`
}

// RedisConfig is optional — the idempotency dedup cache is disabled if Addr
// is empty.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
	TTLSeconds int `mapstructure:"ttlSeconds"`
}

// Config is the executor's full configuration surface.
type Config struct {
	Kafka          KafkaConfig           `mapstructure:"kafka"`
	Nodes          []NodeConfig          `mapstructure:"nodes"`
	SmartContracts []SmartContractConfig `mapstructure:"smartContracts"`
	ExecutorWallet ExecutorWalletConfig  `mapstructure:"executorWallet"`
	MLOptimizer    MLOptimizerConfig     `mapstructure:"mlOptimizer"`
	Jito           JitoConfig            `mapstructure:"jito"`
	Suave          SuaveConfig           `mapstructure:"suave"`
	Pipeline       PipelineConfig        `mapstructure:"pipeline"`
	Logging        LoggingConfig         `mapstructure:"logging"`
	Redis          RedisConfig           `mapstructure:"redis"`
	MetricsPort    int                   `mapstructure:"metricsPort"`
	HealthPort     int                   `mapstructure:"healthPort"`
}

// Load reads configuration from file (if present), environment, and
// defaults, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// An empty default makes the key known to viper, so Unmarshal picks up
	// EXECUTORWALLET_PRIVATEKEY from the environment; validate() still
	// rejects it when it stays empty.
	v.SetDefault("executorWallet.privateKey", "")
	v.SetDefault("kafka.opportunityTopic", "flashloan.opportunity")
	v.SetDefault("kafka.resultTopicPrefix", "flashloan.result.")
	v.SetDefault("kafka.statusTopic", "flashloan.status")
	v.SetDefault("kafka.mevResultTopicPrefix", "mev.bundle.result.")
	v.SetDefault("kafka.learningTopic", "mloptimizer.training.flashloan")
	v.SetDefault("kafka.consumerGroup", "flashloan-executor")
	v.SetDefault("pipeline.maxConcurrentRuns", 32)
	v.SetDefault("pipeline.receiptPollIntervalSecs", 2)
	v.SetDefault("pipeline.receiptPollMaxAttempts", 60)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("metricsPort", 9090)
	v.SetDefault("healthPort", 8080)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSeconds", 300)
}

// validate enforces spec §6.4's required-config contract: missing
// executorWallet.privateKey is fatal at startup (ConfigError).
func (c *Config) validate() error {
	if c.ExecutorWallet.PrivateKey == "" {
		return &executor.ConfigError{Key: "executorWallet.privateKey"}
	}
	if len(c.Kafka.Brokers) == 0 {
		return &executor.ConfigError{Key: "kafka.brokers"}
	}
	if len(c.Nodes) == 0 {
		return &executor.ConfigError{Key: "nodes"}
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ChainName == "" || n.RPCURL == "" {
			return &executor.ConfigError{Key: "nodes[].chainName/rpcUrl"}
		}
		seen[n.ChainName] = true
	}
	for _, sc := range c.SmartContracts {
		if !seen[sc.ChainName] {
			return &executor.ConfigError{Key: fmt.Sprintf("smartContracts[%s]: no matching node", sc.ChainName)}
		}
	}
	return nil
}
