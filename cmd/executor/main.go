// Command executor runs the flash-loan arbitrage Executor: it loads
// configuration, builds the Chain Gateway, Gas Bidder, Simulator, Tx
// Builder/Signer, MEV Coordinator, and Result Publisher, wires them into the
// Opportunity Pipeline, and runs the Bus Subscriber until shutdown.
//
// Grounded on hft-bot's cmd/*/main.go wiring convention (functional options
// over a shared.Service).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/flashloan-executor/executor/internal/bussubscriber"
	"github.com/flashloan-executor/executor/internal/chaingateway"
	execconfig "github.com/flashloan-executor/executor/internal/config"
	"github.com/flashloan-executor/executor/internal/gasbidder"
	"github.com/flashloan-executor/executor/internal/logger"
	"github.com/flashloan-executor/executor/internal/mevcoordinator"
	"github.com/flashloan-executor/executor/internal/metrics"
	"github.com/flashloan-executor/executor/internal/pipeline"
	"github.com/flashloan-executor/executor/internal/resultpublisher"
	"github.com/flashloan-executor/executor/internal/shared"
	"github.com/flashloan-executor/executor/internal/simulator"
	"github.com/flashloan-executor/executor/internal/txbuilder"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; env vars and defaults otherwise)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "executor:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := execconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logging)
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()

	nodes := make([]chaingateway.NodeConfig, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		nodes[i] = chaingateway.NodeConfig{ChainName: n.ChainName, RPCURL: n.RPCURL, ChainID: n.ChainID}
	}
	gateway, err := chaingateway.New(ctx, nodes, log.Logger)
	if err != nil {
		return fmt.Errorf("build chain gateway: %w", err)
	}

	bidder := gasbidder.New(cfg.MLOptimizer.BaseURL, cfg.MLOptimizer.GasBiddingEndpoint, log.Logger)

	contracts := make(pipeline.ContractRegistry, len(cfg.SmartContracts))
	simBindings := make([]simulator.ContractBinding, 0, len(cfg.SmartContracts))
	for _, sc := range cfg.SmartContracts {
		addr := common.HexToAddress(sc.ContractAddress)
		contracts[sc.ChainName] = addr
		simBindings = append(simBindings, simulator.ContractBinding{ChainName: sc.ChainName, ContractAddress: addr})
	}
	sim, err := simulator.New(simBindings, gateway, log.Logger)
	if err != nil {
		return fmt.Errorf("build simulator: %w", err)
	}

	builder, err := txbuilder.New(cfg.ExecutorWallet.PrivateKey, gateway)
	if err != nil {
		return fmt.Errorf("build tx builder: %w", err)
	}

	evmClient := mevcoordinator.NewEVMClient(cfg.Suave.BuilderURLs, log.Logger)
	var solanaClient *mevcoordinator.SolanaClient
	if cfg.Jito.Endpoint != "" {
		solanaClient = mevcoordinator.NewSolanaClient(cfg.Jito.Endpoint, log.Logger)
	}
	tipOracle := mevcoordinator.NewHTTPTipOracle(cfg.Jito.TipEstimateEndpoint)
	mev := mevcoordinator.New(evmClient, solanaClient, tipOracle, gateway, log.Logger)

	durableWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.LeastBytes{},
	}
	bestEffortWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		RequiredAcks: kafka.RequireNone,
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
	}
	publisher := resultpublisher.New(durableWriter, bestEffortWriter, resultpublisher.Topics{
		ResultPrefix:    cfg.Kafka.ResultTopicPrefix,
		StatusTopic:     cfg.Kafka.StatusTopic,
		MevResultPrefix: cfg.Kafka.MevResultTopicPrefix,
		LearningTopic:   cfg.Kafka.LearningTopic,
	}, log.Logger)

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	pl := &pipeline.Pipeline{
		GasBidder: bidder,
		Simulator: sim,
		Contracts: contracts,
		TxBuilder: builder,
		Chain:     gateway,
		Mev:       mev,
		Results:   publisher,
		Log:       log.Logger,
		Metrics:   rec,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.OpportunityTopic,
		GroupID: cfg.Kafka.ConsumerGroup,
	})

	var dedup bussubscriber.Dedup
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		dedup = bussubscriber.NewRedisDedup(rdb, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
	}

	subscriber := bussubscriber.New(reader, pl, dedup, cfg.Pipeline.MaxConcurrentRuns, log.Logger)

	svc := shared.New("flashloan-executor", log, subscriber.Run,
		shared.WithMetricsServer(cfg.MetricsPort, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		shared.WithHealthServer(cfg.HealthPort),
	)

	defer func() {
		_ = subscriber.Close()
		_ = publisher.Close()
	}()

	return svc.Run()
}
