// Package main runs the wallet risk pipeline end to end.
// Executes: entity load → transfer ingestion → risk scoring → daily metrics
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"onchain-risk/internal/classify"
	"onchain-risk/internal/config"
	"onchain-risk/internal/dailymetric"
	"onchain-risk/internal/domain"
	"onchain-risk/internal/entity"
	"onchain-risk/internal/ingest"
	"onchain-risk/internal/observability"
	"onchain-risk/internal/provider"
	"onchain-risk/internal/risk"
	"onchain-risk/internal/storage"
	chstore "onchain-risk/internal/storage/clickhouse"
	"onchain-risk/internal/storage/memory"
	"onchain-risk/internal/storage/migrations"
	pgstore "onchain-risk/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	entitiesCSV := flag.String("entities", "", "Path to entities CSV (overrides config)")
	wallet := flag.String("wallet", "", "Ingest a single wallet address instead of the entity list")
	workers := flag.Int("workers", 0, "Worker count override (0 = use config)")
	topN := flag.Int("top", 10, "Number of top-risk wallets to print after scoring")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	flag.Parse()

	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *entitiesCSV != "" {
		cfg.Pipeline.EntitiesCSV = *entitiesCSV
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Info("starting metrics server", zap.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server error", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
			cancel()
			select {
			case <-sigCh:
				os.Exit(1)
			case <-time.After(30 * time.Second):
				logger.Warn("graceful shutdown timed out, forcing exit")
				os.Exit(1)
			case <-done:
			}
		case <-done:
		}
	}()

	err = run(ctx, cfg, *wallet, *topN, *useMemory, logger)
	close(done)

	if err != nil && err != context.Canceled {
		logger.Fatal("pipeline failed", zap.Error(err))
	}
	logger.Info("pipeline complete")
}

// run wires storage, providers, and pipeline stages and executes them in order.
func run(ctx context.Context, cfg *config.Config, singleWallet string, topN int, useMemory bool, logger *zap.Logger) error {
	var (
		entityStore storage.EntityStore
		txStore     storage.TransactionStore
		riskStore   storage.RiskMetricStore
		auditStore  storage.AuditStore
		dailySinks  []storage.DailyMetricStore
	)

	if useMemory {
		store := memory.NewStore()
		entityStore = store.Entities()
		txStore = store.Transactions()
		riskStore = store.RiskMetrics()
		auditStore = store.Audit()
		dailySinks = []storage.DailyMetricStore{store.DailyMetrics()}
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}

		entityStore = pgstore.NewEntityStore(pool)
		txStore = pgstore.NewTransactionStore(pool)
		riskStore = pgstore.NewRiskMetricStore(pool)
		auditStore = pgstore.NewAuditStore(pool)
		dailySinks = []storage.DailyMetricStore{pgstore.NewDailyMetricStore(pool)}

		if cfg.Storage.ClickHouseDSN != "" {
			conn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
			if err != nil {
				return fmt.Errorf("connect to clickhouse: %w", err)
			}
			defer conn.Close()

			if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
				return fmt.Errorf("run clickhouse migrations: %w", err)
			}
			dailySinks = append(dailySinks, chstore.NewDailyMetricStore(conn))
		}
	}

	// Stage 1: entity reference data.
	loaded, err := entity.LoadCSV(ctx, cfg.Pipeline.EntitiesCSV, entityStore, logger)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	logger.Info("entity load complete", zap.Int("count", loaded))

	// Stage 2: transfer ingestion.
	adapter, err := buildAdapter(cfg, logger)
	if err != nil {
		return err
	}

	var codeReader classify.CodeReader
	if cfg.Providers.NodeRPCURL != "" {
		eth, err := ethclient.DialContext(ctx, cfg.Providers.NodeRPCURL)
		if err != nil {
			return fmt.Errorf("dial node rpc: %w", err)
		}
		defer eth.Close()
		codeReader = eth
	} else {
		logger.Warn("no node RPC configured; contract classification disabled")
	}

	coordinator := ingest.NewCoordinator(ingest.CoordinatorOptions{
		Source:     adapter,
		TxStore:    txStore,
		CodeReader: codeReader,
		Logger:     logger,
	})
	ingestOpts := ingest.Options{
		MaxTransfers:    cfg.Pipeline.MaxTransfersPerWallet,
		SinceDays:       cfg.Pipeline.SinceDays,
		SkipStablecoins: cfg.Pipeline.SkipStablecoins,
		Workers:         cfg.Pipeline.Workers,
	}

	var result *ingest.BatchResult
	if singleWallet != "" {
		// A single explicit wallet has no partial-success semantics: its
		// failure fails the run.
		result, err = coordinator.IngestOne(ctx, ingest.Target{Address: singleWallet}, ingestOpts)
		if err != nil {
			return fmt.Errorf("ingest wallet %s: %w", singleWallet, err)
		}
	} else {
		targets, err := buildTargets(ctx, entityStore)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			logger.Warn("no ingestion targets; pass --wallet or load an entities CSV")
			return nil
		}
		result, err = coordinator.IngestBatch(ctx, targets, ingestOpts)
		if err != nil {
			return fmt.Errorf("ingest batch: %w", err)
		}
	}
	logger.Info("ingestion complete",
		zap.Int("committed", result.Committed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failures)))

	// Stage 3: risk scoring.
	engine := risk.NewEngine(risk.EngineOptions{
		TxStore:    txStore,
		RiskStore:  riskStore,
		AuditStore: auditStore,
		Version:    cfg.Pipeline.Version,
		Logger:     logger,
	})
	scored, err := engine.ScoreAll(ctx)
	if err != nil {
		return fmt.Errorf("score wallets: %w", err)
	}
	logger.Info("risk scoring complete", zap.Int("wallets", len(scored)))
	printTopWallets(scored, topN)

	// Stage 4: daily flow metrics.
	aggregator := dailymetric.NewAggregator(dailymetric.AggregatorOptions{
		TxStore:     txStore,
		EntityStore: entityStore,
		Sinks:       dailySinks,
		Logger:      logger,
	})
	metrics, err := aggregator.Aggregate(ctx, cfg.Pipeline.LargeTxThreshold)
	if err != nil {
		return fmt.Errorf("aggregate daily metrics: %w", err)
	}
	logger.Info("daily metrics complete", zap.Int("rows", len(metrics)))

	return nil
}

// buildAdapter constructs the transfer source from whichever providers
// are configured. The adapter itself rejects an empty chain.
func buildAdapter(cfg *config.Config, logger *zap.Logger) (*provider.Adapter, error) {
	var alchemy *provider.AlchemyClient
	if cfg.Providers.AlchemyURL != "" {
		alchemy = provider.NewAlchemyClient(cfg.Providers.AlchemyURL)
	}
	var etherscan *provider.EtherscanClient
	if cfg.Providers.EtherscanAPIKey != "" {
		etherscan = provider.NewEtherscanClient(cfg.Providers.EtherscanAPIKey)
	}
	if alchemy == nil && etherscan == nil {
		return nil, fmt.Errorf("no transfer providers configured; set ALCHEMY_URL or ETHERSCAN_API_KEY")
	}
	return provider.NewAdapter(provider.AdapterOptions{
		Alchemy:   alchemy,
		Etherscan: etherscan,
		Logger:    logger,
	}), nil
}

// printTopWallets prints the scored wallets ranked by risk score.
func printTopWallets(scored []*domain.RiskMetric, n int) {
	if len(scored) == 0 {
		fmt.Println("No risk metrics available.")
		return
	}

	top := risk.TopWallets(scored, n)
	fmt.Printf("=== Top %d wallets by risk score ===\n", len(top))
	fmt.Printf("%-44s %10s %8s %14s %14s %12s\n",
		"wallet", "score", "txs_30d", "volume_30d", "counterparties", "avg_tx_size")
	for _, m := range top {
		fmt.Printf("%-44s %10.4f %8d %14.4f %14d %12.4f\n",
			m.WalletAddress,
			m.RiskScore,
			m.TxCount30d,
			m.Volume30d,
			m.UniqueCounterparties30d,
			m.AvgTxSize)
	}
}

// buildTargets resolves the wallet list from the loaded entity set.
func buildTargets(ctx context.Context, entityStore storage.EntityStore) ([]ingest.Target, error) {
	entities, err := entityStore.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	targets := make([]ingest.Target, 0, len(entities))
	for _, e := range entities {
		targets = append(targets, ingest.Target{
			Address:    e.Address,
			Label:      e.Label,
			EntityType: e.EntityType,
		})
	}
	return targets, nil
}
