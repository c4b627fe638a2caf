// Package main generates a markdown case report for a single wallet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"onchain-risk/internal/config"
	"onchain-risk/internal/report"
	pgstore "onchain-risk/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	wallet := flag.String("wallet", "", "Wallet address to report on (required)")
	output := flag.String("output", "", "Output path (default reports/case_<addr>_<date>.md)")
	flag.Parse()

	_ = godotenv.Load()

	if *wallet == "" {
		fmt.Fprintln(os.Stderr, "Error: --wallet is required")
		flag.Usage()
		os.Exit(1)
	}

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

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	generator := report.NewGenerator(report.GeneratorOptions{
		RiskStore: pgstore.NewRiskMetricStore(pool),
		TxStore:   pgstore.NewTransactionStore(pool),
		Logger:    logger,
	})

	path, err := generator.WriteFile(ctx, *wallet, *output)
	if err != nil {
		logger.Fatal("generate report", zap.Error(err))
	}

	fmt.Printf("Report written to %s\n", path)
}
