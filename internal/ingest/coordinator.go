// Package ingest drives fetch, normalize and classify for one or many
// wallets and commits the result as one reset-then-load batch.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"onchain-risk/internal/classify"
	"onchain-risk/internal/domain"
	"onchain-risk/internal/normalize"
	"onchain-risk/internal/observability"
	"onchain-risk/internal/provider"
	"onchain-risk/internal/storage"
)

// TransferSource fetches raw transfers, satisfied by *provider.Adapter.
type TransferSource interface {
	FetchWalletTransfers(ctx context.Context, address string, maxCount, sinceDays int) ([]provider.RawTransfer, error)
	FetchTokenTransfers(ctx context.Context, contractAddress string, maxCount, sinceDays int) ([]provider.RawTransfer, error)
}

// Target is one wallet to ingest, with its entity metadata when known.
type Target struct {
	Address    string
	Label      string
	EntityType string
}

// tokenTyped reports whether the target uses the token-transfer fetch path.
func (t Target) tokenTyped() bool {
	e := domain.Entity{Address: t.Address, EntityType: t.EntityType}
	return e.IsInfrastructure()
}

// Options controls one ingestion run.
type Options struct {
	MaxTransfers    int // per wallet, upstream page cap
	SinceDays       int // 0 = unbounded
	SkipStablecoins bool
	Workers         int // clamped to [1, len(wallets)] at batch time
}

// WalletFailure records one isolated per-wallet error.
type WalletFailure struct {
	Address string
	Label   string
	Err     error
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Committed int // transaction rows committed
	Succeeded int // wallets that produced rows
	Skipped   int // wallets short-circuited by policy
	Failures  []WalletFailure
}

// Coordinator wires the source adapter, classifier and transaction store
// into single-wallet and batch ingestion flows.
type Coordinator struct {
	source  TransferSource
	txStore storage.TransactionStore
	logger  *zap.Logger

	classifierOpts classify.ClassifierOptions
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Source     TransferSource
	TxStore    storage.TransactionStore
	CodeReader classify.CodeReader // nil disables classification
	Logger     *zap.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		source:  opts.Source,
		txStore: opts.TxStore,
		logger:  logger,
		classifierOpts: classify.ClassifierOptions{
			Reader: opts.CodeReader,
			Logger: logger,
		},
	}
}

// IngestWallet runs fetch, normalize and classify for one wallet and returns
// the normalized rows without committing them. Token-typed entities use the
// token-transfer path; SkipStablecoins short-circuits them before any fetch.
// A nil classifier falls back to a fresh per-call cache.
func (c *Coordinator) IngestWallet(ctx context.Context, target Target, opts Options, classifier *classify.Classifier) ([]*domain.Transaction, error) {
	if classifier == nil {
		classifier = classify.NewClassifier(c.classifierOpts)
	}

	var (
		raw []provider.RawTransfer
		err error
	)
	switch {
	case target.tokenTyped() && opts.SkipStablecoins:
		observability.RecordWalletSkipped()
		c.logger.Info("skipping token entity",
			zap.String("address", target.Address),
			zap.String("label", target.Label))
		return nil, nil
	case target.tokenTyped():
		raw, err = c.source.FetchTokenTransfers(ctx, target.Address, opts.MaxTransfers, opts.SinceDays)
	default:
		raw, err = c.source.FetchWalletTransfers(ctx, target.Address, opts.MaxTransfers, opts.SinceDays)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target.Address, err)
	}

	txs, err := normalize.Normalize(raw, target.Address)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", target.Address, err)
	}

	for _, tx := range txs {
		tx.IsContractInteraction = classifier.Classify(ctx, tx.Counterparty())
	}

	c.logger.Info("wallet ingested",
		zap.String("address", target.Address),
		zap.String("label", target.Label),
		zap.Int("rows", len(txs)))
	return txs, nil
}

// IngestOne ingests a single wallet and commits its rows as a reset-then-load.
// There is no partial-success for a single target: a fetch or normalize
// failure propagates to the caller instead of being recorded and skipped.
func (c *Coordinator) IngestOne(ctx context.Context, target Target, opts Options) (*BatchResult, error) {
	result := &BatchResult{}

	rows, err := c.IngestWallet(ctx, target, opts, nil)
	if err != nil {
		observability.RecordWalletFailed()
		return nil, err
	}
	if rows == nil {
		result.Skipped = 1
		return result, nil
	}
	if len(rows) == 0 {
		c.logger.Info("no new data; existing state retained",
			zap.String("address", target.Address))
		return result, nil
	}

	if err := c.txStore.ReplaceAll(ctx, rows); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	observability.RecordWalletIngested()
	observability.RecordRowsCommitted(len(rows))
	result.Succeeded = 1
	result.Committed = len(rows)
	return result, nil
}

// taggedResult carries one worker's outcome: rows on success, err on
// failure, skipped when policy short-circuited the wallet.
type taggedResult struct {
	target  Target
	rows    []*domain.Transaction
	skipped bool
	err     error
}

// IngestBatch ingests wallets across a bounded worker pool and commits the
// combined rows as one reset-then-load. A worker's failure is recorded and
// excluded; it never cancels its siblings. With zero non-empty wallets the
// stored state is left untouched.
func (c *Coordinator) IngestBatch(ctx context.Context, targets []Target, opts Options) (*BatchResult, error) {
	result := &BatchResult{}
	if len(targets) == 0 {
		c.logger.Info("no new data; existing state retained")
		return result, nil
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	// One cache per run: wallets in a batch share counterparties.
	classifier := classify.NewClassifier(classify.ClassifierOptions{
		Reader: c.classifierOpts.Reader,
		Cache:  classify.NewCache(),
		Logger: c.logger,
	})

	var (
		mu      sync.Mutex
		results []taggedResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			rows, err := c.IngestWallet(gctx, target, opts, classifier)
			mu.Lock()
			results = append(results, taggedResult{
				target:  target,
				rows:    rows,
				skipped: err == nil && rows == nil,
				err:     err,
			})
			mu.Unlock()
			// Failures stay inside the tagged result so sibling workers
			// keep running.
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures ride the tagged results

	var batch []*domain.Transaction
	for _, r := range results {
		switch {
		case r.err != nil:
			observability.RecordWalletFailed()
			c.logger.Warn("wallet ingestion failed",
				zap.String("address", r.target.Address),
				zap.String("label", r.target.Label),
				zap.Error(r.err))
			result.Failures = append(result.Failures, WalletFailure{
				Address: r.target.Address,
				Label:   r.target.Label,
				Err:     r.err,
			})
		case r.skipped:
			result.Skipped++
		case len(r.rows) > 0:
			observability.RecordWalletIngested()
			result.Succeeded++
			batch = append(batch, r.rows...)
		}
	}

	if len(batch) == 0 {
		c.logger.Info("no new data; existing state retained",
			zap.Int("wallets", len(targets)),
			zap.Int("failed", len(result.Failures)))
		return result, nil
	}

	if err := c.txStore.ReplaceAll(ctx, batch); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	result.Committed = len(batch)
	observability.RecordRowsCommitted(len(batch))

	c.logger.Info("batch committed",
		zap.Int("rows", result.Committed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failures)))
	return result, nil
}
