package dailymetric

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/observability"
	"onchain-risk/internal/storage"
)

// Aggregator recomputes the daily metric set from the persisted transaction
// history and writes it to one or more metric sinks.
type Aggregator struct {
	txStore     storage.TransactionStore
	entityStore storage.EntityStore
	sinks       []storage.DailyMetricStore
	logger      *zap.Logger
}

// AggregatorOptions configures an Aggregator. Sinks beyond the first are
// best-effort analytics mirrors (e.g. ClickHouse).
type AggregatorOptions struct {
	TxStore     storage.TransactionStore
	EntityStore storage.EntityStore
	Sinks       []storage.DailyMetricStore
	Logger      *zap.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts AggregatorOptions) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		txStore:     opts.TxStore,
		entityStore: opts.EntityStore,
		sinks:       opts.Sinks,
		logger:      logger,
	}
}

// Aggregate recomputes all daily metrics over the full transaction history
// and replaces the stored set. The primary sink failing fails the run;
// mirror sinks only log.
func (a *Aggregator) Aggregate(ctx context.Context, largeTxThreshold float64) ([]*domain.DailyMetric, error) {
	txs, err := a.txStore.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	entities, err := a.entityStore.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}

	rows := Compute(txs, entities, largeTxThreshold)
	if len(rows) == 0 {
		a.logger.Info("no daily metrics to aggregate")
		return nil, nil
	}

	for i, sink := range a.sinks {
		if err := sink.ReplaceAll(ctx, rows); err != nil {
			if i == 0 {
				return nil, fmt.Errorf("persist daily metrics: %w", err)
			}
			a.logger.Warn("mirror sink write failed", zap.Int("sink", i), zap.Error(err))
		}
	}

	observability.RecordDailyMetricRows(len(rows))
	a.logger.Info("daily metrics aggregated",
		zap.Int("rows", len(rows)),
		zap.Float64("large_tx_threshold", largeTxThreshold))
	return rows, nil
}
