package storage

import (
	"context"
	"time"

	"onchain-risk/internal/domain"
)

// EntityStore provides access to the entities table.
type EntityStore interface {
	// ReplaceAll swaps the entity list wholesale. Replacing the list also
	// resets the derived tables (transactions, risk_metrics, daily_metrics)
	// in the same transaction: a changed entity list invalidates everything
	// computed from the old one. audit_table survives.
	ReplaceAll(ctx context.Context, entities []*domain.Entity) error

	// GetAll retrieves all entities, ordered by address ASC.
	GetAll(ctx context.Context) ([]*domain.Entity, error)

	// GetByAddress retrieves one entity by lowercased address. Returns
	// ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.Entity, error)
}

// TransactionStore provides access to the transactions table.
type TransactionStore interface {
	// ReplaceAll resets transactions plus the derived risk_metrics and
	// daily_metrics tables, then inserts txs, all in one transaction.
	// Either the whole reset+load is visible or none of it is.
	ReplaceAll(ctx context.Context, txs []*domain.Transaction) error

	// InsertBulk appends transactions without resetting anything.
	InsertBulk(ctx context.Context, txs []*domain.Transaction) error

	// GetAll retrieves all transactions.
	GetAll(ctx context.Context) ([]*domain.Transaction, error)

	// GetByWallet retrieves all transactions ingested for a wallet.
	GetByWallet(ctx context.Context, wallet string) ([]*domain.Transaction, error)

	// WalletAggregates computes per-wallet scoring features over rows with
	// timestamp >= since, excluding wallets whose entity_type is listed in
	// excludedTypes. Ordered by wallet address ASC.
	WalletAggregates(ctx context.Context, since time.Time, excludedTypes []string) ([]*domain.WalletAggregate, error)

	// TopCounterparties retrieves the wallet's top counterparties since the
	// given time, by native volume DESC.
	TopCounterparties(ctx context.Context, wallet string, since time.Time, limit int) ([]*domain.CounterpartySummary, error)

	// LargestTransfers retrieves the wallet's largest native transfers since
	// the given time, by value DESC.
	LargestTransfers(ctx context.Context, wallet string, since time.Time, limit int) ([]*domain.Transaction, error)

	// ContractInteractions retrieves the wallet's contract-flagged transfers
	// since the given time, newest first.
	ContractInteractions(ctx context.Context, wallet string, since time.Time, limit int) ([]*domain.Transaction, error)
}

// RiskMetricStore provides access to the risk_metrics table. Append-only:
// duplicate runs on the same day append duplicate rows.
type RiskMetricStore interface {
	// InsertBulk appends a batch of risk metric snapshots.
	InsertBulk(ctx context.Context, metrics []*domain.RiskMetric) error

	// LatestByWallet retrieves the most recent snapshot for a wallet.
	// Returns ErrNotFound if the wallet was never scored.
	LatestByWallet(ctx context.Context, wallet string) (*domain.RiskMetric, error)

	// GetByDate retrieves all snapshots for an as-of date (YYYY-MM-DD).
	GetByDate(ctx context.Context, asOfDate string) ([]*domain.RiskMetric, error)
}

// AuditStore provides access to audit_table.
type AuditStore interface {
	// InsertBulk appends audit entries. The table is never reset.
	InsertBulk(ctx context.Context, entries []*domain.AuditEntry) error
}

// DailyMetricStore provides access to the daily_metrics table.
type DailyMetricStore interface {
	// InsertBulk appends daily metric rows.
	InsertBulk(ctx context.Context, metrics []*domain.DailyMetric) error

	// ReplaceAll swaps the daily metric set wholesale.
	ReplaceAll(ctx context.Context, metrics []*domain.DailyMetric) error

	// GetAll retrieves all rows ordered by (date, metric, label, symbol).
	GetAll(ctx context.Context) ([]*domain.DailyMetric, error)
}
