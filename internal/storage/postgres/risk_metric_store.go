package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage"
)

// RiskMetricStore implements storage.RiskMetricStore using PostgreSQL.
type RiskMetricStore struct {
	pool *Pool
}

// NewRiskMetricStore creates a new RiskMetricStore.
func NewRiskMetricStore(pool *Pool) *RiskMetricStore {
	return &RiskMetricStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RiskMetricStore = (*RiskMetricStore)(nil)

const selectRiskMetricColumns = `
	wallet_address, as_of_date::text, tx_count_30d, volume_30d,
	unique_counterparties_30d, contract_interactions_30d, avg_tx_size,
	risk_score, reason_velocity, reason_new_counterparties,
	reason_contract_interactions
`

// InsertBulk appends a batch of risk metric snapshots atomically.
func (s *RiskMetricStore) InsertBulk(ctx context.Context, metrics []*domain.RiskMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO risk_metrics (
			wallet_address, as_of_date, tx_count_30d, volume_30d,
			unique_counterparties_30d, contract_interactions_30d, avg_tx_size,
			risk_score, reason_velocity, reason_new_counterparties,
			reason_contract_interactions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, chunk := range chunked(metrics) {
		batch := &pgx.Batch{}
		for _, m := range chunk {
			batch.Queue(query,
				m.WalletAddress,
				m.AsOfDate,
				m.TxCount30d,
				m.Volume30d,
				m.UniqueCounterparties30d,
				m.ContractInteractions30d,
				m.AvgTxSize,
				m.RiskScore,
				m.ReasonVelocity,
				m.ReasonNewCounterparties,
				m.ReasonContractInteractions,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert risk metrics: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LatestByWallet retrieves the most recent snapshot for a wallet. Returns
// ErrNotFound if the wallet was never scored.
func (s *RiskMetricStore) LatestByWallet(ctx context.Context, wallet string) (*domain.RiskMetric, error) {
	query := `
		SELECT ` + selectRiskMetricColumns + `
		FROM risk_metrics
		WHERE wallet_address = LOWER($1)
		ORDER BY as_of_date DESC, id DESC
		LIMIT 1
	`

	m, err := scanRiskMetric(s.pool.QueryRow(ctx, query, wallet))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("latest risk metric by wallet: %w", err)
	}
	return m, nil
}

// GetByDate retrieves all snapshots for an as-of date (YYYY-MM-DD).
func (s *RiskMetricStore) GetByDate(ctx context.Context, asOfDate string) ([]*domain.RiskMetric, error) {
	query := `
		SELECT ` + selectRiskMetricColumns + `
		FROM risk_metrics
		WHERE as_of_date = $1::date
		ORDER BY wallet_address ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("get risk metrics by date: %w", err)
	}
	defer rows.Close()

	var metrics []*domain.RiskMetric
	for rows.Next() {
		m, err := scanRiskMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan risk metric row: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk metric rows: %w", err)
	}
	return metrics, nil
}

func scanRiskMetric(row pgx.Row) (*domain.RiskMetric, error) {
	var m domain.RiskMetric
	err := row.Scan(
		&m.WalletAddress,
		&m.AsOfDate,
		&m.TxCount30d,
		&m.Volume30d,
		&m.UniqueCounterparties30d,
		&m.ContractInteractions30d,
		&m.AvgTxSize,
		&m.RiskScore,
		&m.ReasonVelocity,
		&m.ReasonNewCounterparties,
		&m.ReasonContractInteractions,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
