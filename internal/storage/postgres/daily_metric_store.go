package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage"
)

// DailyMetricStore implements storage.DailyMetricStore using PostgreSQL.
type DailyMetricStore struct {
	pool *Pool
}

// NewDailyMetricStore creates a new DailyMetricStore.
func NewDailyMetricStore(pool *Pool) *DailyMetricStore {
	return &DailyMetricStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DailyMetricStore = (*DailyMetricStore)(nil)

const insertDailyMetricQuery = `
	INSERT INTO daily_metrics (
		metric_date, metric_name, entity_type, entity_label, asset_symbol, value
	) VALUES ($1, $2, $3, $4, $5, $6)
`

// InsertBulk appends daily metric rows atomically.
func (s *DailyMetricStore) InsertBulk(ctx context.Context, metrics []*domain.DailyMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertDailyMetrics(ctx, tx, metrics); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ReplaceAll swaps the daily metric set wholesale in one transaction.
func (s *DailyMetricStore) ReplaceAll(ctx context.Context, metrics []*domain.DailyMetric) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM daily_metrics"); err != nil {
		return fmt.Errorf("reset daily_metrics: %w", err)
	}
	if err := insertDailyMetrics(ctx, tx, metrics); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertDailyMetrics(ctx context.Context, tx pgx.Tx, metrics []*domain.DailyMetric) error {
	for _, chunk := range chunked(metrics) {
		batch := &pgx.Batch{}
		for _, m := range chunk {
			batch.Queue(insertDailyMetricQuery,
				m.MetricDate,
				m.MetricName,
				m.EntityType,
				m.EntityLabel,
				m.AssetSymbol,
				m.Value,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert daily metrics: %w", err)
		}
	}
	return nil
}

// GetAll retrieves all rows ordered by (date, metric, label, symbol).
func (s *DailyMetricStore) GetAll(ctx context.Context) ([]*domain.DailyMetric, error) {
	query := `
		SELECT metric_date::text, metric_name, entity_type, entity_label, asset_symbol, value
		FROM daily_metrics
		ORDER BY metric_date ASC, metric_name ASC, entity_label ASC NULLS FIRST, asset_symbol ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all daily metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*domain.DailyMetric
	for rows.Next() {
		var m domain.DailyMetric
		if err := rows.Scan(
			&m.MetricDate,
			&m.MetricName,
			&m.EntityType,
			&m.EntityLabel,
			&m.AssetSymbol,
			&m.Value,
		); err != nil {
			return nil, fmt.Errorf("scan daily metric row: %w", err)
		}
		metrics = append(metrics, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily metric rows: %w", err)
	}
	return metrics, nil
}
