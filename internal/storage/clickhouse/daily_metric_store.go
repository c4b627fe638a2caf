package clickhouse

import (
	"context"
	"fmt"
	"time"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage"
)

// DailyMetricStore implements storage.DailyMetricStore using ClickHouse.
// MergeTree does not enforce uniqueness; ReplaceAll truncates first.
type DailyMetricStore struct {
	conn *Conn
}

// NewDailyMetricStore creates a new DailyMetricStore.
func NewDailyMetricStore(conn *Conn) *DailyMetricStore {
	return &DailyMetricStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DailyMetricStore = (*DailyMetricStore)(nil)

// InsertBulk appends daily metric rows via a prepared batch.
func (s *DailyMetricStore) InsertBulk(ctx context.Context, metrics []*domain.DailyMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO daily_metrics (
			metric_date, metric_name, entity_type, entity_label, asset_symbol, value
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare daily metrics batch: %w", err)
	}

	for i, m := range metrics {
		date, err := time.Parse("2006-01-02", m.MetricDate)
		if err != nil {
			return fmt.Errorf("%w: daily metric %d has bad date %q", storage.ErrInvalidInput, i, m.MetricDate)
		}
		if err := batch.Append(
			date,
			m.MetricName,
			m.EntityType,
			m.EntityLabel,
			m.AssetSymbol,
			m.Value,
		); err != nil {
			return fmt.Errorf("append daily metric: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send daily metrics batch: %w", err)
	}
	return nil
}

// ReplaceAll truncates and reloads the metric set. Not transactional:
// ClickHouse has no multi-statement transactions, so a failed load leaves
// the table empty rather than half-old. The Postgres backend is the source
// of record; this sink can always be rebuilt from it.
func (s *DailyMetricStore) ReplaceAll(ctx context.Context, metrics []*domain.DailyMetric) error {
	if err := s.conn.Exec(ctx, "TRUNCATE TABLE daily_metrics"); err != nil {
		return fmt.Errorf("truncate daily_metrics: %w", err)
	}
	return s.InsertBulk(ctx, metrics)
}

// GetAll retrieves all rows ordered by (date, metric, label, symbol).
func (s *DailyMetricStore) GetAll(ctx context.Context) ([]*domain.DailyMetric, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT metric_date, metric_name, entity_type, entity_label, asset_symbol, value
		FROM daily_metrics
		ORDER BY metric_date ASC, metric_name ASC, entity_label ASC NULLS FIRST, asset_symbol ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get all daily metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*domain.DailyMetric
	for rows.Next() {
		var (
			m    domain.DailyMetric
			date time.Time
		)
		if err := rows.Scan(
			&date,
			&m.MetricName,
			&m.EntityType,
			&m.EntityLabel,
			&m.AssetSymbol,
			&m.Value,
		); err != nil {
			return nil, fmt.Errorf("scan daily metric row: %w", err)
		}
		m.MetricDate = date.Format("2006-01-02")
		metrics = append(metrics, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily metric rows: %w", err)
	}
	return metrics, nil
}
