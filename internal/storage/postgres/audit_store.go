package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage"
)

// AuditStore implements storage.AuditStore using PostgreSQL. audit_table is
// append-only lineage and is never reset by the cascade deletes.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// InsertBulk appends audit entries atomically.
func (s *AuditStore) InsertBulk(ctx context.Context, entries []*domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO audit_table (
			wallet_address, as_of_date, risk_score, top_reasons, pipeline_version
		) VALUES ($1, $2, $3, $4, $5)
	`

	for _, chunk := range chunked(entries) {
		batch := &pgx.Batch{}
		for _, e := range chunk {
			batch.Queue(query,
				e.WalletAddress,
				e.AsOfDate,
				e.RiskScore,
				e.TopReasons,
				e.PipelineVersion,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert audit entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
