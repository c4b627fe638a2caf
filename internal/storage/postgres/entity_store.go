package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage"
)

// EntityStore implements storage.EntityStore using PostgreSQL.
type EntityStore struct {
	pool *Pool
}

// NewEntityStore creates a new EntityStore.
func NewEntityStore(pool *Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EntityStore = (*EntityStore)(nil)

// ReplaceAll swaps the entity list wholesale. The derived tables
// (transactions, risk_metrics, daily_metrics) are reset in the same
// transaction; audit_table survives the reload.
func (s *EntityStore) ReplaceAll(ctx context.Context, entities []*domain.Entity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"risk_metrics", "daily_metrics", "transactions", "entities"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}

	query := `INSERT INTO entities (address, label, entity_type) VALUES ($1, $2, $3)`
	for _, chunk := range chunked(entities) {
		batch := &pgx.Batch{}
		for _, e := range chunk {
			batch.Queue(query, strings.ToLower(e.Address), e.Label, e.EntityType)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert entities: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetAll retrieves all entities, ordered by address ASC.
func (s *EntityStore) GetAll(ctx context.Context) ([]*domain.Entity, error) {
	query := `SELECT address, label, entity_type FROM entities ORDER BY address ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all entities: %w", err)
	}
	defer rows.Close()

	var entities []*domain.Entity
	for rows.Next() {
		var e domain.Entity
		if err := rows.Scan(&e.Address, &e.Label, &e.EntityType); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity rows: %w", err)
	}
	return entities, nil
}

// GetByAddress retrieves one entity by address. Returns ErrNotFound if not
// exists.
func (s *EntityStore) GetByAddress(ctx context.Context, address string) (*domain.Entity, error) {
	query := `SELECT address, label, entity_type FROM entities WHERE address = LOWER($1)`

	var e domain.Entity
	err := s.pool.QueryRow(ctx, query, address).Scan(&e.Address, &e.Label, &e.EntityType)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get entity by address: %w", err)
	}
	return &e, nil
}
