package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

const insertTransactionQuery = `
	INSERT INTO transactions (
		tx_hash, wallet_address, direction, from_address, to_address,
		value_eth, token_symbol, token_value, block_number, timestamp,
		is_contract_interaction
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const selectTransactionColumns = `
	tx_hash, wallet_address, direction, from_address, to_address,
	value_eth, token_symbol, token_value, block_number, timestamp,
	is_contract_interaction
`

// counterpartyExpr resolves the non-subject side of a transfer in SQL,
// matching domain.Transaction.Counterparty.
const counterpartyExpr = `
	CASE
		WHEN direction = 'out' THEN to_address
		WHEN direction = 'in' THEN from_address
		ELSE to_address
	END
`

// ReplaceAll resets transactions plus the derived risk_metrics and
// daily_metrics tables, then loads txs, all in one transaction. A failure at
// any point rolls the whole reset+load back.
func (s *TransactionStore) ReplaceAll(ctx context.Context, txs []*domain.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"risk_metrics", "daily_metrics", "transactions"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}

	if err := insertTransactions(ctx, tx, txs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InsertBulk appends transactions atomically without resetting anything.
func (s *TransactionStore) InsertBulk(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertTransactions(ctx, tx, txs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// insertTransactions loads rows in chunked batches inside the caller's
// transaction.
func insertTransactions(ctx context.Context, tx pgx.Tx, txs []*domain.Transaction) error {
	for _, chunk := range chunked(txs) {
		batch := &pgx.Batch{}
		for _, t := range chunk {
			batch.Queue(insertTransactionQuery,
				t.TxHash,
				t.WalletAddress,
				t.Direction,
				t.FromAddress,
				t.ToAddress,
				t.ValueETH,
				t.TokenSymbol,
				t.TokenValue,
				t.BlockNumber,
				t.Timestamp,
				t.IsContractInteraction.NullableBool(),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
	}
	return nil
}

// GetAll retrieves all transactions.
func (s *TransactionStore) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM transactions ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetByWallet retrieves all transactions ingested for a wallet.
func (s *TransactionStore) GetByWallet(ctx context.Context, wallet string) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + selectTransactionColumns + `
		FROM transactions
		WHERE wallet_address = LOWER($1)
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("get transactions by wallet: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// WalletAggregates computes per-wallet scoring features over the window.
// NULL timestamps fail the window comparison and are excluded, and the
// average is taken over valued rows only, valueless token rows are skipped.
func (s *TransactionStore) WalletAggregates(ctx context.Context, since time.Time, excludedTypes []string) ([]*domain.WalletAggregate, error) {
	query := `
		SELECT
			t.wallet_address,
			COUNT(*) AS tx_count,
			COALESCE(SUM(t.value_eth), 0) AS volume,
			COUNT(DISTINCT NULLIF(` + counterpartyExpr + `, '')) AS unique_counterparties,
			COUNT(*) FILTER (WHERE t.is_contract_interaction IS TRUE) AS contract_interactions,
			COALESCE(AVG(t.value_eth), 0) AS avg_tx_size
		FROM transactions t
		LEFT JOIN entities e ON e.address = t.wallet_address
		WHERE t.timestamp >= $1
		  AND (e.entity_type IS NULL OR NOT (e.entity_type = ANY($2)))
		GROUP BY t.wallet_address
		ORDER BY t.wallet_address ASC
	`

	rows, err := s.pool.Query(ctx, query, since, excludedTypes)
	if err != nil {
		return nil, fmt.Errorf("wallet aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []*domain.WalletAggregate
	for rows.Next() {
		var a domain.WalletAggregate
		if err := rows.Scan(
			&a.WalletAddress,
			&a.TxCount,
			&a.Volume,
			&a.UniqueCounterparties,
			&a.ContractInteractions,
			&a.AvgTxSize,
		); err != nil {
			return nil, fmt.Errorf("scan wallet aggregate row: %w", err)
		}
		aggs = append(aggs, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet aggregate rows: %w", err)
	}
	return aggs, nil
}

// TopCounterparties retrieves the wallet's most active counterparties.
func (s *TransactionStore) TopCounterparties(ctx context.Context, wallet string, since time.Time, limit int) ([]*domain.CounterpartySummary, error) {
	query := `
		SELECT counterparty, COUNT(*) AS tx_count, COALESCE(SUM(value_eth), 0) AS volume
		FROM (
			SELECT ` + counterpartyExpr + ` AS counterparty, value_eth
			FROM transactions
			WHERE wallet_address = LOWER($1) AND timestamp >= $2
		) c
		WHERE counterparty <> ''
		GROUP BY counterparty
		ORDER BY volume DESC, tx_count DESC, counterparty ASC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, wallet, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top counterparties: %w", err)
	}
	defer rows.Close()

	var sums []*domain.CounterpartySummary
	for rows.Next() {
		var c domain.CounterpartySummary
		if err := rows.Scan(&c.Address, &c.TxCount, &c.VolumeETH); err != nil {
			return nil, fmt.Errorf("scan counterparty row: %w", err)
		}
		sums = append(sums, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counterparty rows: %w", err)
	}
	return sums, nil
}

// LargestTransfers retrieves the wallet's largest native transfers.
func (s *TransactionStore) LargestTransfers(ctx context.Context, wallet string, since time.Time, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + selectTransactionColumns + `
		FROM transactions
		WHERE wallet_address = LOWER($1) AND timestamp >= $2 AND value_eth IS NOT NULL
		ORDER BY value_eth DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, wallet, since, limit)
	if err != nil {
		return nil, fmt.Errorf("largest transfers: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ContractInteractions retrieves the wallet's contract-flagged transfers,
// newest first.
func (s *TransactionStore) ContractInteractions(ctx context.Context, wallet string, since time.Time, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + selectTransactionColumns + `
		FROM transactions
		WHERE wallet_address = LOWER($1) AND timestamp >= $2
		  AND is_contract_interaction IS TRUE
		ORDER BY timestamp DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, wallet, since, limit)
	if err != nil {
		return nil, fmt.Errorf("contract interactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// scanTransactions scans multiple rows into a slice of Transaction.
func scanTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction

	for rows.Next() {
		var (
			t          domain.Transaction
			isContract *bool
		)

		err := rows.Scan(
			&t.TxHash,
			&t.WalletAddress,
			&t.Direction,
			&t.FromAddress,
			&t.ToAddress,
			&t.ValueETH,
			&t.TokenSymbol,
			&t.TokenValue,
			&t.BlockNumber,
			&t.Timestamp,
			&isContract,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		t.IsContractInteraction = domain.FlagFromNullableBool(isContract)

		txs = append(txs, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return txs, nil
}
