// Package memory provides an in-memory storage backend for tests and dry
// runs. All tables live behind one Store and one mutex because the
// reset-then-load and entity-reload cascades span tables; the per-table
// store types are thin views satisfying the storage interfaces.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage"
)

// Compile-time interface checks.
var (
	_ storage.EntityStore      = (*EntityStore)(nil)
	_ storage.TransactionStore = (*TransactionStore)(nil)
	_ storage.RiskMetricStore  = (*RiskMetricStore)(nil)
	_ storage.AuditStore       = (*AuditStore)(nil)
	_ storage.DailyMetricStore = (*DailyMetricStore)(nil)
)

// Store holds every table of the in-memory backend.
type Store struct {
	mu           sync.RWMutex
	entities     map[string]domain.Entity // keyed by lowercase address
	transactions []domain.Transaction
	riskMetrics  []domain.RiskMetric
	auditEntries []domain.AuditEntry
	dailyMetrics []domain.DailyMetric
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{entities: make(map[string]domain.Entity)}
}

// Entities returns the EntityStore view.
func (s *Store) Entities() *EntityStore { return &EntityStore{s: s} }

// Transactions returns the TransactionStore view.
func (s *Store) Transactions() *TransactionStore { return &TransactionStore{s: s} }

// RiskMetrics returns the RiskMetricStore view.
func (s *Store) RiskMetrics() *RiskMetricStore { return &RiskMetricStore{s: s} }

// Audit returns the AuditStore view.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

// DailyMetrics returns the DailyMetricStore view.
func (s *Store) DailyMetrics() *DailyMetricStore { return &DailyMetricStore{s: s} }

// EntityStore is the entities view of a Store.
type EntityStore struct{ s *Store }

// ReplaceAll swaps the entity list and resets the derived tables
// (transactions, risk_metrics, daily_metrics). audit_table is preserved.
func (e *EntityStore) ReplaceAll(ctx context.Context, entities []*domain.Entity) error {
	for i, ent := range entities {
		if ent == nil || ent.Address == "" {
			return fmt.Errorf("%w: entity %d has no address", storage.ErrInvalidInput, i)
		}
	}

	e.s.mu.Lock()
	defer e.s.mu.Unlock()

	e.s.entities = make(map[string]domain.Entity, len(entities))
	for _, ent := range entities {
		e.s.entities[strings.ToLower(ent.Address)] = *ent
	}
	e.s.transactions = nil
	e.s.riskMetrics = nil
	e.s.dailyMetrics = nil
	return nil
}

func (e *EntityStore) GetAll(ctx context.Context) ([]*domain.Entity, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()

	out := make([]*domain.Entity, 0, len(e.s.entities))
	for _, ent := range e.s.entities {
		c := ent
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (e *EntityStore) GetByAddress(ctx context.Context, address string) (*domain.Entity, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()

	ent, ok := e.s.entities[strings.ToLower(address)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := ent
	return &c, nil
}

// TransactionStore is the transactions view of a Store.
type TransactionStore struct{ s *Store }

// ReplaceAll resets transactions, risk_metrics and daily_metrics, then loads
// txs. Input is validated up front so a failing load leaves the previous
// state fully intact.
func (t *TransactionStore) ReplaceAll(ctx context.Context, txs []*domain.Transaction) error {
	if err := validateTransactions(txs); err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	t.s.transactions = make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		t.s.transactions = append(t.s.transactions, *tx)
	}
	t.s.riskMetrics = nil
	t.s.dailyMetrics = nil
	return nil
}

func (t *TransactionStore) InsertBulk(ctx context.Context, txs []*domain.Transaction) error {
	if err := validateTransactions(txs); err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for _, tx := range txs {
		t.s.transactions = append(t.s.transactions, *tx)
	}
	return nil
}

func (t *TransactionStore) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	out := make([]*domain.Transaction, 0, len(t.s.transactions))
	for i := range t.s.transactions {
		c := t.s.transactions[i]
		out = append(out, &c)
	}
	return out, nil
}

func (t *TransactionStore) GetByWallet(ctx context.Context, wallet string) ([]*domain.Transaction, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	wallet = strings.ToLower(wallet)
	var out []*domain.Transaction
	for i := range t.s.transactions {
		if t.s.transactions[i].WalletAddress == wallet {
			c := t.s.transactions[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// WalletAggregates mirrors the SQL aggregation: rows with a nil timestamp
// fall outside every window, the same way NULL timestamps fail the
// comparison in the postgres backend.
func (t *TransactionStore) WalletAggregates(ctx context.Context, since time.Time, excludedTypes []string) ([]*domain.WalletAggregate, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	excluded := make(map[string]struct{}, len(excludedTypes))
	for _, et := range excludedTypes {
		excluded[et] = struct{}{}
	}

	type acc struct {
		txCount        int
		valued         int
		volume         float64
		counterparties map[string]struct{}
		contracts      int
	}
	byWallet := make(map[string]*acc)

	for i := range t.s.transactions {
		tx := &t.s.transactions[i]
		if tx.Timestamp == nil || tx.Timestamp.Before(since) {
			continue
		}
		if ent, ok := t.s.entities[tx.WalletAddress]; ok {
			if _, skip := excluded[ent.EntityType]; skip {
				continue
			}
		}

		a := byWallet[tx.WalletAddress]
		if a == nil {
			a = &acc{counterparties: make(map[string]struct{})}
			byWallet[tx.WalletAddress] = a
		}
		a.txCount++
		if tx.ValueETH != nil {
			a.valued++
			a.volume += *tx.ValueETH
		}
		if cp := tx.Counterparty(); cp != "" {
			a.counterparties[cp] = struct{}{}
		}
		if tx.IsContractInteraction == domain.ContractYes {
			a.contracts++
		}
	}

	out := make([]*domain.WalletAggregate, 0, len(byWallet))
	for wallet, a := range byWallet {
		agg := &domain.WalletAggregate{
			WalletAddress:        wallet,
			TxCount:              a.txCount,
			Volume:               a.volume,
			UniqueCounterparties: len(a.counterparties),
			ContractInteractions: a.contracts,
		}
		// Average over valued rows only, matching SQL AVG over a NULLable
		// column.
		if a.valued > 0 {
			agg.AvgTxSize = a.volume / float64(a.valued)
		}
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletAddress < out[j].WalletAddress })
	return out, nil
}

func (t *TransactionStore) TopCounterparties(ctx context.Context, wallet string, since time.Time, limit int) ([]*domain.CounterpartySummary, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	wallet = strings.ToLower(wallet)
	byAddr := make(map[string]*domain.CounterpartySummary)
	for i := range t.s.transactions {
		tx := &t.s.transactions[i]
		if tx.WalletAddress != wallet || tx.Timestamp == nil || tx.Timestamp.Before(since) {
			continue
		}
		cp := tx.Counterparty()
		if cp == "" {
			continue
		}
		sum := byAddr[cp]
		if sum == nil {
			sum = &domain.CounterpartySummary{Address: cp}
			byAddr[cp] = sum
		}
		sum.TxCount++
		if tx.ValueETH != nil {
			sum.VolumeETH += *tx.ValueETH
		}
	}

	out := make([]*domain.CounterpartySummary, 0, len(byAddr))
	for _, sum := range byAddr {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VolumeETH != out[j].VolumeETH {
			return out[i].VolumeETH > out[j].VolumeETH
		}
		if out[i].TxCount != out[j].TxCount {
			return out[i].TxCount > out[j].TxCount
		}
		return out[i].Address < out[j].Address
	})
	return clampLimit(out, limit), nil
}

func (t *TransactionStore) LargestTransfers(ctx context.Context, wallet string, since time.Time, limit int) ([]*domain.Transaction, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	wallet = strings.ToLower(wallet)
	var out []*domain.Transaction
	for i := range t.s.transactions {
		tx := t.s.transactions[i]
		if tx.WalletAddress != wallet || tx.Timestamp == nil || tx.Timestamp.Before(since) || tx.ValueETH == nil {
			continue
		}
		c := tx
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].ValueETH > *out[j].ValueETH })
	return clampLimit(out, limit), nil
}

func (t *TransactionStore) ContractInteractions(ctx context.Context, wallet string, since time.Time, limit int) ([]*domain.Transaction, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	wallet = strings.ToLower(wallet)
	var out []*domain.Transaction
	for i := range t.s.transactions {
		tx := t.s.transactions[i]
		if tx.WalletAddress != wallet || tx.Timestamp == nil || tx.Timestamp.Before(since) {
			continue
		}
		if tx.IsContractInteraction != domain.ContractYes {
			continue
		}
		c := tx
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(*out[j].Timestamp) })
	return clampLimit(out, limit), nil
}

// RiskMetricStore is the risk_metrics view of a Store.
type RiskMetricStore struct{ s *Store }

func (r *RiskMetricStore) InsertBulk(ctx context.Context, metrics []*domain.RiskMetric) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i, m := range metrics {
		if m == nil || m.WalletAddress == "" {
			return fmt.Errorf("%w: risk metric %d has no wallet address", storage.ErrInvalidInput, i)
		}
		r.s.riskMetrics = append(r.s.riskMetrics, *m)
	}
	return nil
}

func (r *RiskMetricStore) LatestByWallet(ctx context.Context, wallet string) (*domain.RiskMetric, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *domain.RiskMetric
	for i := range r.s.riskMetrics {
		m := &r.s.riskMetrics[i]
		if !strings.EqualFold(m.WalletAddress, wallet) {
			continue
		}
		if latest == nil || m.AsOfDate >= latest.AsOfDate {
			latest = m
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (r *RiskMetricStore) GetByDate(ctx context.Context, asOfDate string) ([]*domain.RiskMetric, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.RiskMetric
	for i := range r.s.riskMetrics {
		if r.s.riskMetrics[i].AsOfDate == asOfDate {
			c := r.s.riskMetrics[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// AuditStore is the audit_table view of a Store.
type AuditStore struct{ s *Store }

func (a *AuditStore) InsertBulk(ctx context.Context, entries []*domain.AuditEntry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	for i, e := range entries {
		if e == nil || e.WalletAddress == "" {
			return fmt.Errorf("%w: audit entry %d has no wallet address", storage.ErrInvalidInput, i)
		}
		a.s.auditEntries = append(a.s.auditEntries, *e)
	}
	return nil
}

// Entries exposes the audit log for tests.
func (a *AuditStore) Entries() []domain.AuditEntry {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return append([]domain.AuditEntry(nil), a.s.auditEntries...)
}

// DailyMetricStore is the daily_metrics view of a Store.
type DailyMetricStore struct{ s *Store }

func (d *DailyMetricStore) InsertBulk(ctx context.Context, metrics []*domain.DailyMetric) error {
	if err := validateDailyMetrics(metrics); err != nil {
		return err
	}

	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	for _, m := range metrics {
		d.s.dailyMetrics = append(d.s.dailyMetrics, *m)
	}
	return nil
}

// ReplaceAll resets daily_metrics, then loads metrics. Input is validated up
// front so a failing load leaves the previous set fully intact.
func (d *DailyMetricStore) ReplaceAll(ctx context.Context, metrics []*domain.DailyMetric) error {
	if err := validateDailyMetrics(metrics); err != nil {
		return err
	}

	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	d.s.dailyMetrics = make([]domain.DailyMetric, 0, len(metrics))
	for _, m := range metrics {
		d.s.dailyMetrics = append(d.s.dailyMetrics, *m)
	}
	return nil
}

func (d *DailyMetricStore) GetAll(ctx context.Context) ([]*domain.DailyMetric, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	out := make([]*domain.DailyMetric, 0, len(d.s.dailyMetrics))
	for i := range d.s.dailyMetrics {
		c := d.s.dailyMetrics[i]
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MetricDate != b.MetricDate {
			return a.MetricDate < b.MetricDate
		}
		if a.MetricName != b.MetricName {
			return a.MetricName < b.MetricName
		}
		if al, bl := deref(a.EntityLabel), deref(b.EntityLabel); al != bl {
			return al < bl
		}
		return a.AssetSymbol < b.AssetSymbol
	})
	return out, nil
}

func validateTransactions(txs []*domain.Transaction) error {
	for i, tx := range txs {
		if tx == nil || tx.TxHash == "" {
			return fmt.Errorf("%w: transaction %d has no hash", storage.ErrInvalidInput, i)
		}
	}
	return nil
}

func validateDailyMetrics(metrics []*domain.DailyMetric) error {
	for i, m := range metrics {
		if m == nil || m.MetricName == "" {
			return fmt.Errorf("%w: daily metric %d has no metric name", storage.ErrInvalidInput, i)
		}
	}
	return nil
}

func clampLimit[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
