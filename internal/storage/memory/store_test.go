package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage"
)

func tsPtr(t time.Time) *time.Time { return &t }
func f64Ptr(v float64) *float64    { return &v }
func strPtr(s string) *string      { return &s }

func tx(hash, wallet, direction, from, to string, value float64, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		TxHash:        hash,
		WalletAddress: wallet,
		Direction:     strPtr(direction),
		FromAddress:   from,
		ToAddress:     to,
		ValueETH:      f64Ptr(value),
		Timestamp:     tsPtr(ts),
	}
}

func TestTransactionReplaceAllResetsDerivedTables(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.RiskMetrics().InsertBulk(ctx, []*domain.RiskMetric{
		{WalletAddress: "0xw1", AsOfDate: "2024-03-01"},
	}))
	require.NoError(t, store.DailyMetrics().InsertBulk(ctx, []*domain.DailyMetric{
		{MetricDate: "2024-03-01", MetricName: domain.MetricInflow, AssetSymbol: domain.AssetETH, Value: 1},
	}))
	require.NoError(t, store.Audit().InsertBulk(ctx, []*domain.AuditEntry{
		{WalletAddress: "0xw1", AsOfDate: "2024-03-01"},
	}))

	now := time.Now().UTC()
	err := store.Transactions().ReplaceAll(ctx, []*domain.Transaction{
		tx("0xa", "0xw1", domain.DirectionOut, "0xw1", "0xdex", 5, now),
	})
	require.NoError(t, err)

	txs, err := store.Transactions().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	_, err = store.RiskMetrics().LatestByWallet(ctx, "0xw1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	metrics, err := store.DailyMetrics().GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, metrics)

	// The audit log survives transaction reloads.
	assert.Len(t, store.Audit().Entries(), 1)
}

func TestTransactionReplaceAllRejectsInvalidInputIntact(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	require.NoError(t, store.Transactions().ReplaceAll(ctx, []*domain.Transaction{
		tx("0xold", "0xw1", domain.DirectionOut, "0xw1", "0xdex", 1, now),
	}))

	err := store.Transactions().ReplaceAll(ctx, []*domain.Transaction{
		tx("0xnew", "0xw1", domain.DirectionOut, "0xw1", "0xdex", 2, now),
		{WalletAddress: "0xw1"}, // missing hash
	})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	// Previous load is untouched after the failed replace.
	txs, err := store.Transactions().GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "0xold", txs[0].TxHash)
}

func TestEntityReplaceAllCascadesButKeepsAudit(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	require.NoError(t, store.Transactions().InsertBulk(ctx, []*domain.Transaction{
		tx("0xa", "0xw1", domain.DirectionOut, "0xw1", "0xdex", 5, now),
	}))
	require.NoError(t, store.RiskMetrics().InsertBulk(ctx, []*domain.RiskMetric{
		{WalletAddress: "0xw1", AsOfDate: "2024-03-01"},
	}))
	require.NoError(t, store.Audit().InsertBulk(ctx, []*domain.AuditEntry{
		{WalletAddress: "0xw1", AsOfDate: "2024-03-01"},
	}))

	err := store.Entities().ReplaceAll(ctx, []*domain.Entity{
		{Address: "0xW1", Label: "whale_0x1", EntityType: "whale"},
	})
	require.NoError(t, err)

	txs, err := store.Transactions().GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = store.RiskMetrics().LatestByWallet(ctx, "0xw1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Len(t, store.Audit().Entries(), 1)

	// Lookup is case-insensitive on the stored lowercase key.
	ent, err := store.Entities().GetByAddress(ctx, "0xw1")
	require.NoError(t, err)
	assert.Equal(t, "whale_0x1", ent.Label)
}

func TestWalletAggregatesWindowAndExclusions(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()
	since := now.Add(-30 * 24 * time.Hour)

	require.NoError(t, store.Entities().ReplaceAll(ctx, []*domain.Entity{
		{Address: "0xusdt", Label: "USDT", EntityType: "stablecoin"},
	}))
	require.NoError(t, store.Transactions().InsertBulk(ctx, []*domain.Transaction{
		tx("0xa", "0xw1", domain.DirectionOut, "0xw1", "0xdex", 10, now.Add(-time.Hour)),
		tx("0xb", "0xw1", domain.DirectionIn, "0xfriend", "0xw1", 30, now.Add(-2*time.Hour)),
		// Outside the window.
		tx("0xc", "0xw1", domain.DirectionOut, "0xw1", "0xdex", 100, now.Add(-40*24*time.Hour)),
		// Nil timestamp never lands in a window.
		{TxHash: "0xd", WalletAddress: "0xw1", Direction: strPtr(domain.DirectionOut), FromAddress: "0xw1", ToAddress: "0xdex", ValueETH: f64Ptr(7)},
		// Infrastructure wallet excluded from scoring.
		tx("0xe", "0xusdt", domain.DirectionOut, "0xusdt", "0xdex", 50, now.Add(-time.Hour)),
		// Valueless token row counts for tx_count but not for the average.
		{TxHash: "0xf", WalletAddress: "0xw1", Direction: strPtr(domain.DirectionOut), FromAddress: "0xw1", ToAddress: "0xdex", Timestamp: tsPtr(now.Add(-3 * time.Hour))},
	}))

	aggs, err := store.Transactions().WalletAggregates(ctx, since, domain.InfrastructureEntityTypes)
	require.NoError(t, err)
	require.Len(t, aggs, 1)

	agg := aggs[0]
	assert.Equal(t, "0xw1", agg.WalletAddress)
	assert.Equal(t, 3, agg.TxCount)
	assert.InDelta(t, 40.0, agg.Volume, 1e-9)
	assert.Equal(t, 2, agg.UniqueCounterparties)
	assert.InDelta(t, 20.0, agg.AvgTxSize, 1e-9)
}

func TestTopCounterpartiesOrdersByVolume(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()
	since := now.Add(-30 * 24 * time.Hour)

	require.NoError(t, store.Transactions().InsertBulk(ctx, []*domain.Transaction{
		tx("0xa", "0xw1", domain.DirectionOut, "0xw1", "0xdex", 100, now.Add(-time.Hour)),
		tx("0xb", "0xw1", domain.DirectionOut, "0xw1", "0xfriend", 1, now.Add(-time.Hour)),
		tx("0xc", "0xw1", domain.DirectionOut, "0xw1", "0xfriend", 1, now.Add(-time.Hour)),
		tx("0xd", "0xw1", domain.DirectionOut, "0xw1", "0xfriend", 1, now.Add(-time.Hour)),
	}))

	top, err := store.Transactions().TopCounterparties(ctx, "0xW1", since, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)

	// Higher volume wins even with fewer transactions.
	assert.Equal(t, "0xdex", top[0].Address)
	assert.Equal(t, 1, top[0].TxCount)
	assert.Equal(t, "0xfriend", top[1].Address)
	assert.Equal(t, 3, top[1].TxCount)
}

func TestLatestByWalletPicksNewestDate(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.RiskMetrics().InsertBulk(ctx, []*domain.RiskMetric{
		{WalletAddress: "0xw1", AsOfDate: "2024-03-01", RiskScore: 0.1},
		{WalletAddress: "0xw1", AsOfDate: "2024-03-15", RiskScore: 0.9},
		{WalletAddress: "0xw2", AsOfDate: "2024-03-20", RiskScore: 0.5},
	}))

	m, err := store.RiskMetrics().LatestByWallet(ctx, "0xW1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", m.AsOfDate)
	assert.Equal(t, 0.9, m.RiskScore)

	byDate, err := store.RiskMetrics().GetByDate(ctx, "2024-03-20")
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, "0xw2", byDate[0].WalletAddress)
}

func TestDailyMetricReplaceAllAndSortedGetAll(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.DailyMetrics().InsertBulk(ctx, []*domain.DailyMetric{
		{MetricDate: "2024-03-02", MetricName: domain.MetricInflow, AssetSymbol: domain.AssetETH, Value: 1},
	}))
	require.NoError(t, store.DailyMetrics().ReplaceAll(ctx, []*domain.DailyMetric{
		{MetricDate: "2024-03-05", MetricName: domain.MetricOutflow, AssetSymbol: domain.AssetETH, Value: 2},
		{MetricDate: "2024-03-04", MetricName: domain.MetricInflow, AssetSymbol: domain.AssetETH, Value: 3},
	}))

	metrics, err := store.DailyMetrics().GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "2024-03-04", metrics[0].MetricDate)
	assert.Equal(t, "2024-03-05", metrics[1].MetricDate)
}

func TestDailyMetricReplaceAllRejectsInvalidInputIntact(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.DailyMetrics().ReplaceAll(ctx, []*domain.DailyMetric{
		{MetricDate: "2024-03-02", MetricName: domain.MetricInflow, AssetSymbol: domain.AssetETH, Value: 1},
	}))

	err := store.DailyMetrics().ReplaceAll(ctx, []*domain.DailyMetric{
		{MetricDate: "2024-03-05", MetricName: domain.MetricOutflow, AssetSymbol: domain.AssetETH, Value: 2},
		{MetricDate: "2024-03-06"}, // missing metric name
	})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	// Previous set is untouched after the failed replace.
	metrics, err := store.DailyMetrics().GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, "2024-03-02", metrics[0].MetricDate)
	assert.Equal(t, domain.MetricInflow, metrics[0].MetricName)
}
