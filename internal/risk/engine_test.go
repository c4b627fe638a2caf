package risk

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage/memory"
)

func TestZScoresIdenticalCohort(t *testing.T) {
	z := zscores([]float64{5, 5, 5, 5})
	for _, v := range z {
		assert.Zero(t, v, "identical values must score exactly zero")
	}
}

func TestZScoresSingleWalletCohort(t *testing.T) {
	z := zscores([]float64{42})
	require.Len(t, z, 1)
	assert.Zero(t, z[0])
}

func TestZScoresCenteredAroundMean(t *testing.T) {
	z := zscores([]float64{1, 2, 3, 4, 5})

	var sum float64
	for _, v := range z {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-9, "z-scores sum to zero across the cohort")
	assert.True(t, z[0] < 0 && z[4] > 0)
}

func TestScoreCompositeWeights(t *testing.T) {
	aggs := []*domain.WalletAggregate{
		{WalletAddress: "0xa", TxCount: 10, Volume: 100},
		{WalletAddress: "0xb", TxCount: 20, Volume: 200},
		{WalletAddress: "0xc", TxCount: 30, Volume: 300},
	}

	metrics := Score(aggs, "2024-03-01")
	require.Len(t, metrics, 3)

	zCount := zscores([]float64{10, 20, 30})
	zVolume := zscores([]float64{100, 200, 300})
	for i, m := range metrics {
		assert.InDelta(t, 0.6*zVolume[i]+0.4*zCount[i], m.RiskScore, 1e-12)
	}
}

func TestScoreMonotonicInVolume(t *testing.T) {
	base := []*domain.WalletAggregate{
		{WalletAddress: "0xa", TxCount: 10, Volume: 100},
		{WalletAddress: "0xb", TxCount: 10, Volume: 100},
		{WalletAddress: "0xc", TxCount: 10, Volume: 100},
	}
	bumped := []*domain.WalletAggregate{
		{WalletAddress: "0xa", TxCount: 10, Volume: 100},
		{WalletAddress: "0xb", TxCount: 10, Volume: 100},
		{WalletAddress: "0xc", TxCount: 10, Volume: 500},
	}

	before := Score(base, "2024-03-01")
	after := Score(bumped, "2024-03-01")

	assert.Greater(t, after[2].RiskScore, before[2].RiskScore,
		"raising one wallet's volume raises its score")
	assert.Less(t, after[0].RiskScore, before[0].RiskScore,
		"the rest of the cohort shifts down relative to it")
}

func TestScoreDeterministic(t *testing.T) {
	aggs := []*domain.WalletAggregate{
		{WalletAddress: "0xa", TxCount: 3, Volume: 50, UniqueCounterparties: 2, ContractInteractions: 1},
		{WalletAddress: "0xb", TxCount: 9, Volume: 900, UniqueCounterparties: 7, ContractInteractions: 4},
	}

	first := Score(aggs, "2024-03-01")
	second := Score(aggs, "2024-03-01")
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, *first[i], *second[i])
	}
}

func TestScoreReasonsNeverNegative(t *testing.T) {
	aggs := []*domain.WalletAggregate{
		{WalletAddress: "0xa", TxCount: 1, Volume: 1, UniqueCounterparties: 1, ContractInteractions: 0},
		{WalletAddress: "0xb", TxCount: 100, Volume: 1000, UniqueCounterparties: 50, ContractInteractions: 30},
	}

	for _, m := range Score(aggs, "2024-03-01") {
		assert.GreaterOrEqual(t, m.ReasonVelocity, 0.0)
		assert.GreaterOrEqual(t, m.ReasonNewCounterparties, 0.0)
		assert.GreaterOrEqual(t, m.ReasonContractInteractions, 0.0)
	}
}

func TestTopReasons(t *testing.T) {
	tests := []struct {
		name   string
		metric domain.RiskMetric
		want   string
	}{
		{
			name:   "all positive ordered by score",
			metric: domain.RiskMetric{ReasonVelocity: 0.5, ReasonNewCounterparties: 2.0, ReasonContractInteractions: 1.0},
			want:   "new_counterparties,contract_interactions,velocity",
		},
		{
			name:   "zero components excluded",
			metric: domain.RiskMetric{ReasonVelocity: 1.2},
			want:   "velocity",
		},
		{
			name:   "no positive components",
			metric: domain.RiskMetric{},
			want:   "",
		},
		{
			name:   "ties keep declaration order",
			metric: domain.RiskMetric{ReasonVelocity: 1.0, ReasonNewCounterparties: 1.0, ReasonContractInteractions: 1.0},
			want:   "velocity,new_counterparties,contract_interactions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TopReasons(&tt.metric))
		})
	}
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
}

func TestScoreAllEmptyCohort(t *testing.T) {
	store := memory.NewStore()
	e := NewEngine(EngineOptions{
		TxStore:    store.Transactions(),
		RiskStore:  store.RiskMetrics(),
		AuditStore: store.Audit(),
		Now:        fixedNow,
	})

	metrics, err := e.ScoreAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, metrics)
	assert.Empty(t, store.Audit().Entries())
}

func TestScoreAllPersistsMetricsAndAudit(t *testing.T) {
	store := memory.NewStore()

	inWindow := fixedNow().AddDate(0, 0, -5)
	stale := fixedNow().AddDate(0, 0, -60)
	v1, v2 := 10.0, 500.0
	txs := []*domain.Transaction{
		{TxHash: "0x1", WalletAddress: "0xa", FromAddress: "0xa", ToAddress: "0xcp1", ValueETH: &v1, Timestamp: &inWindow},
		{TxHash: "0x2", WalletAddress: "0xb", FromAddress: "0xb", ToAddress: "0xcp2", ValueETH: &v2, Timestamp: &inWindow},
		{TxHash: "0x3", WalletAddress: "0xb", FromAddress: "0xb", ToAddress: "0xcp3", ValueETH: &v2, Timestamp: &stale},
	}
	require.NoError(t, store.Transactions().ReplaceAll(context.Background(), txs))

	e := NewEngine(EngineOptions{
		TxStore:    store.Transactions(),
		RiskStore:  store.RiskMetrics(),
		AuditStore: store.Audit(),
		Now:        fixedNow,
	})

	metrics, err := e.ScoreAll(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 2, "the stale row falls outside the 30-day window")

	for _, m := range metrics {
		assert.Equal(t, "2024-03-15", m.AsOfDate)
		assert.False(t, math.IsNaN(m.RiskScore))
	}

	latest, err := store.RiskMetrics().LatestByWallet(context.Background(), "0xb")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.TxCount30d)
	assert.InDelta(t, 500.0, latest.Volume30d, 1e-9)

	entries := store.Audit().Entries()
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, DefaultVersion, entry.PipelineVersion)
	}
}

func TestScoreAllExcludesInfrastructureEntities(t *testing.T) {
	store := memory.NewStore()
	entities := []*domain.Entity{
		{Address: "0xusdt", Label: "USDT", EntityType: domain.EntityTypeStablecoin},
		{Address: "0xwallet", Label: "wallet", EntityType: "whale"},
	}
	require.NoError(t, store.Entities().ReplaceAll(context.Background(), entities))

	ts := fixedNow().AddDate(0, 0, -1)
	v := 1.0
	txs := []*domain.Transaction{
		{TxHash: "0x1", WalletAddress: "0xusdt", FromAddress: "0xusdt", ToAddress: "0xcp", ValueETH: &v, Timestamp: &ts},
		{TxHash: "0x2", WalletAddress: "0xwallet", FromAddress: "0xwallet", ToAddress: "0xcp", ValueETH: &v, Timestamp: &ts},
	}
	require.NoError(t, store.Transactions().ReplaceAll(context.Background(), txs))

	e := NewEngine(EngineOptions{
		TxStore:    store.Transactions(),
		RiskStore:  store.RiskMetrics(),
		AuditStore: store.Audit(),
		Now:        fixedNow,
	})

	metrics, err := e.ScoreAll(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, "0xwallet", metrics[0].WalletAddress)
}

func TestTopWalletsRanksByScore(t *testing.T) {
	metrics := []*domain.RiskMetric{
		{WalletAddress: "0xlow", RiskScore: -0.5},
		{WalletAddress: "0xhot", RiskScore: 1.8},
		{WalletAddress: "0xmid", RiskScore: 0.3},
		{WalletAddress: "0xtie-b", RiskScore: 0.3},
	}

	top := TopWallets(metrics, 3)
	require.Len(t, top, 3)
	assert.Equal(t, "0xhot", top[0].WalletAddress)
	// Equal scores rank by address.
	assert.Equal(t, "0xmid", top[1].WalletAddress)
	assert.Equal(t, "0xtie-b", top[2].WalletAddress)

	// The input order is untouched.
	assert.Equal(t, "0xlow", metrics[0].WalletAddress)

	all := TopWallets(metrics, 0)
	assert.Len(t, all, 4)
	assert.Equal(t, "0xlow", all[3].WalletAddress)
}
