package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/storage/memory"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
}

func TestGenerateWithoutMetrics(t *testing.T) {
	store := memory.NewStore()
	g := NewGenerator(GeneratorOptions{
		RiskStore: store.RiskMetrics(),
		TxStore:   store.Transactions(),
		Now:       fixedNow,
	})

	out, err := g.Generate(context.Background(), "0xWALLET")
	require.NoError(t, err)

	assert.Contains(t, out, "# Case Report: 0xwallet")
	assert.Contains(t, out, "No risk metrics available")
	assert.Equal(t, 3, strings.Count(out, "- None found."))
}

func TestGenerateFullReport(t *testing.T) {
	store := memory.NewStore()

	metric := &domain.RiskMetric{
		WalletAddress:           "0xwallet",
		AsOfDate:                "2024-03-15",
		TxCount30d:              3,
		Volume30d:               502.0,
		UniqueCounterparties30d: 2,
		ContractInteractions30d: 1,
		AvgTxSize:               167.3333,
		RiskScore:               1.25,
		ReasonVelocity:          0.8,
	}
	require.NoError(t, store.RiskMetrics().InsertBulk(context.Background(), []*domain.RiskMetric{metric}))

	ts := fixedNow().AddDate(0, 0, -3)
	out500, out1 := 500.0, 1.0
	dirOut := domain.DirectionOut
	txs := []*domain.Transaction{
		{
			TxHash: "0xbig", WalletAddress: "0xwallet", Direction: &dirOut,
			FromAddress: "0xwallet", ToAddress: "0xdex",
			ValueETH: &out500, Timestamp: &ts,
			IsContractInteraction: domain.ContractYes,
		},
		{
			TxHash: "0xsmall", WalletAddress: "0xwallet", Direction: &dirOut,
			FromAddress: "0xwallet", ToAddress: "0xfriend",
			ValueETH: &out1, Timestamp: &ts,
		},
	}
	require.NoError(t, store.Transactions().InsertBulk(context.Background(), txs))

	g := NewGenerator(GeneratorOptions{
		RiskStore: store.RiskMetrics(),
		TxStore:   store.Transactions(),
		Now:       fixedNow,
	})

	out, err := g.Generate(context.Background(), "0xwallet")
	require.NoError(t, err)

	assert.Contains(t, out, "- Risk score: 1.2500")
	assert.Contains(t, out, "- Top reasons: velocity")
	assert.Contains(t, out, "| 0xdex | 1 | 500.0000 |")
	assert.Contains(t, out, "| 0xfriend |")
	assert.Contains(t, out, "0xbig")
	assert.NotContains(t, out, "None found.", "every section has evidence")

	// Counterparties are ordered by volume.
	assert.Less(t, strings.Index(out, "| 0xdex |"), strings.Index(out, "| 0xfriend |"))
}

func TestWriteFileDefaultPath(t *testing.T) {
	store := memory.NewStore()
	g := NewGenerator(GeneratorOptions{
		RiskStore: store.RiskMetrics(),
		TxStore:   store.Transactions(),
		Now:       fixedNow,
	})

	dir := t.TempDir()
	path, err := g.WriteFile(context.Background(), "0xABCDEF1234567890", dir+"/case.md")
	require.NoError(t, err)
	assert.Equal(t, dir+"/case.md", path)
}
