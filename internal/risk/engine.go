// Package risk derives per-wallet anomaly scores from 30-day windowed
// aggregates, with reason attribution for each score.
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/observability"
	"onchain-risk/internal/storage"
)

// Fixed policy constants, not configuration.
const (
	windowDays   = 30
	weightVolume = 0.6
	weightCount  = 0.4
)

// DefaultVersion tags risk metrics and audit entries with the scoring
// pipeline revision.
const DefaultVersion = "v1.1"

// Reason labels recorded in audit top_reasons.
const (
	ReasonVelocity             = "velocity"
	ReasonNewCounterparties    = "new_counterparties"
	ReasonContractInteractions = "contract_interactions"
)

// Engine scores behavioral wallets and persists metric plus audit rows.
type Engine struct {
	txStore    storage.TransactionStore
	riskStore  storage.RiskMetricStore
	auditStore storage.AuditStore
	version    string
	logger     *zap.Logger
	now        func() time.Time
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	TxStore    storage.TransactionStore
	RiskStore  storage.RiskMetricStore
	AuditStore storage.AuditStore
	Version    string // defaults to DefaultVersion
	Logger     *zap.Logger
	Now        func() time.Time // defaults to time.Now, injectable for tests
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions) *Engine {
	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		txStore:    opts.TxStore,
		riskStore:  opts.RiskStore,
		auditStore: opts.AuditStore,
		version:    version,
		logger:     logger,
		now:        now,
	}
}

// ScoreAll aggregates the trailing 30-day window per wallet, excluding
// infrastructure-typed entities, scores the cohort and persists one
// RiskMetric and one AuditEntry per wallet. An empty cohort is not an
// error: it returns no rows and writes nothing.
func (e *Engine) ScoreAll(ctx context.Context) ([]*domain.RiskMetric, error) {
	now := e.now().UTC()
	since := now.AddDate(0, 0, -windowDays)

	aggs, err := e.txStore.WalletAggregates(ctx, since, domain.InfrastructureEntityTypes)
	if err != nil {
		return nil, fmt.Errorf("wallet aggregates: %w", err)
	}
	if len(aggs) == 0 {
		e.logger.Info("no eligible wallets to score")
		return nil, nil
	}

	asOfDate := now.Format("2006-01-02")
	metrics := Score(aggs, asOfDate)

	if err := e.riskStore.InsertBulk(ctx, metrics); err != nil {
		return nil, fmt.Errorf("persist risk metrics: %w", err)
	}

	entries := make([]*domain.AuditEntry, 0, len(metrics))
	for _, m := range metrics {
		entries = append(entries, &domain.AuditEntry{
			WalletAddress:   m.WalletAddress,
			AsOfDate:        m.AsOfDate,
			RiskScore:       m.RiskScore,
			TopReasons:      TopReasons(m),
			PipelineVersion: e.version,
		})
	}
	if err := e.auditStore.InsertBulk(ctx, entries); err != nil {
		return nil, fmt.Errorf("persist audit entries: %w", err)
	}

	observability.RecordScoringRun(len(metrics))
	e.logger.Info("scoring run complete",
		zap.String("as_of_date", asOfDate),
		zap.Int("wallets", len(metrics)))
	return metrics, nil
}

// Score computes risk metrics for a cohort of wallet aggregates.
// Deterministic given identical input: features are standardized by
// population z-score across the cohort, and the composite is
// 0.6*z(volume) + 0.4*z(txCount). Reason components are the clipped
// z-scores, never negative.
func Score(aggs []*domain.WalletAggregate, asOfDate string) []*domain.RiskMetric {
	txCounts := make([]float64, len(aggs))
	volumes := make([]float64, len(aggs))
	counterparties := make([]float64, len(aggs))
	contracts := make([]float64, len(aggs))
	for i, a := range aggs {
		txCounts[i] = float64(a.TxCount)
		volumes[i] = a.Volume
		counterparties[i] = float64(a.UniqueCounterparties)
		contracts[i] = float64(a.ContractInteractions)
	}

	zCount := zscores(txCounts)
	zVolume := zscores(volumes)
	zCounterparties := zscores(counterparties)
	zContracts := zscores(contracts)

	metrics := make([]*domain.RiskMetric, 0, len(aggs))
	for i, a := range aggs {
		metrics = append(metrics, &domain.RiskMetric{
			WalletAddress:              a.WalletAddress,
			AsOfDate:                   asOfDate,
			TxCount30d:                 a.TxCount,
			Volume30d:                  a.Volume,
			UniqueCounterparties30d:    a.UniqueCounterparties,
			ContractInteractions30d:    a.ContractInteractions,
			AvgTxSize:                  a.AvgTxSize,
			RiskScore:                  weightVolume*zVolume[i] + weightCount*zCount[i],
			ReasonVelocity:             math.Max(0, zCount[i]),
			ReasonNewCounterparties:    math.Max(0, zCounterparties[i]),
			ReasonContractInteractions: math.Max(0, zContracts[i]),
		})
	}
	return metrics
}

// TopReasons joins the positive reason components, highest first, at most
// three. Equal components keep the velocity, new_counterparties,
// contract_interactions order.
func TopReasons(m *domain.RiskMetric) string {
	type reason struct {
		name  string
		score float64
	}
	reasons := []reason{
		{ReasonVelocity, m.ReasonVelocity},
		{ReasonNewCounterparties, m.ReasonNewCounterparties},
		{ReasonContractInteractions, m.ReasonContractInteractions},
	}

	var positive []reason
	for _, r := range reasons {
		if r.score > 0 {
			positive = append(positive, r)
		}
	}
	sort.SliceStable(positive, func(i, j int) bool { return positive[i].score > positive[j].score })
	if len(positive) > 3 {
		positive = positive[:3]
	}

	names := make([]string, 0, len(positive))
	for _, r := range positive {
		names = append(names, r.name)
	}
	return strings.Join(names, ",")
}

// TopWallets ranks metrics by risk score descending, wallet address as the
// tiebreak, and returns at most n entries. n <= 0 returns the full ranking.
func TopWallets(metrics []*domain.RiskMetric, n int) []*domain.RiskMetric {
	ranked := append([]*domain.RiskMetric(nil), metrics...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RiskScore != ranked[j].RiskScore {
			return ranked[i].RiskScore > ranked[j].RiskScore
		}
		return ranked[i].WalletAddress < ranked[j].WalletAddress
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// zscores standardizes values by population z-score. A zero or undefined
// standard deviation (identical values, cohort of one) yields zero for
// every member rather than dividing by zero.
func zscores(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(len(values)))
	if std == 0 {
		return out
	}

	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}
