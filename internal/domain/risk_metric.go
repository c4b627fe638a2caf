package domain

// RiskMetric is one scored snapshot per wallet per scoring run.
// Corresponds to the risk_metrics table. Append-only: re-running the scorer
// on the same day appends another row.
type RiskMetric struct {
	WalletAddress           string
	AsOfDate                string // YYYY-MM-DD
	TxCount30d              int
	Volume30d               float64
	UniqueCounterparties30d int
	ContractInteractions30d int
	AvgTxSize               float64
	RiskScore               float64

	// Non-negative reason components for explainability.
	ReasonVelocity             float64
	ReasonNewCounterparties    float64
	ReasonContractInteractions float64
}

// AuditEntry is the immutable lineage record emitted alongside each
// RiskMetric. Corresponds to the audit_table table.
type AuditEntry struct {
	WalletAddress   string
	AsOfDate        string
	RiskScore       float64
	TopReasons      string // comma-joined, highest first, max 3, positive only
	PipelineVersion string
}

// WalletAggregate is the 30-day windowed input to the scoring engine,
// one row per eligible wallet.
type WalletAggregate struct {
	WalletAddress        string
	TxCount              int
	Volume               float64
	UniqueCounterparties int
	ContractInteractions int
	AvgTxSize            float64
}

// CounterpartySummary is a per-counterparty rollup used by case reports.
type CounterpartySummary struct {
	Address   string
	TxCount   int
	VolumeETH float64
}
