package domain

// Daily metric names emitted by the aggregator.
const (
	MetricInflow  = "inflow"
	MetricOutflow = "outflow"
	MetricNetFlow = "net_flow"

	MetricLargeTxCount  = "large_tx_count"
	MetricLargeTxVolume = "large_tx_volume"

	MetricTokensMinted         = "tokens_minted"
	MetricTokensBurned         = "tokens_burned"
	MetricExchangeNetFlow      = "exchange_net_flow"
	MetricTransferCount        = "transfer_count"
	MetricTransferCountAvg7d   = "transfer_count_avg_7d"
	MetricTransferCountDelta7d = "transfer_count_delta_7d"

	MetricExchangeDeposits    = "exchange_deposits"
	MetricExchangeWithdrawals = "exchange_withdrawals"
)

// AssetETH is the asset symbol for native-value metrics.
const AssetETH = "ETH"

// DailyMetric is one flow/volume/count fact per
// (date, metric_name, entity_type, entity_label, asset_symbol) tuple.
// Corresponds to the daily_metrics table. Append-only.
type DailyMetric struct {
	MetricDate  string // YYYY-MM-DD
	MetricName  string
	EntityType  *string // nil for network-level metrics
	EntityLabel *string
	AssetSymbol string
	Value       float64
}
