// Package dailymetric computes entity-level and network-level flow metrics
// from the persisted transaction set.
package dailymetric

import (
	"sort"
	"strings"

	"onchain-risk/internal/domain"
)

// trailingWindow is the row count for the transfer-count trailing average.
const trailingWindow = 7

// minPriorObservations gates the trailing average: a leading day with fewer
// prior rows yields no avg/delta metrics.
const minPriorObservations = 2

const dateLayout = "2006-01-02"

type metricKey struct {
	date       string
	entityType string
	label      string
	symbol     string
}

// Compute derives the full daily metric set from transactions and the known
// entity list. Pure function; rows with a nil timestamp have no date and are
// skipped. Output is deterministically ordered by (date, metric, label,
// symbol).
func Compute(txs []*domain.Transaction, entities []*domain.Entity, largeTxThreshold float64) []*domain.DailyMetric {
	entityByAddr := make(map[string]*domain.Entity, len(entities))
	exchangeAddrs := make(map[string]bool)
	for _, e := range entities {
		addr := strings.ToLower(e.Address)
		entityByAddr[addr] = e
		if e.IsExchange() {
			exchangeAddrs[addr] = true
		}
	}

	var rows []*domain.DailyMetric
	rows = append(rows, entityFlows(txs, entityByAddr)...)
	rows = append(rows, largeTxMetrics(txs, largeTxThreshold)...)
	rows = append(rows, tokenMetrics(txs, entityByAddr, exchangeAddrs)...)
	rows = append(rows, exchangeFlows(txs, exchangeAddrs, entityByAddr)...)

	sortMetrics(rows)
	return rows
}

// entityFlows sums native inflow/outflow/net per (date, entity_type,
// entity_label) wherever either side of a transfer matches a known entity.
func entityFlows(txs []*domain.Transaction, entityByAddr map[string]*domain.Entity) []*domain.DailyMetric {
	type flow struct {
		in  float64
		out float64
	}
	flows := make(map[metricKey]*flow)

	accumulate := func(e *domain.Entity, date string, inflow, outflow float64) {
		k := metricKey{date: date, entityType: e.EntityType, label: e.Label}
		f := flows[k]
		if f == nil {
			f = &flow{}
			flows[k] = f
		}
		f.in += inflow
		f.out += outflow
	}

	for _, tx := range txs {
		if tx.Timestamp == nil || tx.ValueETH == nil {
			continue
		}
		date := tx.Timestamp.UTC().Format(dateLayout)
		v := *tx.ValueETH

		if e := entityByAddr[strings.ToLower(tx.ToAddress)]; e != nil {
			accumulate(e, date, v, 0)
		}
		if e := entityByAddr[strings.ToLower(tx.FromAddress)]; e != nil {
			accumulate(e, date, 0, v)
		}
	}

	var rows []*domain.DailyMetric
	for k, f := range flows {
		rows = append(rows,
			entityRow(k, domain.MetricInflow, f.in),
			entityRow(k, domain.MetricOutflow, f.out),
			entityRow(k, domain.MetricNetFlow, f.in-f.out),
		)
	}
	return rows
}

// largeTxMetrics counts and sums transfers at or above the threshold,
// independent of entity membership.
func largeTxMetrics(txs []*domain.Transaction, threshold float64) []*domain.DailyMetric {
	type large struct {
		count  int
		volume float64
	}
	byDate := make(map[string]*large)

	for _, tx := range txs {
		if tx.Timestamp == nil || tx.ValueETH == nil || *tx.ValueETH < threshold {
			continue
		}
		date := tx.Timestamp.UTC().Format(dateLayout)
		l := byDate[date]
		if l == nil {
			l = &large{}
			byDate[date] = l
		}
		l.count++
		l.volume += *tx.ValueETH
	}

	var rows []*domain.DailyMetric
	for date, l := range byDate {
		rows = append(rows,
			networkRow(date, domain.MetricLargeTxCount, float64(l.count)),
			networkRow(date, domain.MetricLargeTxVolume, l.volume),
		)
	}
	return rows
}

type tokenAcc struct {
	minted  float64
	burned  float64
	netExch float64
	count   int
}

// tokenMetrics covers token transfers ingested for infrastructure-typed
// entities: mint/burn volume, net flow against exchange-tagged addresses,
// transfer counts and the trailing average of those counts.
func tokenMetrics(txs []*domain.Transaction, entityByAddr map[string]*domain.Entity, exchangeAddrs map[string]bool) []*domain.DailyMetric {
	accs := make(map[metricKey]*tokenAcc)

	for _, tx := range txs {
		if tx.Timestamp == nil || tx.TokenValue == nil {
			continue
		}
		entity := entityByAddr[tx.WalletAddress]
		if entity == nil || !entity.IsInfrastructure() {
			continue
		}

		symbol := entity.Label
		if tx.TokenSymbol != nil && *tx.TokenSymbol != "" {
			symbol = *tx.TokenSymbol
		}
		k := metricKey{
			date:       tx.Timestamp.UTC().Format(dateLayout),
			entityType: entity.EntityType,
			label:      entity.Label,
			symbol:     symbol,
		}
		a := accs[k]
		if a == nil {
			a = &tokenAcc{}
			accs[k] = a
		}

		v := *tx.TokenValue
		from := strings.ToLower(tx.FromAddress)
		to := strings.ToLower(tx.ToAddress)
		if from == domain.ZeroAddress {
			a.minted += v
		}
		if to == domain.ZeroAddress {
			a.burned += v
		}
		// A transfer between two exchange addresses contributes +v and -v,
		// netting to zero.
		if exchangeAddrs[to] {
			a.netExch += v
		}
		if exchangeAddrs[from] {
			a.netExch -= v
		}
		a.count++
	}

	var rows []*domain.DailyMetric
	for k, a := range accs {
		rows = append(rows,
			entityRow(k, domain.MetricTokensMinted, a.minted),
			entityRow(k, domain.MetricTokensBurned, a.burned),
			entityRow(k, domain.MetricExchangeNetFlow, a.netExch),
			entityRow(k, domain.MetricTransferCount, float64(a.count)),
		)
	}
	rows = append(rows, trailingTransferCounts(accs)...)
	return rows
}

// trailingTransferCounts emits the trailing average and delta of
// transfer_count per (entity, symbol) series: for each day, the average of
// up to trailingWindow prior rows excluding the current one, requiring at
// least minPriorObservations of them.
func trailingTransferCounts(accs map[metricKey]*tokenAcc) []*domain.DailyMetric {
	type seriesKey struct {
		entityType string
		label      string
		symbol     string
	}
	type observation struct {
		date  string
		count int
	}

	series := make(map[seriesKey][]observation)
	for k, a := range accs {
		sk := seriesKey{entityType: k.entityType, label: k.label, symbol: k.symbol}
		series[sk] = append(series[sk], observation{date: k.date, count: a.count})
	}

	var rows []*domain.DailyMetric
	for sk, obs := range series {
		sort.Slice(obs, func(i, j int) bool { return obs[i].date < obs[j].date })

		for i, o := range obs {
			start := i - trailingWindow
			if start < 0 {
				start = 0
			}
			prior := obs[start:i]
			if len(prior) < minPriorObservations {
				continue
			}

			var sum float64
			for _, p := range prior {
				sum += float64(p.count)
			}
			avg := sum / float64(len(prior))

			k := metricKey{date: o.date, entityType: sk.entityType, label: sk.label, symbol: sk.symbol}
			rows = append(rows,
				entityRow(k, domain.MetricTransferCountAvg7d, avg),
				entityRow(k, domain.MetricTransferCountDelta7d, float64(o.count)-avg),
			)
		}
	}
	return rows
}

// exchangeFlows sums deposits and withdrawals per (date, exchange_label,
// asset_symbol). Strictly one-sided: a transfer between two exchange-tagged
// addresses counts toward neither.
func exchangeFlows(txs []*domain.Transaction, exchangeAddrs map[string]bool, entityByAddr map[string]*domain.Entity) []*domain.DailyMetric {
	type flow struct {
		deposits    float64
		withdrawals float64
	}
	flows := make(map[metricKey]*flow)

	accumulate := func(exchangeAddr, date, symbol string, deposit, withdrawal float64) {
		e := entityByAddr[exchangeAddr]
		if e == nil {
			return
		}
		k := metricKey{date: date, entityType: e.EntityType, label: e.Label, symbol: symbol}
		f := flows[k]
		if f == nil {
			f = &flow{}
			flows[k] = f
		}
		f.deposits += deposit
		f.withdrawals += withdrawal
	}

	for _, tx := range txs {
		if tx.Timestamp == nil {
			continue
		}

		var (
			value  float64
			symbol string
		)
		switch {
		case tx.ValueETH != nil:
			value = *tx.ValueETH
			symbol = domain.AssetETH
		case tx.TokenValue != nil:
			value = *tx.TokenValue
			symbol = "UNKNOWN"
			if tx.TokenSymbol != nil && *tx.TokenSymbol != "" {
				symbol = *tx.TokenSymbol
			}
		default:
			continue
		}

		date := tx.Timestamp.UTC().Format(dateLayout)
		from := strings.ToLower(tx.FromAddress)
		to := strings.ToLower(tx.ToAddress)
		toExchange := exchangeAddrs[to]
		fromExchange := exchangeAddrs[from]

		switch {
		case toExchange && !fromExchange:
			accumulate(to, date, symbol, value, 0)
		case fromExchange && !toExchange:
			accumulate(from, date, symbol, 0, value)
		}
	}

	var rows []*domain.DailyMetric
	for k, f := range flows {
		rows = append(rows,
			entityRow(k, domain.MetricExchangeDeposits, f.deposits),
			entityRow(k, domain.MetricExchangeWithdrawals, f.withdrawals),
		)
	}
	return rows
}

func sortMetrics(rows []*domain.DailyMetric) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
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
}

func entityRow(k metricKey, name string, value float64) *domain.DailyMetric {
	entityType := k.entityType
	label := k.label
	symbol := k.symbol
	if symbol == "" {
		symbol = domain.AssetETH
	}
	return &domain.DailyMetric{
		MetricDate:  k.date,
		MetricName:  name,
		EntityType:  &entityType,
		EntityLabel: &label,
		AssetSymbol: symbol,
		Value:       value,
	}
}

func networkRow(date, name string, value float64) *domain.DailyMetric {
	return &domain.DailyMetric{
		MetricDate:  date,
		MetricName:  name,
		AssetSymbol: domain.AssetETH,
		Value:       value,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
