// Package report renders markdown case reports for a single wallet from the
// persisted risk metrics and transaction evidence.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/risk"
	"onchain-risk/internal/storage"
)

// Evidence window and section limits, matching the scoring window.
const (
	windowDays          = 30
	maxCounterparties   = 5
	maxLargestTransfers = 10
	maxContracts        = 5

	// contractFetchLimit caps rows pulled for the contract section before
	// grouping by contract address.
	contractFetchLimit = 1000
)

const noneFound = "- None found."

// Generator renders case reports.
type Generator struct {
	riskStore storage.RiskMetricStore
	txStore   storage.TransactionStore
	logger    *zap.Logger
	now       func() time.Time
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	RiskStore storage.RiskMetricStore
	TxStore   storage.TransactionStore
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewGenerator creates a Generator.
func NewGenerator(opts GeneratorOptions) *Generator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Generator{
		riskStore: opts.RiskStore,
		txStore:   opts.TxStore,
		logger:    logger,
		now:       now,
	}
}

// Generate renders the markdown report for one wallet. A wallet without
// risk metrics still gets a report with an explicit note.
func (g *Generator) Generate(ctx context.Context, wallet string) (string, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	now := g.now().UTC()
	since := now.AddDate(0, 0, -windowDays)

	var b strings.Builder
	fmt.Fprintf(&b, "# Case Report: %s\n\n", wallet)
	fmt.Fprintf(&b, "Generated: %s\n\n", now.Format("2006-01-02 15:04 UTC"))

	if err := g.writeRiskSummary(ctx, &b, wallet); err != nil {
		return "", err
	}
	if err := g.writeCounterparties(ctx, &b, wallet, since); err != nil {
		return "", err
	}
	if err := g.writeLargestTransfers(ctx, &b, wallet, since); err != nil {
		return "", err
	}
	if err := g.writeContractInteractions(ctx, &b, wallet, since); err != nil {
		return "", err
	}

	return b.String(), nil
}

// WriteFile renders the report and writes it under reports/ when no output
// path is given. Returns the path written.
func (g *Generator) WriteFile(ctx context.Context, wallet, outputPath string) (string, error) {
	content, err := g.Generate(ctx, wallet)
	if err != nil {
		return "", err
	}

	if outputPath == "" {
		short := strings.ToLower(wallet)
		if len(short) > 10 {
			short = short[:10]
		}
		outputPath = filepath.Join("reports",
			fmt.Sprintf("case_%s_%s.md", short, g.now().UTC().Format("2006-01-02")))
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	g.logger.Info("case report written",
		zap.String("wallet", wallet),
		zap.String("path", outputPath))
	return outputPath, nil
}

func (g *Generator) writeRiskSummary(ctx context.Context, b *strings.Builder, wallet string) error {
	b.WriteString("## Risk Summary\n")

	m, err := g.riskStore.LatestByWallet(ctx, wallet)
	if errors.Is(err, storage.ErrNotFound) {
		b.WriteString("- No risk metrics available for this wallet yet.\n\n")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load risk metrics: %w", err)
	}

	reasons := strings.ReplaceAll(risk.TopReasons(m), ",", ", ")
	if reasons == "" {
		reasons = "none"
	}

	fmt.Fprintf(b, "- As of: %s\n", m.AsOfDate)
	fmt.Fprintf(b, "- Risk score: %.4f\n", m.RiskScore)
	fmt.Fprintf(b, "- 30d tx count: %d\n", m.TxCount30d)
	fmt.Fprintf(b, "- 30d volume (ETH): %.4f\n", m.Volume30d)
	fmt.Fprintf(b, "- 30d unique counterparties: %d\n", m.UniqueCounterparties30d)
	fmt.Fprintf(b, "- 30d contract interactions: %d\n", m.ContractInteractions30d)
	fmt.Fprintf(b, "- Avg tx size (ETH): %.4f\n", m.AvgTxSize)
	fmt.Fprintf(b, "- Top reasons: %s\n\n", reasons)
	return nil
}

func (g *Generator) writeCounterparties(ctx context.Context, b *strings.Builder, wallet string, since time.Time) error {
	b.WriteString("## Evidence\n\n### Top Counterparties (30d)\n")

	sums, err := g.txStore.TopCounterparties(ctx, wallet, since, maxCounterparties)
	if err != nil {
		return fmt.Errorf("load counterparties: %w", err)
	}
	if len(sums) == 0 {
		b.WriteString(noneFound + "\n\n")
		return nil
	}

	b.WriteString("| Counterparty | Tx Count | Volume (ETH) |\n| --- | --- | --- |\n")
	for _, s := range sums {
		fmt.Fprintf(b, "| %s | %d | %.4f |\n", s.Address, s.TxCount, s.VolumeETH)
	}
	b.WriteString("\n")
	return nil
}

func (g *Generator) writeLargestTransfers(ctx context.Context, b *strings.Builder, wallet string, since time.Time) error {
	b.WriteString("### Largest Transfers (30d)\n")

	txs, err := g.txStore.LargestTransfers(ctx, wallet, since, maxLargestTransfers)
	if err != nil {
		return fmt.Errorf("load largest transfers: %w", err)
	}
	if len(txs) == 0 {
		b.WriteString(noneFound + "\n\n")
		return nil
	}

	b.WriteString("| Timestamp | Direction | Counterparty | Value (ETH) | Tx Hash |\n| --- | --- | --- | --- | --- |\n")
	for _, tx := range txs {
		ts := "n/a"
		if tx.Timestamp != nil {
			ts = tx.Timestamp.UTC().Format(time.RFC3339)
		}
		direction := "n/a"
		if tx.Direction != nil {
			direction = *tx.Direction
		}
		value := 0.0
		if tx.ValueETH != nil {
			value = *tx.ValueETH
		}
		fmt.Fprintf(b, "| %s | %s | %s | %.4f | %s |\n",
			ts, direction, tx.Counterparty(), value, tx.TxHash)
	}
	b.WriteString("\n")
	return nil
}

func (g *Generator) writeContractInteractions(ctx context.Context, b *strings.Builder, wallet string, since time.Time) error {
	b.WriteString("### Contract Interactions (30d)\n")

	txs, err := g.txStore.ContractInteractions(ctx, wallet, since, contractFetchLimit)
	if err != nil {
		return fmt.Errorf("load contract interactions: %w", err)
	}
	contracts := groupByContract(txs)
	if len(contracts) == 0 {
		b.WriteString(noneFound + "\n")
		return nil
	}
	if len(contracts) > maxContracts {
		contracts = contracts[:maxContracts]
	}

	b.WriteString("| Contract | Tx Count | Volume (ETH) |\n| --- | --- | --- |\n")
	for _, c := range contracts {
		fmt.Fprintf(b, "| %s | %d | %.4f |\n", c.Address, c.TxCount, c.VolumeETH)
	}
	b.WriteString("\n")
	return nil
}

// groupByContract rolls contract-flagged transfers up per to_address,
// ordered by transfer count.
func groupByContract(txs []*domain.Transaction) []*domain.CounterpartySummary {
	byAddr := make(map[string]*domain.CounterpartySummary)
	for _, tx := range txs {
		addr := strings.ToLower(tx.ToAddress)
		if addr == "" {
			continue
		}
		c := byAddr[addr]
		if c == nil {
			c = &domain.CounterpartySummary{Address: addr}
			byAddr[addr] = c
		}
		c.TxCount++
		if tx.ValueETH != nil {
			c.VolumeETH += *tx.ValueETH
		}
	}

	out := make([]*domain.CounterpartySummary, 0, len(byAddr))
	for _, c := range byAddr {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TxCount != out[j].TxCount {
			return out[i].TxCount > out[j].TxCount
		}
		return out[i].Address < out[j].Address
	})
	return out
}
