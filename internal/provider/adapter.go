package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"onchain-risk/internal/observability"
)

// maxEpochSeconds is 9999-12-31T23:59:59Z. Numeric timestamps beyond this
// are assumed to be in the wrong unit (ms/us) and fall through to ISO parsing.
const maxEpochSeconds = 253402300799

// Adapter fetches raw transfers with ordered provider fallback:
// the rich provider (alchemy) when configured, the flat native list
// (etherscan) when the rich provider fails at the transport level.
type Adapter struct {
	alchemy   *AlchemyClient
	etherscan *EtherscanClient
	logger    *zap.Logger
	now       func() time.Time
}

// AdapterOptions contains configuration for creating an Adapter.
// Either provider may be nil; a nil provider is skipped, not retried.
type AdapterOptions struct {
	Alchemy   *AlchemyClient
	Etherscan *EtherscanClient
	Logger    *zap.Logger
	Now       func() time.Time // defaults to time.Now, fixed in tests
}

// NewAdapter creates a new source adapter.
func NewAdapter(opts AdapterOptions) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		alchemy:   opts.Alchemy,
		etherscan: opts.Etherscan,
		logger:    logger,
		now:       now,
	}
}

// FetchWalletTransfers fetches native and internal transfers for a wallet.
// Alchemy is queried once per direction and the results deduplicated; on a
// transient alchemy failure the whole fetch is retried against etherscan when
// an API key is configured. Client-caused failures propagate immediately.
func (a *Adapter) FetchWalletTransfers(ctx context.Context, address string, maxCount, sinceDays int) ([]RawTransfer, error) {
	if a.alchemy == nil && a.etherscan == nil {
		return nil, newError(KindConfig, "adapter", "wallet_transfers",
			errors.New("no transfer provider configured: set ALCHEMY_URL or ETHERSCAN_API_KEY"))
	}

	if a.alchemy != nil {
		observability.RecordProviderRequest("alchemy")
		start := time.Now()
		transfers, err := a.alchemyWalletTransfers(ctx, address, maxCount)
		observability.RecordFetchDuration("alchemy", time.Since(start).Seconds())
		if err == nil {
			return a.filterSinceDays(transfers, sinceDays), nil
		}

		var perr *Error
		if !errors.As(err, &perr) || !perr.Retryable() || a.etherscan == nil {
			return nil, err
		}

		observability.RecordProviderFallback()
		a.logger.Warn("alchemy fetch failed, falling back to etherscan",
			zap.String("address", address),
			zap.Error(err))
	}

	observability.RecordProviderRequest("etherscan")
	start := time.Now()
	transfers, err := a.etherscan.TxList(ctx, address, maxCount)
	observability.RecordFetchDuration("etherscan", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return a.filterSinceDays(transfers, sinceDays), nil
}

// FetchTokenTransfers fetches ERC-20 transfers for a token contract.
// Token ingestion has no fallback: the flat provider cannot filter by
// contract address, so a missing alchemy endpoint fails hard.
func (a *Adapter) FetchTokenTransfers(ctx context.Context, contractAddress string, maxCount, sinceDays int) ([]RawTransfer, error) {
	if a.alchemy == nil {
		return nil, newError(KindConfig, "adapter", "token_transfers",
			errors.New("ALCHEMY_URL is required for token transfer ingestion"))
	}

	observability.RecordProviderRequest("alchemy")
	start := time.Now()
	transfers, err := a.alchemy.AssetTransfers(ctx, assetTransfersParams{
		FromBlock:         "0x0",
		ToBlock:           "latest",
		Category:          []string{CategoryERC20},
		WithMetadata:      true,
		ExcludeZeroValue:  false,
		MaxCount:          hexutil.EncodeUint64(uint64(maxCount)),
		ContractAddresses: []string{contractAddress},
	})
	observability.RecordFetchDuration("alchemy", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return a.filterSinceDays(transfers, sinceDays), nil
}

// alchemyWalletTransfers queries external+internal categories once per
// direction and merges the results.
func (a *Adapter) alchemyWalletTransfers(ctx context.Context, address string, maxCount int) ([]RawTransfer, error) {
	base := assetTransfersParams{
		FromBlock:        "0x0",
		ToBlock:          "latest",
		Category:         []string{CategoryExternal, CategoryInternal},
		WithMetadata:     true,
		ExcludeZeroValue: false,
		MaxCount:         hexutil.EncodeUint64(uint64(maxCount)),
	}

	outParams := base
	outParams.FromAddress = address
	outbound, err := a.alchemy.AssetTransfers(ctx, outParams)
	if err != nil {
		return nil, fmt.Errorf("outbound transfers: %w", err)
	}

	inParams := base
	inParams.ToAddress = address
	inbound, err := a.alchemy.AssetTransfers(ctx, inParams)
	if err != nil {
		return nil, fmt.Errorf("inbound transfers: %w", err)
	}

	return dedupTransfers(append(outbound, inbound...)), nil
}

// filterSinceDays drops transfers older than now-sinceDays. Transfers whose
// timestamp cannot be parsed are kept: an ambiguous timestamp is not grounds
// for silently discarding upstream data.
func (a *Adapter) filterSinceDays(transfers []RawTransfer, sinceDays int) []RawTransfer {
	if sinceDays <= 0 || len(transfers) == 0 {
		return transfers
	}

	cutoff := a.now().UTC().Add(-time.Duration(sinceDays) * 24 * time.Hour)
	kept := transfers[:0:0]
	for _, t := range transfers {
		ts := ParseTimestamp(t.Timestamp)
		if ts != nil && ts.Before(cutoff) {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// ParseTimestamp parses a provider timestamp: epoch seconds first (accepted
// only within [0, year 9999] to catch unit-mismatched values), then ISO-8601.
// Returns nil when neither form parses.
func ParseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}

	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		if epoch < 0 || epoch > maxEpochSeconds {
			return nil
		}
		t := time.Unix(epoch, 0).UTC()
		return &t
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}
