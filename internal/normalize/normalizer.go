// Package normalize converts provider-shaped transfer records into canonical
// transactions. Normalization is pure: no I/O, no clock, deterministic output
// for a given input.
package normalize

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/provider"
)

// ErrSchema reports a raw record that is structurally missing a required
// field. It is the only failure mode of Normalize.
var ErrSchema = errors.New("normalize: schema violation")

var weiPerETH = decimal.New(1, 18)

// Normalize converts raw transfers into canonical transactions for the given
// subject wallet. Output cardinality is 1:1 with input; filtering belongs to
// the source adapter. The only error is ErrSchema on a record with no hash.
func Normalize(raw []provider.RawTransfer, wallet string) ([]*domain.Transaction, error) {
	txs := make([]*domain.Transaction, 0, len(raw))
	for i, r := range raw {
		if r.Hash == "" {
			return nil, fmt.Errorf("%w: record %d has no transaction hash", ErrSchema, i)
		}

		tx := &domain.Transaction{
			TxHash:                r.Hash,
			WalletAddress:         strings.ToLower(wallet),
			FromAddress:           strings.ToLower(r.From),
			ToAddress:             strings.ToLower(r.To),
			BlockNumber:           decodeBlockNumber(r.BlockNumber),
			Timestamp:             provider.ParseTimestamp(r.Timestamp),
			TokenSymbol:           r.TokenSymbol,
			TokenValue:            r.TokenValue,
			IsContractInteraction: domain.ContractUnknown,
		}

		// Token rows are not native-value-directional: both value_eth and
		// direction stay nil.
		if r.Category != provider.CategoryERC20 {
			tx.ValueETH = weiToETH(r.Value)
			tx.Direction = direction(r.To, wallet)
		}

		txs = append(txs, tx)
	}
	return txs, nil
}

func direction(to, wallet string) *string {
	d := domain.DirectionOut
	if strings.EqualFold(to, wallet) {
		d = domain.DirectionIn
	}
	return &d
}

// weiToETH converts a decimal wei string to a float ETH amount. Values that
// do not parse yield nil rather than a partial row.
func weiToETH(wei *string) *float64 {
	if wei == nil || *wei == "" {
		return nil
	}
	d, err := decimal.NewFromString(*wei)
	if err != nil {
		return nil
	}
	eth, _ := d.Div(weiPerETH).Float64()
	return &eth
}

// decodeBlockNumber accepts hex-prefixed and plain decimal block numbers.
// Undecodable input yields zero; block number is informational, not a key.
func decodeBlockNumber(s string) int64 {
	if s == "" {
		return 0
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok || !n.IsInt64() {
			return 0
		}
		return n.Int64()
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
