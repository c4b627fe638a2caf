package provider

// Transfer categories reported by upstream providers.
const (
	CategoryExternal = "external"
	CategoryInternal = "internal"
	CategoryERC20    = "erc20"
)

// RawTransfer is a provider-shaped transfer record. It is ephemeral: produced
// by the source adapter, consumed only by the normalizer.
type RawTransfer struct {
	Hash        string
	From        string
	To          string
	Value       *string // native value in wei, decimal string; nil for token rows
	BlockNumber string  // hex "0x..." (alchemy) or decimal (etherscan)
	Timestamp   string  // epoch seconds (etherscan) or ISO-8601 (alchemy)
	Category    string  // external | internal | erc20

	TokenSymbol          *string
	TokenValue           *float64 // already scaled by token decimals
	TokenContractAddress *string
}

// dedupKey identifies a transfer for cross-direction deduplication.
type dedupKey struct {
	hash        string
	from        string
	to          string
	value       string
	blockNumber string
}

func (t *RawTransfer) key() dedupKey {
	k := dedupKey{
		hash:        t.Hash,
		from:        t.From,
		to:          t.To,
		blockNumber: t.BlockNumber,
	}
	if t.Value != nil {
		k.value = *t.Value
	}
	return k
}

// dedupTransfers drops repeated (hash, from, to, value, blockNumber) tuples,
// keeping the first occurrence. The same transfer shows up in both the
// outbound and inbound query results when a wallet sends to itself or when
// directions overlap.
func dedupTransfers(transfers []RawTransfer) []RawTransfer {
	seen := make(map[dedupKey]struct{}, len(transfers))
	out := transfers[:0:0]
	for _, t := range transfers {
		k := t.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}
