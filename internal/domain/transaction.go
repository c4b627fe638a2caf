package domain

import "time"

// ZeroAddress is the mint/burn counterparty for token transfers.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Direction of a native-value transfer relative to the subject wallet.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ContractFlag is the tri-state outcome of contract classification.
type ContractFlag int8

const (
	ContractUnknown ContractFlag = iota
	ContractNo
	ContractYes
)

// NullableBool maps the flag onto a nullable boolean column.
// Unknown is represented as NULL.
func (f ContractFlag) NullableBool() *bool {
	switch f {
	case ContractYes:
		v := true
		return &v
	case ContractNo:
		v := false
		return &v
	default:
		return nil
	}
}

// FlagFromNullableBool is the inverse of NullableBool.
func FlagFromNullableBool(v *bool) ContractFlag {
	switch {
	case v == nil:
		return ContractUnknown
	case *v:
		return ContractYes
	default:
		return ContractNo
	}
}

// Transaction is the canonical normalized transfer record.
// Corresponds to the transactions table. Immutable once persisted.
//
// TxHash is unique within one wallet's ingestion batch only: the same
// on-chain transaction appears once per subject wallet it was fetched for.
// Exactly one of ValueETH / TokenValue is set for an economically meaningful
// row, but both may be absent for malformed upstream data - consumers must
// tolerate nil fields.
type Transaction struct {
	TxHash                string
	WalletAddress         string  // subject wallet this row was fetched for (lowercase)
	Direction             *string // "in" | "out", nil for token transfers
	FromAddress           string
	ToAddress             string
	ValueETH              *float64 // nil for pure token transfers
	TokenSymbol           *string
	TokenValue            *float64
	BlockNumber           int64
	Timestamp             *time.Time // UTC, nil when the upstream timestamp was unparseable
	IsContractInteraction ContractFlag
}

// Counterparty returns the non-subject side of the transfer.
// Token rows (nil direction) report the recipient.
func (t *Transaction) Counterparty() string {
	if t.Direction != nil && *t.Direction == DirectionOut {
		return t.ToAddress
	}
	if t.Direction != nil && *t.Direction == DirectionIn {
		return t.FromAddress
	}
	return t.ToAddress
}
