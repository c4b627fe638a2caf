package domain

import "strings"

// Known entity type tags. EntityType is a free-text taxonomy; these are the
// values the pipeline gives special treatment to.
const (
	EntityTypeExchange   = "exchange"
	EntityTypeStablecoin = "stablecoin"
	EntityTypeContract   = "contract"
	EntityTypeBridge     = "bridge"
	EntityTypeERC20      = "erc20"
)

// InfrastructureEntityTypes mark addresses that are protocol plumbing rather
// than behavioral wallets. They are excluded from risk scoring and routed
// through the token-transfer ingestion path.
var InfrastructureEntityTypes = []string{
	EntityTypeStablecoin,
	EntityTypeContract,
	EntityTypeBridge,
	EntityTypeERC20,
}

// Entity is a labeled address of interest, loaded from the entities CSV.
// Corresponds to the entities table; the list is replaced wholesale on load.
type Entity struct {
	Address    string // lowercased, primary key
	Label      string
	EntityType string
}

// IsInfrastructure reports whether the entity is protocol plumbing
// (stablecoin, contract, bridge, erc20).
func (e *Entity) IsInfrastructure() bool {
	t := strings.ToLower(e.EntityType)
	for _, it := range InfrastructureEntityTypes {
		if t == it {
			return true
		}
	}
	return false
}

// IsExchange reports whether the entity is tagged as an exchange.
func (e *Entity) IsExchange() bool {
	return strings.EqualFold(e.EntityType, EntityTypeExchange)
}
