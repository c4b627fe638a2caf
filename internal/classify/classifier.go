// Package classify determines whether an address is a smart contract by
// checking for deployed bytecode at the node, memoizing every outcome.
package classify

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"onchain-risk/internal/domain"
	"onchain-risk/internal/observability"
)

// CodeReader is the node-side bytecode lookup, satisfied by
// *ethclient.Client.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Classifier resolves addresses to a tri-state contract flag. Classification
// is advisory: lookup failures degrade to unknown and never propagate.
type Classifier struct {
	reader CodeReader
	cache  *Cache
	logger *zap.Logger
	group  singleflight.Group
}

type ClassifierOptions struct {
	Reader CodeReader // nil disables network lookups entirely
	Cache  *Cache
	Logger *zap.Logger
}

func NewClassifier(opts ClassifierOptions) *Classifier {
	cache := opts.Cache
	if cache == nil {
		cache = NewCache()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		reader: opts.Reader,
		cache:  cache,
		logger: logger,
	}
}

// Classify returns whether address has deployed bytecode. Without a
// configured reader every address is unknown and no network call is made.
// Concurrent lookups for the same address are collapsed into one request.
func (c *Classifier) Classify(ctx context.Context, address string) domain.ContractFlag {
	if c.reader == nil {
		return domain.ContractUnknown
	}

	key := strings.ToLower(address)
	if flag, ok := c.cache.Get(key); ok {
		observability.RecordCacheHit()
		return flag
	}
	observability.RecordCacheMiss()

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		if flag, ok := c.cache.Get(key); ok {
			return flag, nil
		}
		flag := c.lookup(ctx, address)
		c.cache.Put(key, flag)
		return flag, nil
	})
	return v.(domain.ContractFlag)
}

func (c *Classifier) lookup(ctx context.Context, address string) domain.ContractFlag {
	if !common.IsHexAddress(address) {
		return domain.ContractUnknown
	}

	code, err := c.reader.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		observability.RecordClassifierError()
		c.logger.Debug("bytecode lookup failed",
			zap.String("address", address),
			zap.Error(err))
		return domain.ContractUnknown
	}
	if len(code) > 0 {
		return domain.ContractYes
	}
	return domain.ContractNo
}
