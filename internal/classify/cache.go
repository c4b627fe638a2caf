package classify

import (
	"sync"

	"onchain-risk/internal/domain"
)

// Cache memoizes classification results for one ingestion run. Wallets in a
// batch share counterparties, so a single cache instance is passed to every
// worker; all outcomes are cached, including unknown.
type Cache struct {
	mu      sync.RWMutex
	results map[string]domain.ContractFlag
}

func NewCache() *Cache {
	return &Cache{results: make(map[string]domain.ContractFlag)}
}

func (c *Cache) Get(address string) (domain.ContractFlag, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	flag, ok := c.results[address]
	return flag, ok
}

func (c *Cache) Put(address string, flag domain.ContractFlag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[address] = flag
}

// Len reports the number of cached addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}
