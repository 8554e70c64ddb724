package monitor

import (
	"maps"
	"sync"

	"github.com/shopspring/decimal"
)

// PriceCache holds the last processed price per symbol. It lives for the
// duration of the process and is never persisted.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]decimal.Decimal)}
}

func (c *PriceCache) Get(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok
}

func (c *PriceCache) Set(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
}

// CompareAndUpdate stores price and reports true when it differs numerically
// from the cached value or nothing was cached. An equal price is left alone.
func (c *PriceCache) CompareAndUpdate(symbol string, price decimal.Decimal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.prices[symbol]; ok && old.Equal(price) {
		return false
	}
	c.prices[symbol] = price
	return true
}

// Snapshot returns a copy of every cached price.
func (c *PriceCache) Snapshot() map[string]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.prices)
}
