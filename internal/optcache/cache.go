// Copyright (c) 2025 Neomantra Corp

// Package optcache holds raw option chains and per-symbol market
// environments in memory, indexed by underlier, expiry date and chain
// time, and serves them back by nearest chain time within a configured
// tolerance. It also completes a raw chain on demand via optgapfill,
// matching original_source's Retriever/RetrieverInMemory pair.
package optcache

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optgapfill"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
)

// ErrNoOptionChain is returned when no chain within tolerance of the
// requested time exists for a symbol/expiry, matching
// RetrieverInMemory::getRawOptionChain's std::invalid_argument.
var ErrNoOptionChain = errors.New("optcache: no option chain in acceptable time range")

// ErrNoMarketEnvironment is returned when no environment was ever
// submitted for a symbol, matching
// RetrieverInMemory::getMarketEnvironment's std::invalid_argument.
var ErrNoMarketEnvironment = errors.New("optcache: no market environment for symbol")

type expiryKey struct {
	underlier  string
	expiryDate string
}

// Cache is a thread-safe in-memory store of raw option chains, keyed by
// underlier, expiry date and chain time, plus one MarketEnvironment per
// underlier, matching RetrieverInMemory's SymbolToExpiryMap /
// SymbolToMarketEnvironmentMap.
type Cache struct {
	mu          sync.RWMutex
	chains      map[expiryKey]map[time.Time]optchain.OptionChain
	environment map[string]optmarket.Environment
	// tolerance is the maximum acceptable distance between a requested
	// time and the nearest stored chain time, matching Retriever's
	// constructor m_timeRange.
	tolerance time.Duration
}

// NewCache constructs a Cache that only serves chains within tolerance
// of the requested time.
func NewCache(tolerance time.Duration) *Cache {
	return &Cache{
		chains:      make(map[expiryKey]map[time.Time]optchain.OptionChain),
		environment: make(map[string]optmarket.Environment),
		tolerance:   tolerance,
	}
}

// Submit stores chain under its own underlier/expiry date/chain time,
// matching RetrieverInMemory::submitOptionChain.
func (c *Cache) Submit(chain optchain.OptionChain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := expiryKey{underlier: chain.Underlier, expiryDate: chain.ExpiryDate}
	byTime, ok := c.chains[key]
	if !ok {
		byTime = make(map[time.Time]optchain.OptionChain)
		c.chains[key] = byTime
	}
	byTime[chain.ChainTime()] = chain
}

// SubmitMarketEnvironment records the MarketEnvironment to use for
// symbol's future gap-filling, matching
// RetrieverInMemory::submitMarketEnvironment.
func (c *Cache) SubmitMarketEnvironment(symbol string, env optmarket.Environment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.environment[symbol] = env
}

// HasOptionChain reports whether a chain within tolerance of at exists
// for symbol/expiryDate, matching RetrieverInMemory::hasOptionChain.
func (c *Cache) HasOptionChain(symbol, expiryDate string, at time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byTime, ok := c.chains[expiryKey{underlier: symbol, expiryDate: expiryDate}]
	if !ok {
		return false
	}
	_, inRange := NearestInTimeRange(at, byTime, c.tolerance)
	return inRange
}

// GetRawOptionChain returns the chain nearest to at for symbol/expiryDate,
// if one exists within tolerance, matching
// RetrieverInMemory::getRawOptionChain.
func (c *Cache) GetRawOptionChain(symbol, expiryDate string, at time.Time) (optchain.OptionChain, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byTime, ok := c.chains[expiryKey{underlier: symbol, expiryDate: expiryDate}]
	if !ok {
		return optchain.OptionChain{}, fmt.Errorf("%w: %s exp %s at %s", ErrNoOptionChain, symbol, expiryDate, at)
	}
	nearest, inRange := NearestInTimeRange(at, byTime, c.tolerance)
	if !inRange {
		return optchain.OptionChain{}, fmt.Errorf("%w: %s exp %s at %s", ErrNoOptionChain, symbol, expiryDate, at)
	}
	return byTime[nearest], nil
}

// GetMarketEnvironment returns the MarketEnvironment submitted for
// symbol, matching RetrieverInMemory::getMarketEnvironment.
func (c *Cache) GetMarketEnvironment(symbol string) (optmarket.Environment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	env, ok := c.environment[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMarketEnvironment, symbol)
	}
	return env, nil
}

// GetOptionChain returns the raw chain nearest to at for
// symbol/expiryDate with its gaps filled per symbol's MarketEnvironment,
// matching Retriever::getOptionChain.
func (c *Cache) GetOptionChain(symbol, expiryDate string, at time.Time, logger *slog.Logger) (optchain.OptionChain, error) {
	raw, err := c.GetRawOptionChain(symbol, expiryDate, at)
	if err != nil {
		return optchain.OptionChain{}, err
	}
	env, err := c.GetMarketEnvironment(symbol)
	if err != nil {
		return optchain.OptionChain{}, err
	}
	return optgapfill.FillGaps(raw, env, logger).Chain, nil
}

// NearestInTimeRange finds the key in m closest to at and reports
// whether that distance is strictly less than tolerance, matching
// MarketEnvironmentExtended::getNextInTimeRange's generic template: when
// at falls between two keys the nearer one wins; ties favor the later
// key (the one not-before at).
func NearestInTimeRange[T any](at time.Time, m map[time.Time]T, tolerance time.Duration) (time.Time, bool) {
	if len(m) == 0 {
		return time.Time{}, false
	}
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	idx := sort.Search(len(keys), func(i int) bool { return !keys[i].Before(at) })
	if idx == len(keys) {
		last := keys[len(keys)-1]
		return last, at.Sub(last) < tolerance
	}
	if idx == 0 {
		return keys[0], keys[0].Sub(at) < tolerance
	}
	prev, next := keys[idx-1], keys[idx]
	if at.Sub(prev) < next.Sub(at) {
		return prev, at.Sub(prev) < tolerance
	}
	return next, next.Sub(at) < tolerance
}
