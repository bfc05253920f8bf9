// Package data holds the engine's authoritative in-memory state: the asset
// map, account snapshot, and strategy set. It serves reads to algorithms and
// the HTTP/WebSocket API; every mutation passes through an Engine-only
// method, matching the single-writer discipline the loop design depends on.
package data

import (
	"fmt"
	"sync"

	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

// StrategyRepo is the subset of strategyrepo.Repo the Store needs at init
// time, kept here as an interface so the data package never imports
// strategyrepo (both packages depend only on pkg/types for the Strategy
// shape).
type StrategyRepo interface {
	AllItems() (map[string]*types.Strategy, error)
}

// Store is a process-wide state container with explicit init and
// single-writer (Engine) discipline. All Get* methods return defensive
// copies so callers can never mutate state out from under the Engine.
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger

	assets     map[types.AssetId]*types.Asset
	account    types.Account
	strategies map[string]*types.Strategy
}

// NewStore constructs an empty Store. Call LoadStrategies once at engine
// start to hydrate the strategy set from durable storage.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		logger:     logger,
		assets:     make(map[types.AssetId]*types.Asset),
		strategies: make(map[string]*types.Strategy),
	}
}

// LoadStrategies hydrates the in-memory strategy set from repo. It is the
// Start sequence's first step and must complete before any other mutation.
func (s *Store) LoadStrategies(repo StrategyRepo) error {
	items, err := repo.AllItems()
	if err != nil {
		return fmt.Errorf("loading strategies: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies = items
	s.logger.Info("loaded strategies from repo", zap.Int("count", len(items)))
	return nil
}

// UpdateAssets replaces the asset map wholesale. The Engine calls this once
// at start (after qualification) and never again — subsequent refreshes
// mutate individual assets via ApplyMeasures/ApplyCurrent/ApplyHistory.
func (s *Store) UpdateAssets(assets map[types.AssetId]*types.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = assets
}

// ApplyCurrent replaces one asset's Current snapshot.
func (s *Store) ApplyCurrent(id types.AssetId, current types.Current) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return
	}
	updated := *a
	updated.Current = current
	s.assets[id] = &updated
}

// ApplyHistory replaces one asset's price and IV history atomically —
// callers never observe a half-updated pair.
func (s *Store) ApplyHistory(id types.AssetId, price, iv types.History) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return
	}
	updated := *a
	updated.PriceHistory = price
	updated.IVHistory = iv
	s.assets[id] = &updated
}

// ApplyMeasures replaces one asset's Measures and Forecast together, the
// output of assets_vector_computation + directional_forecast.
func (s *Store) ApplyMeasures(id types.AssetId, measures types.Measures, forecast types.Forecast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return
	}
	updated := *a
	updated.Measures = measures
	updated.Forecast = forecast
	s.assets[id] = &updated
}

// Asset returns a copy of one asset by id, and whether it exists.
func (s *Store) Asset(id types.AssetId) (types.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return types.Asset{}, false
	}
	return *a, true
}

// AssetByCode returns a copy of the first asset whose id has the given code,
// used by algorithms that identify assets by ticker rather than full AssetId.
func (s *Store) AssetByCode(code string) (types.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, a := range s.assets {
		if id.Code == code {
			return *a, true
		}
	}
	return types.Asset{}, false
}

// Assets returns a copy of every asset, keyed by AssetId.
func (s *Store) Assets() map[types.AssetId]types.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.AssetId]types.Asset, len(s.assets))
	for id, a := range s.assets {
		out[id] = *a
	}
	return out
}

// AssetIds returns every asset's id, used by the refresh phase to drive
// per-asset broker calls without holding the lock.
func (s *Store) AssetIds() []types.AssetId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.AssetId, 0, len(s.assets))
	for id := range s.assets {
		out = append(out, id)
	}
	return out
}

// UpdateAccount replaces the account snapshot.
func (s *Store) UpdateAccount(account types.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = account
}

// Account returns a copy of the current account snapshot.
func (s *Store) Account() types.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// AddStrategy inserts a new strategy, keyed by its StrategyId.
func (s *Store) AddStrategy(strategy *types.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *strategy
	s.strategies[strategy.StrategyId()] = &cp
}

// UpdateStrategy replaces an existing strategy's stored state in place.
func (s *Store) UpdateStrategy(strategy *types.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *strategy
	s.strategies[strategy.StrategyId()] = &cp
}

// DeleteStrategy removes a strategy from the in-memory set. The durable copy
// is handled separately by strategyrepo (rename to .json_closed).
func (s *Store) DeleteStrategy(strategyId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strategies, strategyId)
}

// Strategy returns a copy of one strategy by id, and whether it exists.
func (s *Store) Strategy(strategyId string) (types.Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	strat, ok := s.strategies[strategyId]
	if !ok {
		return types.Strategy{}, false
	}
	return *strat, true
}

// Strategies returns a copy of every strategy, keyed by strategy id.
func (s *Store) Strategies() map[string]types.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.Strategy, len(s.strategies))
	for id, strat := range s.strategies {
		out[id] = *strat
	}
	return out
}

// OpenStrategies returns a copy of every strategy that has been opened and
// not yet closed, the population whose legs the start sequence
// re-qualifies. Reconciliation walks every not-yet-closed strategy,
// opened or not, not just this set.
func (s *Store) OpenStrategies() []types.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Strategy, 0, len(s.strategies))
	for _, strat := range s.strategies {
		if strat.Opened != nil && strat.Closed == nil {
			out = append(out, *strat)
		}
	}
	return out
}
