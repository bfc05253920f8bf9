package data

import (
	"testing"
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

func newTestStore() *Store {
	return NewStore(zap.NewNop())
}

func TestStore_AssetLifecycle(t *testing.T) {
	s := newTestStore()
	id := types.AssetId{Code: "SPY", AssetType: types.AssetETF, Currency: types.USD}
	s.UpdateAssets(map[types.AssetId]*types.Asset{id: {Id: id}})

	s.ApplyCurrent(id, types.Current{Bid: 100, Ask: 101})
	a, ok := s.Asset(id)
	if !ok {
		t.Fatal("expected asset to exist")
	}
	if a.Current.Bid != 100 {
		t.Fatalf("expected bid 100, got %v", a.Current.Bid)
	}

	measures := types.Measures{RSI: 55}
	forecast := types.Forecast{DirectionalAssumption: []types.Direction{types.Bullish}}
	s.ApplyMeasures(id, measures, forecast)
	a, _ = s.Asset(id)
	if a.Measures.RSI != 55 {
		t.Fatalf("expected RSI 55, got %v", a.Measures.RSI)
	}
}

func TestStore_AssetCopyIsDefensive(t *testing.T) {
	s := newTestStore()
	id := types.AssetId{Code: "SPY", AssetType: types.AssetETF, Currency: types.USD}
	s.UpdateAssets(map[types.AssetId]*types.Asset{id: {Id: id}})

	a, _ := s.Asset(id)
	a.Current.Bid = 999

	fresh, _ := s.Asset(id)
	if fresh.Current.Bid == 999 {
		t.Fatal("mutating a returned copy must not affect the store")
	}
}

func TestStore_StrategyLifecycle(t *testing.T) {
	s := newTestStore()
	created := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	strat := &types.Strategy{Code: "SPY", Created: created}

	s.AddStrategy(strat)
	got, ok := s.Strategy(strat.StrategyId())
	if !ok {
		t.Fatal("expected strategy to exist")
	}
	if got.Code != "SPY" {
		t.Fatalf("expected code SPY, got %v", got.Code)
	}

	opened := created.Add(time.Minute)
	got.Opened = &opened
	s.UpdateStrategy(&got)

	open := s.OpenStrategies()
	if len(open) != 1 {
		t.Fatalf("expected 1 open strategy, got %d", len(open))
	}

	s.DeleteStrategy(strat.StrategyId())
	if _, ok := s.Strategy(strat.StrategyId()); ok {
		t.Fatal("expected strategy to be removed")
	}
}

type fakeRepo struct {
	items map[string]*types.Strategy
}

func (f *fakeRepo) AllItems() (map[string]*types.Strategy, error) { return f.items, nil }

func TestStore_LoadStrategies(t *testing.T) {
	s := newTestStore()
	repo := &fakeRepo{items: map[string]*types.Strategy{
		"SPY_2024": {Code: "SPY"},
	}}
	if err := s.LoadStrategies(repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Strategies()) != 1 {
		t.Fatalf("expected 1 strategy loaded, got %d", len(s.Strategies()))
	}
}
