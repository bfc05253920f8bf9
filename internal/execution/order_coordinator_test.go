package execution

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/optopus-engine/internal/strategyrepo"
	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type fakePort struct {
	placed []types.Order
}

func (f *fakePort) Connect(context.Context) error    { return nil }
func (f *fakePort) Disconnect() error                { return nil }
func (f *fakePort) AccountValues(context.Context) (types.Account, error) {
	return types.Account{}, nil
}
func (f *fakePort) Positions(context.Context) (map[string]types.Position, error) {
	return nil, nil
}
func (f *fakePort) QualifyAssets(context.Context, []types.AssetDef) (map[string]string, error) {
	return nil, nil
}
func (f *fakePort) SnapshotQuotes(context.Context, []string) ([]types.Current, error) {
	return nil, nil
}
func (f *fakePort) PriceHistory(context.Context, string, int) (types.History, error) {
	return types.History{}, nil
}
func (f *fakePort) IVHistory(context.Context, string, int) (types.History, error) {
	return types.History{}, nil
}
func (f *fakePort) OptionChain(context.Context, string, time.Time, float64) (map[string]types.Option, error) {
	return nil, nil
}
func (f *fakePort) PlaceStrategy(_ context.Context, _ types.Strategy, parent, tp, sl types.Order) error {
	f.placed = append(f.placed, parent, tp, sl)
	return nil
}
func (f *fakePort) OrderStatusEvents() <-chan types.TradeUpdate { return nil }

func testStrategy() types.Strategy {
	created := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	underlying := types.AssetId{Code: "SPY", AssetType: types.AssetETF, Currency: types.USD}
	opt := types.Option{
		Id:  types.OptionId{UnderlyingId: underlying, Expiration: created.AddDate(0, 0, 30), Strike: 400, Right: types.Put},
		Bid: 0.9, Ask: 1.1,
	}
	return types.Strategy{
		Code: "SPY", StrategyType: types.StrategyShortPut, Ownership: types.Seller,
		Currency: types.USD, TakeProfitFactor: 0.5, StopLossFactor: 2.0, Multiplier: 100,
		Legs:       []types.Leg{{Option: opt, Ownership: types.Seller, Ratio: 1}},
		EntryPrice: -1.0, Created: created,
	}
}

func TestCoordinator_NewStrategy_PlacesBracket(t *testing.T) {
	dir := t.TempDir()
	repo, _ := strategyrepo.New(zap.NewNop(), dir)
	port := &fakePort{}
	coord := New(zap.NewNop(), port, repo, RiskLimits{PreservedCashFactor: 0.4, MaximumRiskFactor: 0.05}, realClock{})

	account := types.Account{NetLiquidation: 100000, Cash: 100000}
	if _, err := coord.NewStrategy(context.Background(), account, testStrategy()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(port.placed) != 3 {
		t.Fatalf("expected 3 orders placed, got %d", len(port.placed))
	}
	if port.placed[0].OrderType != types.OrderLimit {
		t.Fatalf("expected parent to be Limit, got %v", port.placed[0].OrderType)
	}
	if port.placed[2].OrderType != types.OrderStop {
		t.Fatalf("expected stop-loss to be Stop, got %v", port.placed[2].OrderType)
	}

	stats := coord.GetOrderStats()
	if stats.TotalBrackets != 1 || stats.OpenBrackets != 1 {
		t.Fatalf("expected 1 open bracket, got %+v", stats)
	}
}

func TestCoordinator_NewStrategy_RiskLimitExceeded(t *testing.T) {
	dir := t.TempDir()
	repo, _ := strategyrepo.New(zap.NewNop(), dir)
	port := &fakePort{}
	coord := New(zap.NewNop(), port, repo, RiskLimits{PreservedCashFactor: 0.4, MaximumRiskFactor: 0.0001}, realClock{})

	strat := testStrategy()
	strat.StopLossFactor = 50.0 // inflate per-lot loss past the tiny risk budget
	account := types.Account{NetLiquidation: 100000, Cash: 100000}

	_, err := coord.NewStrategy(context.Background(), account, strat)
	if err == nil {
		t.Fatal("expected risk limit error")
	}
	if _, ok := err.(*ErrRiskLimitExceeded); !ok {
		t.Fatalf("expected ErrRiskLimitExceeded, got %T", err)
	}
	if len(port.placed) != 0 {
		t.Fatal("expected no orders placed when risk limit exceeded")
	}
}

func TestCoordinator_OnTradeUpdate(t *testing.T) {
	dir := t.TempDir()
	repo, _ := strategyrepo.New(zap.NewNop(), dir)
	port := &fakePort{}
	coord := New(zap.NewNop(), port, repo, RiskLimits{PreservedCashFactor: 0.4, MaximumRiskFactor: 0.05}, realClock{})

	strat := testStrategy()
	account := types.Account{NetLiquidation: 100000, Cash: 100000}
	if _, err := coord.NewStrategy(context.Background(), account, strat); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parentRef := port.placed[0].ReferenceString
	coord.OnTradeUpdate(types.TradeUpdate{OrderId: parentRef, Status: types.StatusFilled, Remaining: 0})

	stats := coord.GetOrderStats()
	if stats.FilledParents != 1 {
		t.Fatalf("expected 1 filled parent, got %+v", stats)
	}
}
