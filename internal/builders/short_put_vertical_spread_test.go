package builders

import (
	"math"
	"testing"
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
)

func TestBuildShortPutVerticalSpread_WorkedExample(t *testing.T) {
	created := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	buyPut := types.Option{Id: types.OptionId{Strike: 95, Right: types.Put}, Bid: 5, Ask: 6}
	sellPut := types.Option{Id: types.OptionId{Strike: 100, Right: types.Put}, Bid: 6, Ask: 7}

	result, err := BuildShortPutVerticalSpread("SPY", created, buyPut, sellPut, 0.5, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	check := func(name string, got, want float64) {
		t.Helper()
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s: want %v, got %v", name, want, got)
		}
	}
	check("entry_price", result.EntryPrice, -1.0)
	check("profit_price", result.ProfitPrice, -0.5)
	check("breakeven", result.Breakeven, 99.0)
	check("max_profit", result.MaxProfit, -100)
	check("max_loss", result.MaxLoss, 400)
	check("ROI", result.ROI, 0.25)
}

func TestBuildShortPutVerticalSpread_RejectsWrongRight(t *testing.T) {
	created := time.Now()
	buyCall := types.Option{Id: types.OptionId{Strike: 95, Right: types.Call}}
	sellPut := types.Option{Id: types.OptionId{Strike: 100, Right: types.Put}}
	if _, err := BuildShortPutVerticalSpread("SPY", created, buyCall, sellPut, 0.5, 100); err == nil {
		t.Fatal("expected error for mismatched rights")
	}
}

func TestBuildShortPutVerticalSpread_RejectsBadStrikeOrder(t *testing.T) {
	created := time.Now()
	buyPut := types.Option{Id: types.OptionId{Strike: 105, Right: types.Put}}
	sellPut := types.Option{Id: types.OptionId{Strike: 100, Right: types.Put}}
	if _, err := BuildShortPutVerticalSpread("SPY", created, buyPut, sellPut, 0.5, 100); err == nil {
		t.Fatal("expected error for buy_put.strike >= sell_put.strike")
	}
}
