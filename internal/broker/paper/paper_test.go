package paper

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

func TestAdapter_QualifyAndSnapshot(t *testing.T) {
	a := New(zap.NewNop(), 1)
	ctx := context.Background()

	handles, err := a.QualifyAssets(ctx, []types.AssetDef{{Code: "SPY", AssetType: types.AssetETF, Currency: types.USD}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handle, ok := handles["SPY"]
	if !ok {
		t.Fatal("expected SPY to be qualified")
	}

	quotes, err := a.SnapshotQuotes(ctx, []string{handle})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d", len(quotes))
	}
	if quotes[0].Bid <= 0 || quotes[0].Ask <= quotes[0].Bid {
		t.Fatalf("expected sane bid/ask, got %+v", quotes[0])
	}
}

func TestAdapter_PlaceStrategyFillsImmediately(t *testing.T) {
	a := New(zap.NewNop(), 1)
	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parent := types.Order{ReferenceString: "S1_L1_NL", OrderType: types.OrderLimit}
	tp := types.Order{ReferenceString: "S1_L1_TP", OrderType: types.OrderLimit}
	sl := types.Order{ReferenceString: "S1_L1_SL", OrderType: types.OrderStop}

	if err := a.PlaceStrategy(ctx, types.Strategy{}, parent, tp, sl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case update := <-a.OrderStatusEvents():
			seen[update.OrderId] = true
			if update.Status != types.StatusFilled {
				t.Fatalf("expected Filled, got %v", update.Status)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for trade update")
		}
	}
	for _, ref := range []string{"S1_L1_NL", "S1_L1_TP", "S1_L1_SL"} {
		if !seen[ref] {
			t.Fatalf("expected event for %s", ref)
		}
	}
}

func TestAdapter_OptionChain_WithinBand(t *testing.T) {
	a := New(zap.NewNop(), 1)
	ctx := context.Background()
	handles, _ := a.QualifyAssets(ctx, []types.AssetDef{{Code: "SPY", AssetType: types.AssetETF, Currency: types.USD}})

	chain, err := a.OptionChain(ctx, handles["SPY"], time.Now().AddDate(0, 0, 30), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chain) == 0 {
		t.Fatal("expected non-empty chain")
	}
	for _, opt := range chain {
		if opt.Bid <= 0 || opt.Ask <= 0 {
			t.Fatalf("expected positive bid/ask, got %+v", opt)
		}
		if math.Abs(opt.Id.Strike-opt.UnderlyingPrice) > 10 {
			t.Fatalf("strike %v outside the ±10 band around %v", opt.Id.Strike, opt.UnderlyingPrice)
		}
	}
}
