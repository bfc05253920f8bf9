package engine

import (
	"testing"
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testLeg(code string, strike float64, right types.Right, ownership types.Ownership) types.Leg {
	return types.Leg{
		Option: types.Option{
			Id: types.OptionId{
				UnderlyingId: types.AssetId{Code: code},
				Strike:       strike,
				Right:        right,
				Expiration:   time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC),
			},
		},
		Ownership: ownership,
		Ratio:     1,
	}
}

func TestReconcilePositions_MarksOpenedWhenFullyFilled(t *testing.T) {
	logger := zap.NewNop()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	leg := testLeg("SPY", 100, types.Put, types.Seller)
	strategy := types.Strategy{
		Code: "SPY", Quantity: 1, Legs: []types.Leg{leg}, Created: now.Add(-time.Hour),
	}
	positions := map[string]types.Position{
		leg.LegId(): {Ownership: types.Seller, Quantity: 1},
	}

	updated, closed := reconcilePositions(logger, now, []types.Strategy{strategy}, positions)

	if len(closed) != 0 {
		t.Fatalf("expected no closed strategies, got %d", len(closed))
	}
	if len(updated) != 1 {
		t.Fatalf("expected 1 updated strategy, got %d", len(updated))
	}
	if updated[0].Opened == nil {
		t.Fatal("expected Opened to be set")
	}
}

func TestReconcilePositions_MarksClosedWhenNoPositionRemains(t *testing.T) {
	logger := zap.NewNop()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	openedAt := now.Add(-24 * time.Hour)

	leg := testLeg("SPY", 100, types.Put, types.Seller)
	strategy := types.Strategy{
		Code: "SPY", Quantity: 1, Legs: []types.Leg{leg},
		Created: now.Add(-48 * time.Hour), Opened: &openedAt,
	}

	updated, closed := reconcilePositions(logger, now, []types.Strategy{strategy}, map[string]types.Position{})

	if len(closed) != 1 {
		t.Fatalf("expected 1 closed strategy, got %d", len(closed))
	}
	if len(updated) != 1 || updated[0].Closed == nil {
		t.Fatal("expected Closed to be set on the updated strategy")
	}
}

func TestReconcilePositions_LeavesUnopenedAloneWithoutPosition(t *testing.T) {
	logger := zap.NewNop()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	leg := testLeg("SPY", 100, types.Put, types.Seller)
	strategy := types.Strategy{Code: "SPY", Quantity: 1, Legs: []types.Leg{leg}, Created: now}

	updated, closed := reconcilePositions(logger, now, []types.Strategy{strategy}, map[string]types.Position{})

	if len(updated) != 0 || len(closed) != 0 {
		t.Fatalf("expected no transitions, got updated=%d closed=%d", len(updated), len(closed))
	}
}

func TestReconcilePositions_PartialFillDoesNotOpen(t *testing.T) {
	logger := zap.NewNop()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	buyLeg := testLeg("SPY", 95, types.Put, types.Buyer)
	sellLeg := testLeg("SPY", 100, types.Put, types.Seller)
	strategy := types.Strategy{
		Code: "SPY", Quantity: 1, Legs: []types.Leg{buyLeg, sellLeg}, Created: now,
	}
	positions := map[string]types.Position{
		sellLeg.LegId(): {Ownership: types.Seller, Quantity: 1},
	}

	updated, _ := reconcilePositions(logger, now, []types.Strategy{strategy}, positions)

	if len(updated) != 0 {
		t.Fatalf("expected strategy to remain un-opened on partial fill, got %d updates", len(updated))
	}
}

func TestReconcilePositions_InsufficientPositionStaysInWorkingSet(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	// need = quantity(2) * ratio(1) = 2, but the broker only reports 1: the
	// pseudocode's insufficient branch only decrements on a full match, so
	// this leftover position is never removed from the working set and
	// should still surface as an excess position once every strategy has
	// been walked.
	leg := testLeg("SPY", 100, types.Put, types.Seller)
	strategy := types.Strategy{
		Code: "SPY", Quantity: 2, Legs: []types.Leg{leg}, Created: now,
	}
	positions := map[string]types.Position{
		leg.LegId(): {Ownership: types.Seller, Quantity: 1},
	}

	updated, closed := reconcilePositions(logger, now, []types.Strategy{strategy}, positions)
	if len(updated) != 0 || len(closed) != 0 {
		t.Fatalf("expected no transitions on a partially-filled strategy, got updated=%d closed=%d", len(updated), len(closed))
	}

	messages := logs.FilterMessage("excess broker positions with no matching strategy").All()
	if len(messages) != 1 {
		t.Fatalf("expected the leftover position to be reported as excess, got %d excess-position log entries", len(messages))
	}
}

func TestReconcilePositions_LogsExcessPositions(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	positions := map[string]types.Position{
		"SPY.S.P.100.00.20260918": {Ownership: types.Seller, Quantity: 1},
	}

	updated, closed := reconcilePositions(logger, now, nil, positions)

	if len(updated) != 0 || len(closed) != 0 {
		t.Fatalf("expected no strategy transitions when there are no strategies, got updated=%d closed=%d", len(updated), len(closed))
	}
	if n := len(logs.FilterMessage("excess broker positions with no matching strategy").All()); n != 1 {
		t.Fatalf("expected the unmatched position to be reported as excess, got %d excess-position log entries", n)
	}
}
