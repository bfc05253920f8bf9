// Package builders implements the DefinedStrategy library: small templated
// functions that take a handful of legs and option-chain inputs and return
// a fully priced Strategy plus its derived breakeven/profit/loss/ROI
// figures, the way the original project's strategies module does.
package builders

import (
	"fmt"
	"math"
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
)

// ShortPutVerticalSpreadResult is the priced output of
// BuildShortPutVerticalSpread: the constructed Strategy plus its derived
// figures, all in contract-multiplier units.
type ShortPutVerticalSpreadResult struct {
	Strategy    types.Strategy
	EntryPrice  float64
	ProfitPrice float64
	Breakeven   float64
	MaxProfit   float64
	MaxLoss     float64
	ROI         float64

	// POP is a supplemental, non-invariant field: probability of profit,
	// delta-implied when both legs carry delta data, else approximated from
	// breakeven distance. Never consulted by any core invariant.
	POP float64
}

// BuildShortPutVerticalSpread builds a short-put vertical spread from a
// long (protective) put and a short put, both expiring on the same date,
// with the short strike above the long strike. profitFactor scales the
// take-profit trigger; multiplier is the contract multiplier (typically
// 100).
func BuildShortPutVerticalSpread(code string, created time.Time, buyPut, sellPut types.Option, profitFactor float64, multiplier float64) (ShortPutVerticalSpreadResult, error) {
	if buyPut.Id.Right != types.Put || sellPut.Id.Right != types.Put {
		return ShortPutVerticalSpreadResult{}, fmt.Errorf("short put vertical spread requires both legs to be puts")
	}
	if buyPut.Id.Strike >= sellPut.Id.Strike {
		return ShortPutVerticalSpreadResult{}, fmt.Errorf("buy_put.strike (%.2f) must be below sell_put.strike (%.2f)", buyPut.Id.Strike, sellPut.Id.Strike)
	}

	buyLeg := types.Leg{Option: buyPut, Ownership: types.Buyer, Ratio: 1}
	sellLeg := types.Leg{Option: sellPut, Ownership: types.Seller, Ratio: 1}

	entryPrice := float64(buyLeg.Ownership)*buyLeg.Price() + float64(sellLeg.Ownership)*sellLeg.Price()
	profitPrice := entryPrice * profitFactor
	breakeven := sellPut.Id.Strike + entryPrice
	maxProfit := entryPrice * multiplier
	maxLoss := (sellPut.Id.Strike - buyPut.Id.Strike + entryPrice) * multiplier
	roi := math.Abs(maxProfit / maxLoss)

	strategy := types.Strategy{
		Code:             code,
		StrategyType:     types.StrategyShortPutVerticalSpread,
		Ownership:        types.Seller,
		Currency:         types.USD,
		TakeProfitFactor: profitFactor,
		StopLossFactor:   2.0,
		Multiplier:       multiplier,
		Legs:             []types.Leg{buyLeg, sellLeg},
		EntryPrice:       entryPrice,
		Created:          created,
		Updated:          created,
	}

	return ShortPutVerticalSpreadResult{
		Strategy:    strategy,
		EntryPrice:  entryPrice,
		ProfitPrice: profitPrice,
		Breakeven:   breakeven,
		MaxProfit:   maxProfit,
		MaxLoss:     maxLoss,
		ROI:         roi,
		POP:         probabilityOfProfit(breakeven, buyPut, sellPut),
	}, nil
}

// probabilityOfProfit is delta-implied when both legs report a non-zero
// delta, else approximated from the breakeven's distance from the
// underlying price — grounded on the original source's abandoned alternate
// POP property, never consulted by any invariant here.
func probabilityOfProfit(breakeven float64, buyPut, sellPut types.Option) float64 {
	underlyingPrice := sellPut.UnderlyingPrice
	if underlyingPrice == 0 {
		underlyingPrice = buyPut.UnderlyingPrice
	}
	if underlyingPrice == 0 {
		return math.NaN()
	}
	if sellPut.Delta != 0 && buyPut.Delta != 0 {
		return 1 - math.Abs(sellPut.Delta)
	}
	return 1 - math.Abs(breakeven-underlyingPrice)/underlyingPrice
}
