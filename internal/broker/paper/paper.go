// Package paper implements a self-contained paper-trading broker.Port so the
// engine can run end-to-end without a live broker connection. It synthesizes
// quotes and bars from a seeded pseudo-random walk, fills every order
// immediately at its limit price, and emits TradeUpdates back on its own
// event channel — grounded on the teacher's per-venue ExchangeAdapter shape
// and on the original minimal IB broker stub's connect/disconnect/sleep.
package paper

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/atlas-quant/optopus-engine/internal/broker"
	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

// Adapter is a deterministic, in-process paper-trading broker.Port.
type Adapter struct {
	logger *zap.Logger
	rng    *rand.Rand

	mu        sync.Mutex
	connected bool
	prices    map[string]float64
	contracts map[string]types.AssetDef
	account   types.Account
	events    chan types.TradeUpdate
}

var _ broker.Port = (*Adapter)(nil)

// New builds a paper Adapter seeded with seed for deterministic walks, and
// an initial account matching a comfortably funded paper account.
func New(logger *zap.Logger, seed int64) *Adapter {
	return &Adapter{
		logger:    logger,
		rng:       rand.New(rand.NewSource(seed)),
		prices:    make(map[string]float64),
		contracts: make(map[string]types.AssetDef),
		events:    make(chan types.TradeUpdate, 256),
		account: types.Account{
			Id:                 "PAPER",
			NetLiquidation:     100000,
			BuyingPower:        200000,
			Cash:               100000,
			Funds:              100000,
			MaxDayTrades:       3,
			ExcessLiquidity:    100000,
			GrossPositionValue: 0,
			EquityWithLoan:     100000,
		},
	}
}

func (a *Adapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	a.logger.Info("paper broker connected")
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	a.connected = false
	close(a.events)
	return nil
}

func (a *Adapter) AccountValues(_ context.Context) (types.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.account, nil
}

func (a *Adapter) Positions(_ context.Context) (map[string]types.Position, error) {
	return map[string]types.Position{}, nil
}

// QualifyAssets assigns each watch-list code a stable synthetic contract
// handle. Every code is 1-to-1 by construction; AmbiguousAssetError exists
// for adapters where broker-side resolution can fail, never for this one.
func (a *Adapter) QualifyAssets(_ context.Context, defs []types.AssetDef) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(defs))
	for _, def := range defs {
		handle := fmt.Sprintf("PAPER:%s:%s", def.Code, def.AssetType)
		a.contracts[handle] = def
		if _, ok := a.prices[def.Code]; !ok {
			a.prices[def.Code] = seedPrice(def.Code)
		}
		out[def.Code] = handle
	}
	return out, nil
}

// seedPrice derives a deterministic starting price from the asset code so
// repeated runs with the same watch list produce the same walk.
func seedPrice(code string) float64 {
	sum := 0
	for _, r := range code {
		sum += int(r)
	}
	return 50 + float64(sum%200)
}

func (a *Adapter) walk(price float64) float64 {
	change := (a.rng.Float64() - 0.5) * 0.02 * price
	next := price + change
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func (a *Adapter) SnapshotQuotes(_ context.Context, contracts []string) ([]types.Current, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.Current, 0, len(contracts))
	for _, handle := range contracts {
		def, ok := a.contracts[handle]
		if !ok {
			continue
		}
		price := a.walk(a.prices[def.Code])
		a.prices[def.Code] = price
		spread := price * 0.0005
		out = append(out, types.Current{
			High: price * 1.002, Low: price * 0.998, Close: price,
			Bid: price - spread, Ask: price + spread, Last: price,
			Time: time.Now(),
		})
	}
	return out, nil
}

func (a *Adapter) syntheticHistory(contract string, years int) types.History {
	a.mu.Lock()
	price, ok := a.prices[a.contracts[contract].Code]
	a.mu.Unlock()
	if !ok {
		price = 100
	}

	days := years * 252
	values := make([]types.Bar, days)
	for i := 0; i < days; i++ {
		price = a.walk(price)
		values[i] = types.Bar{
			Open: price, High: price * 1.01, Low: price * 0.99, Close: price,
			Average: price, Volume: 1_000_000, Count: 1,
			Time: time.Now().AddDate(0, 0, -(days - i)),
		}
	}
	return types.History{Values: values, Created: time.Now()}
}

func (a *Adapter) PriceHistory(_ context.Context, contract string, years int) (types.History, error) {
	return a.syntheticHistory(contract, years), nil
}

// IVHistory synthesizes an IV series as a bounded random walk around 0.25,
// since paper trading has no real options market to sample from.
func (a *Adapter) IVHistory(_ context.Context, contract string, years int) (types.History, error) {
	days := years * 252
	values := make([]types.Bar, days)
	iv := 0.25
	for i := 0; i < days; i++ {
		iv += (a.rng.Float64() - 0.5) * 0.01
		iv = math.Max(0.05, math.Min(1.0, iv))
		values[i] = types.Bar{Close: iv, Average: iv, Time: time.Now().AddDate(0, 0, -(days - i))}
	}
	return types.History{Values: values, Created: time.Now()}, nil
}

// OptionChain synthesizes a Black-Scholes-free toy chain: strikes spaced $5
// apart within priceBandWidth of the underlying, calls and puts at each
// strike, with deltas approximated from moneyness rather than priced from a
// real model — good enough to exercise strategy construction end-to-end.
func (a *Adapter) OptionChain(_ context.Context, contract string, expiration time.Time, priceBandWidth float64) (map[string]types.Option, error) {
	a.mu.Lock()
	def := a.contracts[contract]
	underlying := a.prices[def.Code]
	a.mu.Unlock()
	if underlying == 0 {
		underlying = 100
	}

	underlyingId := types.AssetId{Code: def.Code, AssetType: def.AssetType, Currency: types.USD, ContractHandle: contract}
	out := make(map[string]types.Option)
	lowStrike := math.Ceil((underlying-priceBandWidth)/5) * 5
	highStrike := math.Floor((underlying+priceBandWidth)/5) * 5

	for strike := lowStrike; strike <= highStrike; strike += 5 {
		for _, right := range []types.Right{types.Call, types.Put} {
			moneyness := (underlying - strike) / underlying
			delta := 0.5 + moneyness*2
			if right == types.Put {
				delta = delta - 1
			}
			delta = math.Max(-1, math.Min(1, delta))
			intrinsic := math.Max(0, underlying-strike)
			if right == types.Put {
				intrinsic = math.Max(0, strike-underlying)
			}
			mid := intrinsic + underlying*0.01
			key := fmt.Sprintf("%.2f%s", strike, string(right)[:1])
			out[key] = types.Option{
				Id: types.OptionId{
					UnderlyingId: underlyingId, Expiration: expiration, Strike: strike,
					Right: right, Multiplier: 100, Contract: fmt.Sprintf("%s:%s:%.2f", contract, right, strike),
				},
				Bid: mid * 0.97, Ask: mid * 1.03, Last: mid,
				Delta: delta, Gamma: 0.01, Theta: -0.02, Vega: 0.05,
				IV: 0.25, OptionPrice: mid, UnderlyingPrice: underlying,
				Time: time.Now(),
			}
		}
	}
	return out, nil
}

// PlaceStrategy fills every order immediately at its own limit price and
// emits a Filled TradeUpdate for each, the paper-trading equivalent of
// instant execution at the quoted price.
func (a *Adapter) PlaceStrategy(_ context.Context, strategy types.Strategy, parent, takeProfit, stopLoss types.Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("paper broker not connected")
	}
	for _, order := range []types.Order{parent, takeProfit, stopLoss} {
		select {
		case a.events <- types.TradeUpdate{OrderId: order.ReferenceString, Status: types.StatusFilled, Remaining: 0}:
		default:
			a.logger.Warn("trade update channel full, dropping event", zap.String("reference", order.ReferenceString))
		}
	}
	return nil
}

func (a *Adapter) OrderStatusEvents() <-chan types.TradeUpdate {
	return a.events
}
