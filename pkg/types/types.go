// Package types holds the engine's domain value objects and entities:
// the immutable market-data snapshots, option/strategy/order shapes, and
// the broker-facing enums they are built from.
package types

import (
	"fmt"
	"math"
	"time"
)

// AssetType enumerates the broker-qualifiable instrument kinds the engine
// watches or trades.
type AssetType string

const (
	AssetStock  AssetType = "Stock"
	AssetETF    AssetType = "ETF"
	AssetIndex  AssetType = "Index"
	AssetOption AssetType = "Option"
	AssetFuture AssetType = "Future"
)

// Currency is a three-letter ISO currency code.
type Currency string

const (
	USD Currency = "USD"
	// BaseCurrency marks a broker-reported cross-currency aggregate; account
	// values tagged with it are never accepted (see Translator).
	BaseCurrency Currency = "BASE"
)

// Right is an option's put/call designation.
type Right string

const (
	Call Right = "Call"
	Put  Right = "Put"
)

// Ownership is the signed side of a position or leg: Buyer pays to open,
// Seller receives to open.
type Ownership int

const (
	Buyer  Ownership = 1
	Seller Ownership = -1
)

// OrderRol identifies an order's role within a bracket.
type OrderRol string

const (
	RolNewLeg     OrderRol = "NL"
	RolTakeProfit OrderRol = "TP"
	RolStopLoss   OrderRol = "SL"
)

// OrderType is the broker order instruction.
type OrderType string

const (
	OrderLimit OrderType = "Limit"
	OrderStop  OrderType = "Stop"
)

// OrderStatus mirrors the broker's order lifecycle states.
type OrderStatus string

const (
	StatusAPIPending    OrderStatus = "APIPending"
	StatusPendingSubmit OrderStatus = "PendingSubmit"
	StatusPendingCancel OrderStatus = "PendingCancel"
	StatusPreSubmitted  OrderStatus = "PreSubmitted"
	StatusSubmitted     OrderStatus = "Submitted"
	StatusAPICancelled  OrderStatus = "APICancelled"
	StatusCancelled     OrderStatus = "Cancelled"
	StatusFilled        OrderStatus = "Filled"
	StatusInactive      OrderStatus = "Inactive"
)

// StrategyType names a templated multi-leg combination.
type StrategyType string

const (
	StrategyShortPut                StrategyType = "ShortPut"
	StrategyShortPutVerticalSpread  StrategyType = "ShortPutVerticalSpread"
	StrategyShortCallVerticalSpread StrategyType = "ShortCallVerticalSpread"
)

// AssetDef is a watch-list entry: a code paired with the asset type needed
// to qualify it with the broker.
type AssetDef struct {
	Code      string
	AssetType AssetType
	Currency  Currency
}

// AssetId identifies a tradable underlying. Immutable value object.
type AssetId struct {
	Code           string
	AssetType      AssetType
	Currency       Currency
	ContractHandle string
}

// Current is the latest quoted snapshot for an asset. Immutable.
type Current struct {
	High     float64
	Low      float64
	Close    float64
	Bid      float64
	BidSize  float64
	Ask      float64
	AskSize  float64
	Last     float64
	LastSize float64
	Volume   float64
	Time     time.Time
}

// Midpoint is (bid+ask)/2.
func (c Current) Midpoint() float64 {
	return (c.Bid + c.Ask) / 2
}

// MarketPrice resolves the best available trade price per spec: last when
// it falls within the quoted spread, else the midpoint, else close as the
// final fallback (also used when the computed value is -1 or NaN).
func (c Current) MarketPrice() float64 {
	price := math.NaN()
	if c.Bid <= c.Last && c.Last <= c.Ask {
		price = c.Last
	}
	if math.IsNaN(price) || price == 0 {
		price = c.Midpoint()
	}
	if math.IsNaN(price) || price == -1 {
		price = c.Close
	}
	return price
}

// Bar is one OHLC observation.
type Bar struct {
	Count   int
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Average float64
	Volume  float64
	Time    time.Time
}

// History is an ordered, immutable sequence of Bar with a creation
// timestamp used to gate staleness.
type History struct {
	Values  []Bar
	Created time.Time
}

// Stale reports whether the history should be refreshed: any difference of
// a calendar day or more between now and Created triggers a refresh.
func (h History) Stale(now time.Time) bool {
	if h.Created.IsZero() {
		return true
	}
	return now.Sub(h.Created) >= 24*time.Hour
}

// Direction is a directional forecast value. The zero value Undefined marks
// an element whose input windows are not yet filled.
type Direction string

const (
	Undefined Direction = ""
	Bullish   Direction = "Bullish"
	Bearish   Direction = "Bearish"
	Neutral   Direction = "Neutral"
)

// Measures is an immutable analytic snapshot for one asset. Rolling-window
// fields are sequences aligned element-wise with the asset's price history.
type Measures struct {
	IV               float64
	IVRank           float64
	IVPercentile     float64
	IVPct            []float64
	PricePercentile  float64
	PricePct         []float64
	Stdev            float64
	Beta             float64
	Correlation      float64
	RSI              []float64
	FastSMA          []float64
	SlowSMA          []float64
	VerySlowSMA      []float64
	FastSMASpeed     []float64
	FastSMASpeedDiff []float64
}

// Forecast is the directional assumption sequence aligned with an asset's
// price history.
type Forecast struct {
	DirectionalAssumption []Direction
}

// Asset is a mutable entity: its identity is its AssetId, and its fields
// are wholesale-replaced by the Engine's refresh phase, never mutated
// in place.
type Asset struct {
	Id           AssetId
	Current      Current
	PriceHistory History
	IVHistory    History
	Measures     Measures
	Forecast     Forecast
}

// OptionId identifies one option contract. Immutable value object.
type OptionId struct {
	UnderlyingId AssetId
	Expiration   time.Time
	Strike       float64
	Right        Right
	Multiplier   float64
	Contract     string
}

// DTE returns days to expiration relative to now.
func (id OptionId) DTE(now time.Time) int {
	d := id.Expiration.Sub(now)
	return int(d.Hours() / 24)
}

// Option is a value object: a quoted option contract with broker greeks.
type Option struct {
	Id                  OptionId
	High, Low, Close    float64
	Bid, Ask, Last      float64
	Delta, Gamma, Theta float64
	Vega, IV            float64
	OptionPrice         float64
	UnderlyingPrice     float64
	UnderlyingDividends float64
	Time                time.Time
}

// Midpoint is (bid+ask)/2.
func (o Option) Midpoint() float64 {
	return (o.Bid + o.Ask) / 2
}

// Leg is one buy-or-sell component of a strategy. Immutable; carries only
// the underlying's code (never a back-pointer to the owning Asset or
// Strategy) to avoid cyclic references.
type Leg struct {
	Option    Option
	Ownership Ownership
	Ratio     int
}

// LegId is a deterministic identity string built from the underlying code,
// ownership, right, strike, and expiration — used both as the position
// reconciliation key and as a reference-string component.
func (l Leg) LegId() string {
	own := "B"
	if l.Ownership == Seller {
		own = "S"
	}
	right := "C"
	if l.Option.Id.Right == Put {
		right = "P"
	}
	return fmt.Sprintf("%s.%s.%s.%.2f.%s",
		l.Option.Id.UnderlyingId.Code, own, right, l.Option.Id.Strike,
		l.Option.Id.Expiration.Format("20060102"))
}

// Price is the leg's contribution to entry price: the option's midpoint.
func (l Leg) Price() float64 {
	return l.Option.Midpoint()
}

// Strategy is a mutable entity identified by StrategyId.
type Strategy struct {
	Code             string
	StrategyType     StrategyType
	Ownership        Ownership
	Currency         Currency
	TakeProfitFactor float64
	StopLossFactor   float64
	Multiplier       float64
	Legs             []Leg
	Quantity         int
	EntryPrice       float64
	Opened           *time.Time
	Closed           *time.Time
	Created          time.Time
	Updated          time.Time
}

// StrategyId is the entity identity: code plus creation timestamp.
func (s Strategy) StrategyId() string {
	return fmt.Sprintf("%s_%s", s.Code, s.Created.Format("20060102150405.000000"))
}

// UnderlyingCode returns the shared underlying code of all legs, or "" if
// the strategy has no legs.
func (s Strategy) UnderlyingCode() string {
	if len(s.Legs) == 0 {
		return ""
	}
	return s.Legs[0].Option.Id.UnderlyingId.Code
}

// Order is an immutable order template built by the OrderCoordinator.
type Order struct {
	LegId           string
	Rol             OrderRol
	Ownership       Ownership
	Quantity        int
	Price           float64
	OrderType       OrderType
	ReferenceString string
}

// OrderReference builds the {strategy_id}_{leg_id}_{rol} reference string
// used to re-associate broker callbacks with in-memory strategies.
func OrderReference(strategyId, legId string, rol OrderRol) string {
	return fmt.Sprintf("%s_%s_%s", strategyId, legId, rol)
}

// TradeUpdate is an immutable broker order-status event.
type TradeUpdate struct {
	OrderId    string
	Status     OrderStatus
	Remaining  int
	Commission *float64
}

// Position is an immutable broker-reported position snapshot.
type Position struct {
	PositionId  string
	Code        string
	AssetType   AssetType
	Ownership   Ownership
	Expiration  *time.Time
	Strike      *float64
	Right       *Right
	Quantity    int
	AverageCost float64
}

// Account is a mutable snapshot of broker account values.
type Account struct {
	Id                 string
	NetLiquidation     float64
	BuyingPower        float64
	Cash               float64
	Funds              float64
	MaxDayTrades       int
	InitialMargin      float64
	MaintenanceMargin  float64
	ExcessLiquidity    float64
	Cushion            float64
	GrossPositionValue float64
	EquityWithLoan     float64
	SMA                float64
}
