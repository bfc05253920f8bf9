package broker

import "github.com/atlas-quant/optopus-engine/pkg/types"

// Translator maps a broker's raw wire tags and values onto the engine's
// domain types. Every concrete adapter shares one Translator; only the raw
// tag vocabulary differs per broker, so the lookup tables below are keyed by
// the broker's own strings.
type Translator struct {
	sectype   map[string]types.AssetType
	right     map[string]types.Right
	status    map[string]types.OrderStatus
	ownership map[string]types.Ownership
	strategy  map[string]types.StrategyType
}

// NewTranslator builds a Translator with the standard lookup tables: broker
// security-type codes (STK, OPT, FUT, CASH, IND, CFD, BOND, CMDTY, FOP, FUND,
// IOPT) onto AssetType, rights C/P onto Call/Put, order actions BUY/SELL onto
// Buyer/Seller, and the full broker order-status vocabulary.
func NewTranslator() *Translator {
	return &Translator{
		sectype: map[string]types.AssetType{
			"STK":  types.AssetStock,
			"OPT":  types.AssetOption,
			"FUT":  types.AssetFuture,
			"CASH": types.AssetFuture,
			"IND":  types.AssetIndex,
			"CFD":  types.AssetStock,
			"BOND": types.AssetStock,
			"CMDTY": types.AssetFuture,
			"FOP":  types.AssetOption,
			"FUND": types.AssetStock,
			"IOPT": types.AssetOption,
		},
		right: map[string]types.Right{
			"C": types.Call,
			"P": types.Put,
		},
		status: map[string]types.OrderStatus{
			"ApiPending":    types.StatusAPIPending,
			"PendingSubmit": types.StatusPendingSubmit,
			"PendingCancel": types.StatusPendingCancel,
			"PreSubmitted":  types.StatusPreSubmitted,
			"Submitted":     types.StatusSubmitted,
			"ApiCancelled":  types.StatusAPICancelled,
			"Cancelled":     types.StatusCancelled,
			"Filled":        types.StatusFilled,
			"Inactive":      types.StatusInactive,
		},
		ownership: map[string]types.Ownership{
			"BUY":  types.Buyer,
			"SELL": types.Seller,
		},
		strategy: map[string]types.StrategyType{
			"SP":   types.StrategyShortPut,
			"SPVS": types.StrategyShortPutVerticalSpread,
			"SCVS": types.StrategyShortCallVerticalSpread,
		},
	}
}

// AssetType translates a broker security-type code; ok is false for an
// unrecognized code.
func (t *Translator) AssetType(raw string) (types.AssetType, bool) {
	v, ok := t.sectype[raw]
	return v, ok
}

// Right translates a broker right code ("C"/"P").
func (t *Translator) Right(raw string) (types.Right, bool) {
	v, ok := t.right[raw]
	return v, ok
}

// OrderStatus translates a broker order-status string.
func (t *Translator) OrderStatus(raw string) (types.OrderStatus, bool) {
	v, ok := t.status[raw]
	return v, ok
}

// Ownership translates a broker order action ("BUY"/"SELL").
func (t *Translator) Ownership(raw string) (types.Ownership, bool) {
	v, ok := t.ownership[raw]
	return v, ok
}

// ReverseAction returns the opposite order action, used to build a bracket's
// take-profit/stop-loss children against the parent's action.
func ReverseAction(action string) string {
	if action == "BUY" {
		return "SELL"
	}
	return "BUY"
}

// AccountTag is one broker account-value line: a currency-scoped tag/value
// pair as reported by the account-values stream.
type AccountTag struct {
	Tag      string
	Value    float64
	Currency string
}

// Account folds a list of raw account tags into an Account snapshot. Tags
// reported in a currency other than the engine's configured currency are
// ignored, and so is any tag carrying the "BASE" cross-currency aggregate
// marker; unrecognized tags drop silently.
func (t *Translator) Account(tags []AccountTag, configuredCurrency types.Currency) types.Account {
	var account types.Account
	for _, tag := range tags {
		if tag.Currency == string(types.BaseCurrency) {
			continue
		}
		if types.Currency(tag.Currency) != configuredCurrency {
			continue
		}
		switch tag.Tag {
		case "AvailableFunds":
			account.Funds = tag.Value
		case "BuyingPower":
			account.BuyingPower = tag.Value
		case "TotalCashValue":
			account.Cash = tag.Value
		case "DayTradesRemaining":
			account.MaxDayTrades = int(tag.Value)
		case "NetLiquidation":
			account.NetLiquidation = tag.Value
		case "InitMarginReq":
			account.InitialMargin = tag.Value
		case "MaintMarginReq":
			account.MaintenanceMargin = tag.Value
		case "ExcessLiquidity":
			account.ExcessLiquidity = tag.Value
		case "Cushion":
			account.Cushion = tag.Value
		case "GrossPositionValue":
			account.GrossPositionValue = tag.Value
		case "EquityWithLoanValue":
			account.EquityWithLoan = tag.Value
		case "SMA":
			account.SMA = tag.Value
		}
	}
	return account
}

// StrategyType translates a broker strategy-code tag (e.g. an order
// reference prefix) onto the engine's StrategyType, when the adapter
// round-trips it through order references.
func (t *Translator) StrategyType(raw string) (types.StrategyType, bool) {
	v, ok := t.strategy[raw]
	return v, ok
}
