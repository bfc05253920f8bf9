// Package broker defines the capability set the Engine requires from a
// brokerage connection (BrokerPort) and the raw-tag translation any concrete
// adapter needs (Translator). Concrete adapters live in subpackages, e.g.
// broker/paper for the bundled paper-trading reference implementation.
package broker

import (
	"context"
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
)

// Port is the capability set the Engine requires from a broker connection.
// Any concrete adapter (paper, live) must implement it in full.
type Port interface {
	Connect(ctx context.Context) error
	Disconnect() error

	AccountValues(ctx context.Context) (types.Account, error)
	Positions(ctx context.Context) (map[string]types.Position, error)

	// QualifyAssets resolves each AssetDef to a broker contract handle. A
	// code that does not resolve to exactly one contract returns
	// AmbiguousAssetError.
	QualifyAssets(ctx context.Context, defs []types.AssetDef) (map[string]string, error)

	SnapshotQuotes(ctx context.Context, contracts []string) ([]types.Current, error)
	PriceHistory(ctx context.Context, contract string, years int) (types.History, error)
	IVHistory(ctx context.Context, contract string, years int) (types.History, error)

	// OptionChain returns the contracts within the DTE window and price band
	// around the underlying, keyed by "{strike}{right}" (e.g. "100.00C").
	OptionChain(ctx context.Context, contract string, expiration time.Time, priceBandWidth float64) (map[string]types.Option, error)

	// PlaceStrategy submits a parent order with two bracketed children. The
	// parent must transmit=false; the last child transmits=true so the
	// broker activates the group atomically.
	PlaceStrategy(ctx context.Context, strategy types.Strategy, parent, takeProfit, stopLoss types.Order) error

	// OrderStatusEvents returns a channel of TradeUpdates pushed by the
	// broker for the lifetime of the connection. The channel is closed on
	// Disconnect.
	OrderStatusEvents() <-chan types.TradeUpdate
}

// AmbiguousAssetError reports that a watch-list code did not resolve to
// exactly one broker contract.
type AmbiguousAssetError struct {
	Code    string
	Matches int
}

func (e *AmbiguousAssetError) Error() string {
	return "ambiguous asset " + e.Code
}
