// Package execution implements the OrderCoordinator: sizing and pricing a
// new Strategy against account risk limits, emitting the bracketed order
// group to the broker, persisting it, and reconciling broker trade updates
// back onto in-memory bracket state.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-quant/optopus-engine/internal/broker"
	"github.com/atlas-quant/optopus-engine/internal/strategyrepo"
	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

// Clock abstracts wall time for the coordinator's own bookkeeping
// timestamps, satisfied by the engine's Clock without importing it.
type Clock interface {
	Now() time.Time
}

// RiskLimits holds the inputs to the maximum-risk-per-trade formula.
type RiskLimits struct {
	PreservedCashFactor float64
	MaximumRiskFactor   float64
}

// MaximumRiskPerTrade computes
// min(net_liquidation × MAXIMUM_RISK_FACTOR, cash − net_liquidation × PRESERVED_CASH_FACTOR).
func (r RiskLimits) MaximumRiskPerTrade(account types.Account) float64 {
	byNetLiq := account.NetLiquidation * r.MaximumRiskFactor
	byCashReserve := account.Cash - account.NetLiquidation*r.PreservedCashFactor
	if byNetLiq < byCashReserve {
		return byNetLiq
	}
	return byCashReserve
}

// ManagedOrder tracks one broker bracket group (parent + take-profit +
// stop-loss child), keyed by the parent's reference string, so a fill on
// one child can cancel its sibling and so GetOrderStats can summarize open
// state. Adapted from the teacher's order_manager.go ManagedOrder, keyed by
// the {strategy_id}_{leg_id}_{rol} reference string instead of bare
// exchange order IDs.
type ManagedOrder struct {
	StrategyId      string
	LegId           string
	ParentReference string
	TakeProfitRef   string
	StopLossRef     string

	ParentStatus     types.OrderStatus
	TakeProfitStatus types.OrderStatus
	StopLossStatus   types.OrderStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderStats summarizes the coordinator's tracked brackets.
type OrderStats struct {
	TotalBrackets int
	OpenBrackets  int
	FilledParents int
}

// Coordinator implements OrderCoordinator: new_strategy sizing/pricing/
// bracket construction and on_trade_update bookkeeping.
type Coordinator struct {
	logger *zap.Logger
	port   broker.Port
	repo   *strategyrepo.Repo
	risk   RiskLimits
	clock  Clock

	mu       sync.Mutex
	brackets map[string]*ManagedOrder // keyed by ParentReference
	byLeg    map[string]string        // legId -> ParentReference, for lookup from any child reference
}

// New builds an OrderCoordinator.
func New(logger *zap.Logger, port broker.Port, repo *strategyrepo.Repo, risk RiskLimits, clock Clock) *Coordinator {
	return &Coordinator{
		logger:   logger.Named("order-coordinator"),
		port:     port,
		repo:     repo,
		risk:     risk,
		clock:    clock,
		brackets: make(map[string]*ManagedOrder),
		byLeg:    make(map[string]string),
	}
}

// ErrRiskLimitExceeded is returned by NewStrategy when sizing would exceed
// the account's maximum risk per trade.
type ErrRiskLimitExceeded struct {
	MaxRisk       float64
	ProposedRisk  float64
	StrategyCode  string
}

func (e *ErrRiskLimitExceeded) Error() string {
	return fmt.Sprintf("strategy %s: proposed risk %.2f exceeds maximum risk per trade %.2f",
		e.StrategyCode, e.ProposedRisk, e.MaxRisk)
}

// perLotMaxLoss approximates the worst-case loss of one lot as the
// distance between entry and stop-loss trigger, scaled by the strategy's
// multiplier — the quantity never allowed to push past the account's
// maximum risk per trade.
func perLotMaxLoss(strategy types.Strategy) float64 {
	stopDistance := strategy.EntryPrice*strategy.StopLossFactor - strategy.EntryPrice
	if stopDistance < 0 {
		stopDistance = -stopDistance
	}
	return stopDistance * strategy.Multiplier
}

// NewStrategy sizes, prices, and emits a new Strategy's bracket order group:
// quantity is fixed at 1 under current policy, but the size is still
// checked against the account's maximum risk per trade before it is ever
// submitted. Each leg's price is set to its option's midpoint, and the
// strategy is persisted to StrategyRepo before being hand off to the
// broker, so a crash between persistence and confirmation is recoverable.
// It returns the sized strategy (Quantity and leg prices filled in) so the
// caller's in-memory copy matches what was persisted and submitted.
func (c *Coordinator) NewStrategy(ctx context.Context, account types.Account, strategy types.Strategy) (types.Strategy, error) {
	strategy.Quantity = 1

	maxRisk := c.risk.MaximumRiskPerTrade(account)
	proposedRisk := float64(strategy.Quantity) * perLotMaxLoss(strategy)
	if proposedRisk > maxRisk {
		return strategy, &ErrRiskLimitExceeded{MaxRisk: maxRisk, ProposedRisk: proposedRisk, StrategyCode: strategy.Code}
	}

	for i := range strategy.Legs {
		strategy.Legs[i].Option.OptionPrice = strategy.Legs[i].Price()
	}

	strategyId := strategy.StrategyId()
	if len(strategy.Legs) == 0 {
		return strategy, fmt.Errorf("strategy %s has no legs", strategyId)
	}
	legId := strategy.Legs[0].LegId()

	parentRef := types.OrderReference(strategyId, legId, types.RolNewLeg)
	tpRef := types.OrderReference(strategyId, legId, types.RolTakeProfit)
	slRef := types.OrderReference(strategyId, legId, types.RolStopLoss)

	parent := types.Order{
		LegId: legId, Rol: types.RolNewLeg, Ownership: strategy.Ownership,
		Quantity: strategy.Quantity, Price: strategy.EntryPrice,
		OrderType: types.OrderLimit, ReferenceString: parentRef,
	}
	reverse := types.Seller
	if strategy.Ownership == types.Seller {
		reverse = types.Buyer
	}
	takeProfit := types.Order{
		LegId: legId, Rol: types.RolTakeProfit, Ownership: reverse,
		Quantity: strategy.Quantity, Price: strategy.EntryPrice * strategy.TakeProfitFactor,
		OrderType: types.OrderLimit, ReferenceString: tpRef,
	}
	stopLoss := types.Order{
		LegId: legId, Rol: types.RolStopLoss, Ownership: reverse,
		Quantity: strategy.Quantity, Price: strategy.EntryPrice * strategy.StopLossFactor,
		OrderType: types.OrderStop, ReferenceString: slRef,
	}

	c.repo.Add(&strategy)

	if err := c.port.PlaceStrategy(ctx, strategy, parent, takeProfit, stopLoss); err != nil {
		return strategy, fmt.Errorf("placing strategy %s: %w", strategyId, err)
	}

	now := c.clock.Now()
	c.mu.Lock()
	managed := &ManagedOrder{
		StrategyId: strategyId, LegId: legId,
		ParentReference: parentRef, TakeProfitRef: tpRef, StopLossRef: slRef,
		ParentStatus: types.StatusAPIPending, TakeProfitStatus: types.StatusAPIPending, StopLossStatus: types.StatusAPIPending,
		CreatedAt: now, UpdatedAt: now,
	}
	c.brackets[parentRef] = managed
	c.byLeg[legId] = parentRef
	c.mu.Unlock()

	c.logger.Info("strategy submitted",
		zap.String("strategyId", strategyId), zap.String("code", strategy.Code),
		zap.Float64("entryPrice", strategy.EntryPrice))
	return strategy, nil
}

// OnTradeUpdate locates the (strategy_id, leg_id, rol) bracket from the
// trade's reference string and updates its in-memory status. It never
// retries — retries are the loop's responsibility, per spec.
func (c *Coordinator) OnTradeUpdate(trade types.TradeUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, managed := range c.brackets {
		switch trade.OrderId {
		case managed.ParentReference:
			managed.ParentStatus = trade.Status
		case managed.TakeProfitRef:
			managed.TakeProfitStatus = trade.Status
		case managed.StopLossRef:
			managed.StopLossStatus = trade.Status
		default:
			continue
		}
		managed.UpdatedAt = c.clock.Now()
		if trade.Status == types.StatusFilled && trade.Remaining == 0 {
			c.logger.Info("order filled", zap.String("reference", trade.OrderId), zap.String("strategyId", managed.StrategyId))
		}
		return
	}
}

// CancelLinkedOrders implements one-cancels-other: call after observing one
// child of a bracket fill, to cancel its sibling. The actual broker cancel
// call is left to the caller (the Engine), which owns the BrokerPort
// context; this only marks the bookkeeping so GetOrderStats stays accurate.
func (c *Coordinator) CancelLinkedOrders(parentReference string) (siblingReference string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	managed, found := c.brackets[parentReference]
	if !found {
		return "", false
	}
	switch {
	case managed.TakeProfitStatus == types.StatusFilled && managed.StopLossStatus != types.StatusCancelled:
		managed.StopLossStatus = types.StatusAPICancelled
		return managed.StopLossRef, true
	case managed.StopLossStatus == types.StatusFilled && managed.TakeProfitStatus != types.StatusCancelled:
		managed.TakeProfitStatus = types.StatusAPICancelled
		return managed.TakeProfitRef, true
	default:
		return "", false
	}
}

// GetOrderStats summarizes the coordinator's tracked brackets.
func (c *Coordinator) GetOrderStats() OrderStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := OrderStats{TotalBrackets: len(c.brackets)}
	for _, managed := range c.brackets {
		if managed.ParentStatus == types.StatusFilled {
			stats.FilledParents++
		} else {
			stats.OpenBrackets++
		}
	}
	return stats
}
