// Package engine owns the main loop: refresh → reconcile → recompute →
// run algorithms → sleep. It is the engine's single writer onto the
// DataStore, per the concurrency model's single-threaded cooperative
// scheduling.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-quant/optopus-engine/internal/broker"
	"github.com/atlas-quant/optopus-engine/internal/compute"
	"github.com/atlas-quant/optopus-engine/internal/config"
	"github.com/atlas-quant/optopus-engine/internal/data"
	"github.com/atlas-quant/optopus-engine/internal/events"
	"github.com/atlas-quant/optopus-engine/internal/execution"
	"github.com/atlas-quant/optopus-engine/internal/strategyrepo"
	"github.com/atlas-quant/optopus-engine/pkg/types"
	"github.com/atlas-quant/optopus-engine/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// quoteBatchSize caps how many contracts are requested in a single
// SnapshotQuotes call, matching the broker's per-request ticker limit.
const quoteBatchSize = 50

// historyFetchConcurrency bounds how many price/IV history pulls run at
// once against the broker.
const historyFetchConcurrency = 8

// Metrics is the set of counters the Engine keeps; internal/api's Prometheus
// collector reads them through GetMetrics on every scrape. Grounded on the
// teacher's OrchestratorMetrics/metricsLoop shape.
type Metrics struct {
	LoopIterations        int64
	StrategiesOpened      int64
	StrategiesClosed      int64
	ReconciliationWarnings int64
	LastLoopAt            time.Time
}

// Engine is the trading engine's main loop and read API surface.
type Engine struct {
	logger *zap.Logger
	cfg    config.Config
	clock  Clock

	port  broker.Port
	store *data.Store
	repo  *strategyrepo.Repo
	coord *execution.Coordinator
	bus   *events.Bus

	registry *registry

	state   stateBox
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	metrics Metrics
}

// New constructs an Engine. bus may be nil, in which case lifecycle events
// are simply not published (the API layer then has nothing to subscribe
// to). Call RegisterAlgorithm for each user algorithm before Start.
func New(logger *zap.Logger, cfg config.Config, clock Clock, port broker.Port, store *data.Store, repo *strategyrepo.Repo, coord *execution.Coordinator, bus *events.Bus) *Engine {
	return &Engine{
		logger:   logger.Named("engine"),
		cfg:      cfg,
		clock:    clock,
		port:     port,
		store:    store,
		repo:     repo,
		coord:    coord,
		bus:      bus,
		registry: newRegistry(),
	}
}

// publish forwards event to the bus if one is configured.
func (e *Engine) publish(event events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

// setState transitions the engine's lifecycle state and announces it on
// the bus.
func (e *Engine) setState(s State) {
	e.state.Store(s)
	e.publish(events.EngineStateEvent{
		BaseEvent: events.BaseEvent{Type: events.EventEngineState, Timestamp: e.clock.Now()},
		State:     s.String(),
	})
}

// RegisterAlgorithm adds a user algorithm callback, invoked in registration
// order on every loop iteration once the engine is running.
func (e *Engine) RegisterAlgorithm(name string, algo Algorithm) {
	e.registry.Register(name, algo)
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state.Load() }

// Store exposes the read-only DataStore view to algorithms and the API.
func (e *Engine) Store() *data.Store { return e.store }

// Start runs the 8-step start sequence synchronously, then launches the
// loop and metrics goroutines in the background. It fails fast: any step
// failing aborts Start without launching the loop.
func (e *Engine) Start(ctx context.Context) error {
	if e.state.Load() != StateStopped {
		return fmt.Errorf("engine already started")
	}
	e.setState(StateStarting)
	e.logger.Info("starting engine")

	if err := e.store.LoadStrategies(e.repo); err != nil {
		e.setState(StateStopped)
		return types.NewEngineError(types.KindRepoIOFailure, "loading strategies", err)
	}

	if err := e.port.Connect(ctx); err != nil {
		e.setState(StateStopped)
		return types.NewEngineError(types.KindConnectionLost, "connecting broker", err)
	}
	e.clock.Sleep(1 * time.Second)

	account, err := e.port.AccountValues(ctx)
	if err != nil {
		e.setState(StateStopped)
		return types.NewEngineError(types.KindTransientRPC, "pulling account values", err)
	}
	e.store.UpdateAccount(account)

	handles, err := e.port.QualifyAssets(ctx, e.cfg.WatchList)
	if err != nil {
		e.setState(StateStopped)
		return types.NewEngineError(types.KindAmbiguousAsset, "qualifying watch list", err)
	}
	assets := make(map[types.AssetId]*types.Asset, len(handles))
	for _, def := range e.cfg.WatchList {
		handle, ok := handles[def.Code]
		if !ok {
			continue
		}
		id := types.AssetId{Code: def.Code, AssetType: def.AssetType, Currency: def.Currency, ContractHandle: handle}
		assets[id] = &types.Asset{Id: id}
	}
	e.store.UpdateAssets(assets)

	if err := e.refreshAssets(ctx); err != nil {
		e.setState(StateStopped)
		return err
	}

	e.recompute()

	if err := e.requalifyOpenStrategyLegs(ctx); err != nil {
		e.logger.Warn("failed to re-qualify some open strategy legs", zap.Error(err))
	}

	if err := e.reconcile(ctx); err != nil {
		e.setState(StateStopped)
		return err
	}

	e.stopCh = make(chan struct{})
	e.setState(StateRunning)
	e.wg.Add(3)
	go e.run(ctx)
	go e.metricsLoop(ctx)
	go e.tradeUpdateLoop()

	e.logger.Info("engine started")
	return nil
}

// Stop signals the loop and metrics goroutines to exit at their next
// cooperative check point, and blocks until they have.
func (e *Engine) Stop() error {
	if e.state.Load() != StateRunning {
		return nil
	}
	e.setState(StateStopping)
	close(e.stopCh)
	// Disconnect before Wait: it closes the broker's events channel, which
	// is the only thing that unblocks tradeUpdateLoop's range.
	disconnectErr := e.port.Disconnect()
	e.wg.Wait()
	e.setState(StateStopped)
	if disconnectErr != nil {
		return fmt.Errorf("disconnecting broker: %w", disconnectErr)
	}
	e.logger.Info("engine stopped")
	return nil
}

// run is the loop body: refresh, reconcile, recompute, run algorithms,
// sleep. It exits when stopCh closes or ctx is cancelled.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		default:
		}

		if err := e.refreshAssets(ctx); err != nil {
			if ee, ok := err.(*types.EngineError); ok && ee.Fatal() {
				e.logger.Error("fatal broker error, stopping", zap.Error(err))
				e.setState(StateStopping)
				return
			}
			e.logger.Warn("refresh failed, continuing next iteration", zap.Error(err))
		}

		if err := e.reconcile(ctx); err != nil {
			e.logger.Warn("reconciliation failed", zap.Error(err))
		}

		e.recompute()

		if err := e.registry.runAll(e, e.logger); err != nil {
			e.logger.Warn("one or more algorithms failed this iteration", zap.Error(err))
		}

		e.mu.Lock()
		e.metrics.LoopIterations++
		e.metrics.LastLoopAt = e.clock.Now()
		e.mu.Unlock()

		// Sleep goes through the injected Clock (not a select on
		// ctx/stopCh) so tests can drive the loop deterministically; Stop
		// is observed at the top of the next iteration instead of mid-sleep.
		e.clock.Sleep(e.cfg.SleepLoop)
	}
}

// NewStrategy is the algorithm-facing entry point: it pulls the current
// account snapshot and hands the strategy to the OrderCoordinator. The
// coordinator sizes and prices the strategy (setting Quantity and each
// leg's OptionPrice) before persisting and submitting it, so the copy
// stored here must be the sized one it returns — not the caller's
// original, zero-quantity value — or reconciliation would see a strategy
// with Quantity 0 and immediately open-then-close it.
func (e *Engine) NewStrategy(ctx context.Context, strategy types.Strategy) error {
	account := e.store.Account()
	sized, err := e.coord.NewStrategy(ctx, account, strategy)
	if err != nil {
		return err
	}
	e.store.AddStrategy(&sized)
	return nil
}

// refreshAssets replaces Current and, when stale, History for every watched
// asset — the loop body's step 1 and the start sequence's step 5 share this.
func (e *Engine) refreshAssets(ctx context.Context) error {
	ids := e.store.AssetIds()
	contracts := make([]string, 0, len(ids))
	byContract := make(map[string]types.AssetId, len(ids))
	for _, id := range ids {
		contracts = append(contracts, id.ContractHandle)
		byContract[id.ContractHandle] = id
	}

	quotes, err := utils.BatchProcess(contracts, quoteBatchSize, func(batch []string) ([]types.Current, error) {
		return e.port.SnapshotQuotes(ctx, batch)
	})
	if err != nil {
		return types.NewEngineError(types.KindTransientRPC, "snapshot_quotes", err)
	}
	for i, quote := range quotes {
		if i >= len(contracts) {
			break
		}
		id := byContract[contracts[i]]
		e.store.ApplyCurrent(id, quote)
	}

	// Stale assets' price/IV history is independent per asset, so fetch it
	// concurrently (bounded, since a live broker rate-limits history pulls)
	// rather than paying round-trip latency once per watched asset in turn.
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(historyFetchConcurrency)
	for _, id := range ids {
		id := id
		asset, ok := e.store.Asset(id)
		if !ok || !asset.PriceHistory.Stale(e.clock.Now()) {
			continue
		}
		group.Go(func() error {
			price, err := e.port.PriceHistory(gctx, id.ContractHandle, e.cfg.HistoricalYears)
			if err != nil {
				e.logger.Warn("price_history failed", zap.String("code", id.Code), zap.Error(err))
				return nil
			}
			iv, err := e.port.IVHistory(gctx, id.ContractHandle, e.cfg.HistoricalYears)
			if err != nil {
				e.logger.Warn("iv_history failed", zap.String("code", id.Code), zap.Error(err))
				return nil
			}
			e.store.ApplyHistory(id, price, iv)
			return nil
		})
	}
	return group.Wait()
}

// recompute runs assets_loop_computation (per-asset RSI/SMA/IV-rank/
// percentile/stdev), assets_vector_computation (cross-asset beta and
// correlation against the market benchmark), and directional_forecast,
// writing the results back as each asset's Measures and Forecast.
func (e *Engine) recompute() {
	assets := e.store.Assets()

	closeSeries := make(map[string][]float64, len(assets))
	for id, asset := range assets {
		series := make([]float64, len(asset.PriceHistory.Values))
		for i, bar := range asset.PriceHistory.Values {
			series[i] = bar.Close
		}
		closeSeries[id.Code] = series
	}

	betas := compute.Beta(closeSeries, e.cfg.MarketBenchmark, e.cfg.Windows.Beta)
	correlations := compute.Correlation(closeSeries, e.cfg.MarketBenchmark, e.cfg.Windows.Correlation)

	for id, asset := range assets {
		priceSeries := closeSeries[id.Code]
		ivSeries := make([]float64, len(asset.IVHistory.Values))
		for i, bar := range asset.IVHistory.Values {
			ivSeries[i] = bar.Close
		}

		rsi := compute.RSI(priceSeries, e.cfg.Windows.RSI)
		fastSMA := compute.SMA(priceSeries, e.cfg.Windows.FastSMA)
		slowSMA := compute.SMA(priceSeries, e.cfg.Windows.SlowSMA)
		verySlowSMA := compute.SMA(priceSeries, e.cfg.Windows.VerySlowSMA)
		stdev := compute.Stdev(priceSeries, e.cfg.Windows.Stdev)
		ivPct := compute.PctChange(ivSeries, e.cfg.Windows.IV)
		pricePct := compute.PctChange(priceSeries, e.cfg.Windows.Price)
		fastSMASpeed := compute.SMASpeed(fastSMA)
		fastSMASpeedDiff := compute.SMASpeedDiff(fastSMASpeed)

		var currentIV, ivRank, ivPercentile, pricePercentile float64
		if len(ivSeries) > 0 {
			currentIV = ivSeries[len(ivSeries)-1]
			// IVRank wants a separate low/high history; the paper adapter's
			// bars only carry a single IV close series, so both are the
			// same series here — live broker IV data (separate bid/ask
			// implied-vol curves) would pass distinct series instead.
			ivRank = compute.IVRank(ivSeries, ivSeries, currentIV)
			ivPercentile = compute.IVPercentile(ivSeries, currentIV, e.cfg.HistoricalYears)
		}
		if len(priceSeries) > 0 {
			pricePercentile = compute.PricePercentile(priceSeries, asset.Current.MarketPrice(), e.cfg.HistoricalYears)
		}

		measures := types.Measures{
			IV:               currentIV,
			IVRank:           ivRank,
			IVPercentile:     ivPercentile,
			IVPct:            ivPct,
			PricePercentile:  pricePercentile,
			PricePct:         pricePct,
			Stdev:            stdev,
			Beta:             betas[id.Code],
			Correlation:      correlations[id.Code],
			RSI:              rsi,
			FastSMA:          fastSMA,
			SlowSMA:          slowSMA,
			VerySlowSMA:      verySlowSMA,
			FastSMASpeed:     fastSMASpeed,
			FastSMASpeedDiff: fastSMASpeedDiff,
		}

		directions := compute.DirectionalForecast(fastSMA, slowSMA)
		forecast := types.Forecast{DirectionalAssumption: translateDirections(directions)}

		e.store.ApplyMeasures(id, measures, forecast)
	}
}

func translateDirections(in []compute.Direction) []types.Direction {
	out := make([]types.Direction, len(in))
	for i, d := range in {
		switch d {
		case compute.DirBullish:
			out[i] = types.Bullish
		case compute.DirBearish:
			out[i] = types.Bearish
		default:
			out[i] = types.Undefined
		}
	}
	return out
}

// requalifyOpenStrategyLegs re-qualifies every open strategy's leg
// contracts against the broker, since a restart may find stale broker
// contract IDs in a persisted strategy. This is start-sequence step 7;
// failures are logged, never fatal, since the reconciliation pass that
// follows tolerates a leg temporarily missing its position.
func (e *Engine) requalifyOpenStrategyLegs(ctx context.Context) error {
	for _, strategy := range e.store.OpenStrategies() {
		code := strategy.UnderlyingCode()
		if code == "" {
			continue
		}
		if _, err := e.port.QualifyAssets(ctx, []types.AssetDef{{Code: code, AssetType: types.AssetOption, Currency: strategy.Currency}}); err != nil {
			e.logger.Warn("failed to re-qualify strategy legs", zap.String("strategyId", strategy.StrategyId()), zap.Error(err))
		}
	}
	return nil
}

// reconcile runs the position-reconciliation algorithm against the
// broker's current positions and persists any resulting Opened/Closed
// transitions.
func (e *Engine) reconcile(ctx context.Context) error {
	positions, err := utils.Retry(utils.DefaultRetryConfig(), func() (map[string]types.Position, error) {
		return e.port.Positions(ctx)
	})
	if err != nil {
		return types.NewEngineError(types.KindTransientRPC, "positions", err)
	}

	// All not-yet-closed strategies participate, not just already-opened
	// ones: a newly-filled strategy transitions from un-opened to opened
	// here.
	all := e.store.Strategies()
	population := make([]types.Strategy, 0, len(all))
	for _, s := range all {
		if s.Closed == nil {
			population = append(population, s)
		}
	}

	updated, closed := reconcilePositions(e.logger, e.clock.Now(), population, positions)

	for _, strategy := range updated {
		e.store.UpdateStrategy(&strategy)
		e.repo.Update(&strategy)
		if strategy.Opened != nil && strategy.Closed == nil {
			e.mu.Lock()
			e.metrics.StrategiesOpened++
			e.mu.Unlock()
			e.publish(events.StrategyOpenedEvent{
				BaseEvent:  events.BaseEvent{Type: events.EventStrategyOpened, Timestamp: e.clock.Now()},
				StrategyId: strategy.StrategyId(), Code: strategy.Code,
			})
		}
	}
	for _, strategy := range closed {
		e.repo.Delete(&strategy)
		e.store.DeleteStrategy(strategy.StrategyId())
		e.mu.Lock()
		e.metrics.StrategiesClosed++
		e.mu.Unlock()
		e.publish(events.StrategyClosedEvent{
			BaseEvent:  events.BaseEvent{Type: events.EventStrategyClosed, Timestamp: e.clock.Now()},
			StrategyId: strategy.StrategyId(), Code: strategy.Code,
		})
	}
	return nil
}

// metricsLoop logs a debug snapshot of the loop counters every 10 seconds.
// It does not update any counter or LastLoopAt; the Prometheus collector in
// internal/api reads GetMetrics() on scrape rather than being pushed to.
func (e *Engine) metricsLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			m := e.metrics
			e.mu.Unlock()
			e.logger.Debug("engine metrics",
				zap.Int64("loopIterations", m.LoopIterations),
				zap.Int64("strategiesOpened", m.StrategiesOpened),
				zap.Int64("strategiesClosed", m.StrategiesClosed))
		}
	}
}

// tradeUpdateLoop forwards every broker TradeUpdate to the OrderCoordinator
// until the broker closes the events channel on Disconnect.
func (e *Engine) tradeUpdateLoop() {
	defer e.wg.Done()
	for trade := range e.port.OrderStatusEvents() {
		e.coord.OnTradeUpdate(trade)
		e.publish(events.OrderStatusEvent{
			BaseEvent: events.BaseEvent{Type: events.EventOrderStatus, Timestamp: e.clock.Now()},
			OrderId:   trade.OrderId, Status: trade.Status, Remaining: trade.Remaining,
		})
	}
}

// GetMetrics returns a copy of the engine's counters.
func (e *Engine) GetMetrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}
