package engine

import (
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

// reconcilePositions implements the spec's position-reconciliation
// algorithm: it walks every strategy's legs against a mutable working copy
// of broker positions, marking a strategy opened once every leg's expected
// quantity is accounted for, and closed once none of it remains. A position
// is only consumed (decremented, removed at zero) on a full match; an
// insufficient position is left untouched in the working set, so it still
// counts toward the trailing excess-positions warning. Strategies whose
// Opened/Closed timestamps changed are returned in updated (for
// DataStore.UpdateStrategy); strategies that just closed are also returned
// in closed (for StrategyRepo.Delete + DataStore.DeleteStrategy).
func reconcilePositions(logger *zap.Logger, now time.Time, strategies []types.Strategy, positions map[string]types.Position) (updated, closed []types.Strategy) {
	working := make(map[string]types.Position, len(positions))
	for id, p := range positions {
		working[id] = p
	}

	for _, strategy := range strategies {
		filled := 0
		for _, leg := range strategy.Legs {
			legId := leg.LegId()
			p, ok := working[legId]
			if !ok {
				logger.Debug("leg has no position", zap.String("legId", legId), zap.String("strategyId", strategy.StrategyId()))
				continue
			}
			if p.Ownership != leg.Ownership {
				logger.Debug("leg position ownership mismatch, treating as absent", zap.String("legId", legId))
				continue
			}
			need := strategy.Quantity * leg.Ratio
			if p.Quantity >= need {
				p.Quantity -= need
				filled += need
				if p.Quantity == 0 {
					delete(working, legId)
				} else {
					working[legId] = p
				}
			} else {
				filled += p.Quantity
				logger.Warn("insufficient positions for leg", zap.String("legId", legId),
					zap.Int("have", p.Quantity), zap.Int("need", need))
			}
		}

		expected := 0
		for _, leg := range strategy.Legs {
			expected += leg.Ratio * strategy.Quantity
		}

		changed := false
		if filled == expected && strategy.Opened == nil {
			opened := now
			strategy.Opened = &opened
			changed = true
		}
		if filled == 0 && strategy.Opened != nil && strategy.Closed == nil {
			closedAt := now
			strategy.Closed = &closedAt
			changed = true
			closed = append(closed, strategy)
		}
		if changed {
			strategy.Updated = now
			updated = append(updated, strategy)
		}
	}

	if len(working) > 0 {
		logger.Warn("excess broker positions with no matching strategy", zap.Int("count", len(working)))
	}

	return updated, closed
}
