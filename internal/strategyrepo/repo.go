// Package strategyrepo durably persists Strategy entities as one JSON file
// per strategy, keyed by strategy id, with closed strategies renamed rather
// than deleted so they remain available as an audit trail.
package strategyrepo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

// Repo is a JSON-file-backed StrategyRepo. Add/Update failures are logged
// and swallowed rather than returned: the engine's in-memory DataStore stays
// authoritative for the running session even if the disk write fails.
type Repo struct {
	dir    string
	logger *zap.Logger
}

// New returns a Repo rooted at dir, creating it if it does not exist.
func New(logger *zap.Logger, dir string) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Repo{dir: dir, logger: logger}, nil
}

func (r *Repo) path(strategyId string) string {
	return filepath.Join(r.dir, strategyId+".json")
}

func (r *Repo) closedPath(strategyId string) string {
	return filepath.Join(r.dir, strategyId+".json_closed")
}

// Add writes a strategy's current state to `{strategy_id}.json`.
func (r *Repo) Add(strategy *types.Strategy) {
	data, err := json.MarshalIndent(strategy, "", "  ")
	if err != nil {
		r.logger.Error("failed to serialize strategy", zap.String("strategyId", strategy.StrategyId()), zap.Error(err))
		return
	}
	if err := os.WriteFile(r.path(strategy.StrategyId()), data, 0o644); err != nil {
		r.logger.Error("failed to write strategy file", zap.String("strategyId", strategy.StrategyId()), zap.Error(err))
	}
}

// Update overwrites the strategy's file with its latest state.
func (r *Repo) Update(strategy *types.Strategy) {
	r.Add(strategy)
}

// Delete renames `{strategy_id}.json` to `{strategy_id}.json_closed`,
// preserving a closed-strategy audit trail rather than erasing history.
func (r *Repo) Delete(strategy *types.Strategy) {
	id := strategy.StrategyId()
	if err := os.Rename(r.path(id), r.closedPath(id)); err != nil {
		r.logger.Error("failed to close strategy file", zap.String("strategyId", id), zap.Error(err))
	}
}

// AllItems loads every `*.json` file in the repo directory into a mapping
// keyed by strategy id. A single corrupt file is logged and skipped; it
// never aborts the whole load.
func (r *Repo) AllItems() (map[string]*types.Strategy, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*types.Strategy{}, nil
		}
		return nil, err
	}

	out := make(map[string]*types.Strategy, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			r.logger.Error("failed to open strategy file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		var strat types.Strategy
		if err := json.Unmarshal(data, &strat); err != nil {
			r.logger.Error("failed to parse strategy file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		out[strat.StrategyId()] = &strat
		r.logger.Debug("loaded strategy", zap.String("file", entry.Name()))
	}
	return out, nil
}
