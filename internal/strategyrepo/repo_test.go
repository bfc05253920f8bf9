package strategyrepo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

func TestRepo_AddUpdateAllItems(t *testing.T) {
	dir := t.TempDir()
	repo, err := New(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	strat := &types.Strategy{Code: "SPY", Created: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)}
	repo.Add(strat)

	if _, err := os.Stat(filepath.Join(dir, strat.StrategyId()+".json")); err != nil {
		t.Fatalf("expected strategy file to exist: %v", err)
	}

	items, err := repo.AllItems()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if got := items[strat.StrategyId()].Code; got != "SPY" {
		t.Fatalf("expected code SPY, got %v", got)
	}
}

func TestRepo_DeleteRenamesToClosed(t *testing.T) {
	dir := t.TempDir()
	repo, err := New(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	strat := &types.Strategy{Code: "SPY", Created: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)}
	repo.Add(strat)
	repo.Delete(strat)

	if _, err := os.Stat(filepath.Join(dir, strat.StrategyId()+".json")); !os.IsNotExist(err) {
		t.Fatalf("expected .json to be gone, got err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, strat.StrategyId()+".json_closed")); err != nil {
		t.Fatalf("expected .json_closed to exist: %v", err)
	}

	items, err := repo.AllItems()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected closed strategy to be excluded from AllItems, got %d", len(items))
	}
}
