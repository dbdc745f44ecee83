package database

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

// The fallback path needs no running Redis, which is also how the watchdog
// behaves when the cache is down.
func fallbackRepo() *RiskStateRepository {
	return NewRiskStateRepository(RedisConfig{Enabled: false}, zerolog.Nop())
}

func TestRiskSnapshotSaveLoadFallback(t *testing.T) {
	repo := fallbackRepo()
	ctx := context.Background()

	snap := &RiskSnapshot{
		Ticker:        "RELIANCE",
		ProductType:   "CNC",
		PositionHigh:  1100,
		StopLossPrice: 1055,
		AverageVSR:    1200,
		VSRHistory:    []float64{1100, 1200, 1300},
	}
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := repo.Load(ctx, "RELIANCE", "CNC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded == nil {
		t.Fatal("snapshot not found after save")
	}
	if loaded.PositionHigh != 1100 || loaded.StopLossPrice != 1055 {
		t.Errorf("snapshot fields lost: %+v", loaded)
	}
	if len(loaded.VSRHistory) != 3 {
		t.Errorf("Expected 3 history samples, got %d", len(loaded.VSRHistory))
	}
	if loaded.SavedAt.IsZero() {
		t.Error("SavedAt not stamped on save")
	}
}

func TestRiskSnapshotLoadMissing(t *testing.T) {
	repo := fallbackRepo()

	snap, err := repo.Load(context.Background(), "NOPE", "CNC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Errorf("Expected nil for unknown position, got %+v", snap)
	}
}

func TestRiskSnapshotDelete(t *testing.T) {
	repo := fallbackRepo()
	ctx := context.Background()

	if err := repo.Save(ctx, &RiskSnapshot{Ticker: "TCS", ProductType: "CNC", PositionHigh: 3600}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.Delete(ctx, "TCS", "CNC")

	snap, err := repo.Load(ctx, "TCS", "CNC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Error("snapshot still present after delete")
	}
}

func TestAvailableWithoutRedis(t *testing.T) {
	if fallbackRepo().Available() {
		t.Error("fallback-only repository must not report Redis available")
	}
}
