package settings

import (
	"errors"
	"testing"
)

func validInitial() Settings {
	return Settings{
		DistancePct:   3.0,
		MinSizeUSD:    500000,
		AlertsEnabled: true,
	}
}

func TestNewStoreRejectsInvalidInitial(t *testing.T) {
	_, err := NewStore(Settings{DistancePct: 0, MinSizeUSD: 1})
	var invalid *InvalidSettingError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSettingError, got %v", err)
	}
}

func TestUpdateAppliesPartial(t *testing.T) {
	s, err := NewStore(validInitial())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	d := 1.5
	next, err := s.Update(Partial{DistancePct: &d})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if next.DistancePct != 1.5 {
		t.Fatalf("expected distance 1.5, got %v", next.DistancePct)
	}
	if next.MinSizeUSD != 500000 || !next.AlertsEnabled {
		t.Fatalf("untouched fields changed: %+v", next)
	}
	if s.Get().DistancePct != 1.5 {
		t.Fatalf("expected store to serve updated snapshot")
	}
}

func TestUpdateRejectsInvalidAtomically(t *testing.T) {
	s, err := NewStore(validInitial())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	badDistance := -1.0
	badSize := -5.0
	_, err = s.Update(Partial{DistancePct: &badDistance, MinSizeUSD: &badSize})
	var invalid *InvalidSettingError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSettingError, got %v", err)
	}
	if len(invalid.Fields) != 2 {
		t.Fatalf("expected both fields reported, got %v", invalid.Fields)
	}

	// Nothing from a rejected update may leak into the snapshot.
	got := s.Get()
	if got.DistancePct != 3.0 || got.MinSizeUSD != 500000 {
		t.Fatalf("rejected update mutated settings: %+v", got)
	}
}

func TestUpdatePrioritySymbols(t *testing.T) {
	s, err := NewStore(validInitial())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := s.Update(Partial{PrioritySymbols: []string{"btcusdt", " ETHUSDT "}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got := s.Get()
	if !got.IsPriority("BTCUSDT") || !got.IsPriority("ETHUSDT") {
		t.Fatalf("expected normalized priority symbols, got %v", got.PrioritySymbols)
	}
	if got.IsPriority("SOLUSDT") {
		t.Fatalf("unexpected priority symbol")
	}
}

func TestOldSnapshotStaysImmutable(t *testing.T) {
	s, err := NewStore(validInitial())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	before := s.Get()
	d := 9.0
	if _, err := s.Update(Partial{DistancePct: &d, PrioritySymbols: []string{"BTCUSDT"}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if before.DistancePct != 3.0 {
		t.Fatalf("previous snapshot mutated: %+v", before)
	}
	if before.IsPriority("BTCUSDT") {
		t.Fatalf("previous snapshot picked up new priority set")
	}
}
