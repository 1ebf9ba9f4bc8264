package settings

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"densityflow/logger"
)

// Settings is an immutable snapshot of the live-tunable scanner thresholds.
// Evaluators read whole snapshots; mutation goes through Store.Update, which
// swaps the snapshot atomically. A change is observed by the next evaluation
// tick, never mid-tick.
type Settings struct {
	DistancePct     float64
	MinSizeUSD      float64
	AlertsEnabled   bool
	PrioritySymbols map[string]struct{}
}

// IsPriority reports whether the symbol is on the priority list.
func (s *Settings) IsPriority(symbol string) bool {
	_, ok := s.PrioritySymbols[symbol]
	return ok
}

// Partial carries the fields of an update request. Nil fields are untouched.
type Partial struct {
	DistancePct     *float64
	MinSizeUSD      *float64
	AlertsEnabled   *bool
	PrioritySymbols []string
}

// InvalidSettingError lists every rejected field of an update. No part of a
// rejected update is applied.
type InvalidSettingError struct {
	Fields []string
}

func (e *InvalidSettingError) Error() string {
	return fmt.Sprintf("invalid settings: %s", strings.Join(e.Fields, "; "))
}

// Store hands out consistent settings snapshots. Reads are lock-free; the
// mutex only serializes concurrent writers.
type Store struct {
	current atomic.Pointer[Settings]
	writeMu sync.Mutex
	log     *logger.Log
}

func NewStore(initial Settings) (*Store, error) {
	if err := validate(&initial); err != nil {
		return nil, err
	}
	if initial.PrioritySymbols == nil {
		initial.PrioritySymbols = make(map[string]struct{})
	}
	s := &Store{log: logger.GetLogger()}
	s.current.Store(&initial)
	s.log.WithComponent("settings").WithFields(logger.Fields{
		"distance_pct":     initial.DistancePct,
		"min_size_usd":     initial.MinSizeUSD,
		"alerts_enabled":   initial.AlertsEnabled,
		"priority_symbols": len(initial.PrioritySymbols),
	}).Info("settings store initialized")
	return s, nil
}

// Get returns the current snapshot. The returned value must not be mutated.
func (s *Store) Get() *Settings {
	return s.current.Load()
}

// Update validates and applies a partial mutation atomically, returning the
// resulting snapshot. On validation failure nothing is applied and the error
// names every offending field.
func (s *Store) Update(partial Partial) (*Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := *s.current.Load()
	if partial.DistancePct != nil {
		next.DistancePct = *partial.DistancePct
	}
	if partial.MinSizeUSD != nil {
		next.MinSizeUSD = *partial.MinSizeUSD
	}
	if partial.AlertsEnabled != nil {
		next.AlertsEnabled = *partial.AlertsEnabled
	}
	if partial.PrioritySymbols != nil {
		set := make(map[string]struct{}, len(partial.PrioritySymbols))
		for _, symbol := range partial.PrioritySymbols {
			set[strings.ToUpper(strings.TrimSpace(symbol))] = struct{}{}
		}
		next.PrioritySymbols = set
	} else {
		// Copy the set so the old snapshot stays immutable.
		set := make(map[string]struct{}, len(next.PrioritySymbols))
		for symbol := range next.PrioritySymbols {
			set[symbol] = struct{}{}
		}
		next.PrioritySymbols = set
	}

	if err := validate(&next); err != nil {
		return nil, err
	}

	s.current.Store(&next)
	s.log.WithComponent("settings").WithFields(logger.Fields{
		"distance_pct":   next.DistancePct,
		"min_size_usd":   next.MinSizeUSD,
		"alerts_enabled": next.AlertsEnabled,
	}).Info("settings updated")
	return &next, nil
}

func validate(s *Settings) error {
	var bad []string
	if s.DistancePct <= 0 {
		bad = append(bad, fmt.Sprintf("distance_pct must be > 0, got %v", s.DistancePct))
	}
	if s.MinSizeUSD < 0 {
		bad = append(bad, fmt.Sprintf("min_size_usd must be >= 0, got %v", s.MinSizeUSD))
	}
	if len(bad) > 0 {
		return &InvalidSettingError{Fields: bad}
	}
	return nil
}
