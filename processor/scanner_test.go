package processor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"densityflow/alert"
	appconfig "densityflow/config"
	"densityflow/internal/channel"
	"densityflow/models"
	"densityflow/orderbook"
	"densityflow/settings"
)

type stubResyncer struct {
	mu      sync.Mutex
	symbols []string
}

func (s *stubResyncer) RequestResync(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = append(s.symbols, symbol)
}

func (s *stubResyncer) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

func minimalScannerConfig() *appconfig.Config {
	return &appconfig.Config{
		Scanner: appconfig.ScannerConfig{
			IntervalMs:         1000,
			PriorityIntervalMs: 250,
			EvictionInterval:   time.Minute,
		},
	}
}

func newTestScanner(t *testing.T) (*Scanner, *stubResyncer, *channel.Channels) {
	t.Helper()

	ch := channel.NewChannels(16, 16, 4)
	books := orderbook.NewStore([]string{"BTCUSDT"})
	st, err := settings.NewStore(settings.Settings{
		DistancePct:   3.0,
		MinSizeUSD:    4900,
		AlertsEnabled: true,
	})
	if err != nil {
		t.Fatalf("settings store: %v", err)
	}
	resyncer := &stubResyncer{}
	dedup := alert.NewDeduplicator(alert.Config{})

	s := NewScanner(minimalScannerConfig(), ch, books, st, dedup, resyncer)
	s.ctx = context.Background()
	return s, resyncer, ch
}

func rawSnapshot(t *testing.T, sequence int64, bids, asks [][]string) models.RawBookMessage {
	t.Helper()
	data, err := json.Marshal(models.BinanceDepthSnapshotResp{
		LastUpdateID: sequence,
		Bids:         bids,
		Asks:         asks,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return models.RawBookMessage{
		Exchange:    "binance",
		Symbol:      "BTCUSDT",
		Market:      "future-orderbook",
		MessageType: models.MessageTypeSnapshot,
		Data:        data,
		Timestamp:   time.Now(),
	}
}

func rawDelta(t *testing.T, first, last, prev int64, bids, asks [][]string) models.RawBookMessage {
	t.Helper()
	data, err := json.Marshal(models.BinanceDepthEventResp{
		Event:            "depthUpdate",
		Symbol:           "BTCUSDT",
		FirstUpdateID:    first,
		LastUpdateID:     last,
		PrevLastUpdateID: prev,
		Bids:             bids,
		Asks:             asks,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return models.RawBookMessage{
		Exchange:    "binance",
		Symbol:      "BTCUSDT",
		Market:      "future-orderbook",
		MessageType: models.MessageTypeDelta,
		Data:        data,
		Timestamp:   time.Now(),
	}
}

func TestScannerStartStop(t *testing.T) {
	s, _, _ := newTestScanner(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
	cancel()
	s.Stop()
}

func TestApplySnapshotThenDelta(t *testing.T) {
	s, _, _ := newTestScanner(t)

	s.apply(rawSnapshot(t, 100, [][]string{{"100", "5"}}, [][]string{{"101", "5"}}))

	book, _ := s.books.Get("BTCUSDT")
	if book.State() != orderbook.Synced {
		t.Fatalf("expected synced book, got %s", book.State())
	}

	s.apply(rawDelta(t, 101, 105, 100, [][]string{{"99", "50"}}, nil))
	if book.Sequence() != 105 {
		t.Fatalf("expected sequence 105, got %d", book.Sequence())
	}

	view := book.View()
	if len(view.Bids) != 2 || view.Bids[1].Price != 99 {
		t.Fatalf("unexpected bids after delta: %+v", view.Bids)
	}
}

func TestApplyGapRequestsResync(t *testing.T) {
	s, resyncer, _ := newTestScanner(t)

	s.apply(rawSnapshot(t, 100, [][]string{{"100", "5"}}, [][]string{{"101", "5"}}))
	s.apply(rawDelta(t, 150, 160, 149, [][]string{{"99", "1"}}, nil))

	book, _ := s.books.Get("BTCUSDT")
	if book.State() != orderbook.Resyncing {
		t.Fatalf("expected resyncing book, got %s", book.State())
	}
	if got := resyncer.requested(); len(got) != 1 || got[0] != "BTCUSDT" {
		t.Fatalf("expected one resync request, got %v", got)
	}
}

func TestApplyMalformedPayloadDropped(t *testing.T) {
	s, resyncer, _ := newTestScanner(t)

	s.apply(models.RawBookMessage{
		Symbol:      "BTCUSDT",
		MessageType: models.MessageTypeDelta,
		Data:        []byte("{not json"),
	})

	book, _ := s.books.Get("BTCUSDT")
	if book.State() != orderbook.AwaitingSnapshot {
		t.Fatalf("malformed payload must not touch the book, got %s", book.State())
	}
	if len(resyncer.requested()) != 0 {
		t.Fatalf("malformed payload must not trigger resync")
	}
}

func TestApplyUnknownSymbolDropped(t *testing.T) {
	s, _, _ := newTestScanner(t)
	msg := rawSnapshot(t, 1, [][]string{{"1", "1"}}, [][]string{{"2", "1"}})
	msg.Symbol = "DOGEUSDT"
	s.apply(msg) // must not panic
}

func TestEvaluateTickEmitsAlert(t *testing.T) {
	s, _, ch := newTestScanner(t)

	s.apply(rawSnapshot(t, 100,
		[][]string{{"100", "5"}, {"99", "50"}},
		[][]string{{"101", "5"}},
	))

	log := s.log.WithComponent("scanner")
	s.evaluateTick("BTCUSDT", log)

	select {
	case event := <-ch.Alerts:
		if event.Symbol != "BTCUSDT" || event.Side != models.SideBid {
			t.Fatalf("unexpected alert: %+v", event)
		}
		if event.VolumeUSD != 5450 || event.ID == "" {
			t.Fatalf("unexpected alert payload: %+v", event)
		}
	default:
		t.Fatalf("expected an alert on the channel")
	}

	// Same wall on the next tick is deduplicated.
	s.evaluateTick("BTCUSDT", log)
	select {
	case event := <-ch.Alerts:
		t.Fatalf("expected dedup to suppress repeat alert, got %+v", event)
	default:
	}
}

func TestEvaluateTickSkipsUnsyncedBook(t *testing.T) {
	s, resyncer, ch := newTestScanner(t)

	s.evaluateTick("BTCUSDT", s.log.WithComponent("scanner"))
	select {
	case event := <-ch.Alerts:
		t.Fatalf("unexpected alert from unsynced book: %+v", event)
	default:
	}
	if len(resyncer.requested()) != 0 {
		t.Fatalf("unsynced book must not trigger resync")
	}
}

func TestEvaluateTickCrossedBookResyncsOnce(t *testing.T) {
	s, resyncer, _ := newTestScanner(t)

	s.apply(rawSnapshot(t, 100, [][]string{{"101", "1"}}, [][]string{{"100", "1"}}))

	log := s.log.WithComponent("scanner")
	s.evaluateTick("BTCUSDT", log)

	book, _ := s.books.Get("BTCUSDT")
	if book.State() != orderbook.Resyncing {
		t.Fatalf("expected resyncing after crossed book, got %s", book.State())
	}
	if got := resyncer.requested(); len(got) != 1 {
		t.Fatalf("expected one resync request, got %v", got)
	}
}

func TestTickIntervalHonorsPriority(t *testing.T) {
	s, _, _ := newTestScanner(t)

	if got := s.tickInterval("BTCUSDT"); got != time.Second {
		t.Fatalf("expected base interval, got %v", got)
	}
	if _, err := s.settings.Update(settings.Partial{PrioritySymbols: []string{"BTCUSDT"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := s.tickInterval("BTCUSDT"); got != 250*time.Millisecond {
		t.Fatalf("expected priority interval, got %v", got)
	}
}
