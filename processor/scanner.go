package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"densityflow/alert"
	appconfig "densityflow/config"
	"densityflow/density"
	"densityflow/internal/channel"
	"densityflow/logger"
	"densityflow/models"
	"densityflow/orderbook"
	"densityflow/settings"
)

// Resyncer requests a fresh snapshot for an instrument. Implemented by the
// snapshot reader; kept as an interface so scanner tests can stub it.
type Resyncer interface {
	RequestResync(symbol string)
}

// Scanner is the core pipeline stage: a single apply goroutine drains the raw
// channel into the per-instrument books, and one evaluation goroutine per
// instrument periodically walks its book for density bands, runs them through
// the deduplicator and forwards qualifying alerts. Per-instrument failures
// downgrade to a skipped tick; they never stop the scan.
type Scanner struct {
	config   *appconfig.Config
	channels *channel.Channels
	books    *orderbook.Store
	settings *settings.Store
	dedup    *alert.Deduplicator
	resyncer Resyncer
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewScanner(cfg *appconfig.Config, ch *channel.Channels, books *orderbook.Store, st *settings.Store, dedup *alert.Deduplicator, resyncer Resyncer) *Scanner {
	return &Scanner{
		config:   cfg,
		channels: ch,
		books:    books,
		settings: st,
		dedup:    dedup,
		resyncer: resyncer,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start launches the apply worker and one evaluation worker per instrument.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scanner already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("scanner").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting scanner")

	s.wg.Add(1)
	go s.applyWorker()

	for _, symbol := range s.books.Symbols() {
		s.wg.Add(1)
		go s.evaluateWorker(symbol)
	}

	s.wg.Add(1)
	go s.housekeeping()

	log.Info("scanner started successfully")
	return nil
}

// Stop waits for all workers to drain.
func (s *Scanner) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("scanner").Info("stopping scanner")
	s.wg.Wait()
	s.log.WithComponent("scanner").Info("scanner stopped")
}

// applyWorker is the single writer for every book. Raw payloads are decoded
// here so a malformed message costs one dropped event, never the connection.
func (s *Scanner) applyWorker() {
	defer s.wg.Done()

	log := s.log.WithComponent("scanner").WithFields(logger.Fields{"worker": "apply"})
	log.Info("starting apply worker")

	for {
		select {
		case <-s.ctx.Done():
			log.Info("apply worker stopped due to context cancellation")
			return
		case msg, ok := <-s.channels.Raw:
			if !ok {
				log.Info("raw channel closed, apply worker stopping")
				return
			}
			s.apply(msg)
		}
	}
}

func (s *Scanner) apply(msg models.RawBookMessage) {
	log := s.log.WithComponent("scanner").WithFields(logger.Fields{
		"symbol": msg.Symbol,
		"type":   msg.MessageType,
	})

	book, ok := s.books.Get(msg.Symbol)
	if !ok {
		log.Debug("message for unknown instrument, dropping")
		return
	}

	switch msg.MessageType {
	case models.MessageTypeSnapshot:
		snapshot, err := decodeSnapshot(msg)
		if err != nil {
			log.WithError(err).Warn("malformed snapshot payload, dropping")
			return
		}
		book.ApplySnapshot(snapshot)
		logger.IncrementSnapshotApplied()
		log.WithFields(logger.Fields{
			"sequence": snapshot.Sequence,
			"bids":     len(snapshot.Bids),
			"asks":     len(snapshot.Asks),
		}).Info("snapshot applied")

	case models.MessageTypeDelta:
		delta, err := decodeDelta(msg)
		if err != nil {
			log.WithError(err).Warn("malformed delta payload, dropping")
			return
		}
		switch err := book.ApplyDelta(delta); {
		case err == nil:
			logger.IncrementDeltaApplied()
		case errors.Is(err, orderbook.ErrNotSynced), errors.Is(err, orderbook.ErrStaleDelta):
			log.Debug("delta dropped while awaiting snapshot")
		default:
			var gap *orderbook.SequenceGapError
			if errors.As(err, &gap) {
				log.WithFields(logger.Fields{
					"expected": gap.Expected,
					"got":      gap.Got,
				}).Warn("sequence gap detected, requesting resync")
				s.resyncer.RequestResync(msg.Symbol)
			} else {
				log.WithError(err).Warn("failed to apply delta")
			}
		}

	default:
		log.Warn("unknown message type, dropping")
	}
}

// evaluateWorker scans one instrument on its tick. Priority instruments run
// on the faster priority interval; the set is re-read from settings every
// tick so promotions take effect without a restart.
func (s *Scanner) evaluateWorker(symbol string) {
	defer s.wg.Done()

	log := s.log.WithComponent("scanner").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "evaluate",
	})
	log.Info("starting evaluation worker")

	timer := time.NewTimer(s.tickInterval(symbol))
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Info("evaluation worker stopped due to context cancellation")
			return
		case <-timer.C:
			s.evaluateTick(symbol, log)
			timer.Reset(s.tickInterval(symbol))
		}
	}
}

func (s *Scanner) tickInterval(symbol string) time.Duration {
	cfg := s.settings.Get()
	if cfg.IsPriority(symbol) {
		return time.Duration(s.config.Scanner.PriorityIntervalMs) * time.Millisecond
	}
	return time.Duration(s.config.Scanner.IntervalMs) * time.Millisecond
}

func (s *Scanner) evaluateTick(symbol string, log *logger.Entry) {
	book, ok := s.books.Get(symbol)
	if !ok {
		return
	}
	if book.State() != orderbook.Synced {
		log.Debug("book not synced, skipping tick")
		return
	}

	view := book.View()
	cfg := s.settings.Get()

	bands, err := density.Evaluate(view, cfg)
	if err != nil {
		switch {
		case errors.Is(err, orderbook.ErrCrossedBook):
			if book.MarkResyncing() {
				log.Warn("crossed book detected, requesting resync")
				s.resyncer.RequestResync(symbol)
			}
		case errors.Is(err, orderbook.ErrNoLiquidity):
			log.Debug("no liquidity, skipping tick")
		default:
			log.WithError(err).Warn("evaluation failed, skipping tick")
		}
		return
	}

	now := time.Now().UTC()
	for _, band := range bands {
		logger.IncrementDensityDetected()
		if !s.dedup.ShouldAlert(band, now) {
			log.WithFields(logger.Fields{
				"side":       band.Side,
				"volume_usd": band.VolumeUSD,
			}).Debug("density suppressed by deduplicator")
			continue
		}

		event := models.AlertEvent{
			ID:          uuid.New().String(),
			Symbol:      band.Symbol,
			Side:        band.Side,
			PriceLow:    band.PriceLow,
			PriceHigh:   band.PriceHigh,
			VolumeUSD:   band.VolumeUSD,
			DistancePct: band.DistancePct,
			MidPrice:    band.MidPrice,
			Timestamp:   now,
		}
		if s.channels.SendAlert(s.ctx, event) {
			logger.IncrementAlertEmitted()
			log.WithFields(logger.Fields{
				"alert_id":     event.ID,
				"side":         event.Side,
				"price_low":    event.PriceLow,
				"price_high":   event.PriceHigh,
				"volume_usd":   event.VolumeUSD,
				"distance_pct": event.DistancePct,
			}).Info("density alert emitted")
		} else if s.ctx.Err() == nil {
			log.Warn("alert channel full, dropping alert")
		}
	}
}

// housekeeping evicts idle dedup records on a slow ticker.
func (s *Scanner) housekeeping() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Scanner.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dedup.Evict(time.Now().UTC())
		}
	}
}

func decodeSnapshot(msg models.RawBookMessage) (models.BookSnapshot, error) {
	var resp models.BinanceDepthSnapshotResp
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return models.BookSnapshot{}, err
	}
	bids, err := models.ParseLevels(resp.Bids)
	if err != nil {
		return models.BookSnapshot{}, err
	}
	asks, err := models.ParseLevels(resp.Asks)
	if err != nil {
		return models.BookSnapshot{}, err
	}
	return models.BookSnapshot{
		Symbol:       msg.Symbol,
		Sequence:     resp.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
		ReceivedTime: msg.Timestamp,
	}, nil
}

func decodeDelta(msg models.RawBookMessage) (models.BookDelta, error) {
	var resp models.BinanceDepthEventResp
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return models.BookDelta{}, err
	}

	changes := make([]models.LevelChange, 0, len(resp.Bids)+len(resp.Asks))
	for _, pair := range resp.Bids {
		lvl, err := models.ParseLevel(pair)
		if err != nil {
			return models.BookDelta{}, err
		}
		changes = append(changes, models.LevelChange{Side: models.SideBid, Price: lvl.Price, Quantity: lvl.Quantity})
	}
	for _, pair := range resp.Asks {
		lvl, err := models.ParseLevel(pair)
		if err != nil {
			return models.BookDelta{}, err
		}
		changes = append(changes, models.LevelChange{Side: models.SideAsk, Price: lvl.Price, Quantity: lvl.Quantity})
	}

	return models.BookDelta{
		Symbol:        msg.Symbol,
		Sequence:      resp.LastUpdateID,
		PrevSequence:  resp.PrevLastUpdateID,
		FirstSequence: resp.FirstUpdateID,
		EventTime:     resp.EventTime,
		Changes:       changes,
		ReceivedTime:  msg.Timestamp,
	}, nil
}
