package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	appconfig "densityflow/config"
	"densityflow/internal/channel"
	"densityflow/logger"
	"densityflow/models"
)

// SnapshotReader fetches full order book snapshots from the Binance futures
// REST API: once per symbol at startup and afterwards on demand, whenever the
// scanner or the delta reader requests a resync. Requests go through a rate
// limiter so a resync storm cannot hammer the endpoint.
type SnapshotReader struct {
	config   *appconfig.Config
	client   *futures.Client
	channels *channel.Channels
	symbols  []string
	requests chan string
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// NewSnapshotReader creates a snapshot reader using the binance-go futures client.
func NewSnapshotReader(cfg *appconfig.Config, ch *channel.Channels, symbols []string) *SnapshotReader {
	log := logger.GetLogger()

	client := futures.NewClient("", "")
	client.SetApiEndpoint(cfg.Source.Binance.RestURL)
	client.HTTPClient = &http.Client{Timeout: cfg.Reader.Timeout}

	reader := &SnapshotReader{
		config:   cfg,
		client:   client,
		channels: ch,
		symbols:  symbols,
		requests: make(chan string, len(symbols)*2),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Reader.RateLimit.RequestsPerSecond), cfg.Reader.RateLimit.BurstSize),
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("snapshot_reader").WithFields(logger.Fields{
		"rest_url": cfg.Source.Binance.RestURL,
		"limit":    cfg.Source.Binance.SnapshotLimit,
		"timeout":  cfg.Reader.Timeout.String(),
	}).Info("snapshot reader initialized")

	return reader
}

// Start fetches the initial snapshot for every configured symbol, then keeps
// serving resync requests. Exhausting the startup retry budget for a symbol
// escalates a fatal error; the process must not scan unsynced books forever.
func (r *SnapshotReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("snapshot reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("snapshot_reader").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"symbols": r.symbols}).Info("starting snapshot reader")

	r.wg.Add(1)
	go r.run()

	log.Info("snapshot reader started successfully")
	return nil
}

// Stop waits for in-flight fetches to finish.
func (r *SnapshotReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("snapshot_reader").Info("stopping snapshot reader")
	r.wg.Wait()
	r.log.WithComponent("snapshot_reader").Info("snapshot reader stopped")
}

// RequestResync queues a fresh snapshot fetch for the symbol. Non-blocking:
// with a full queue the request is dropped, which is safe because the book
// stays in Resyncing and the scanner re-requests on the next rejected delta.
func (r *SnapshotReader) RequestResync(symbol string) {
	select {
	case r.requests <- symbol:
		logger.IncrementResyncRequested()
	default:
		r.log.WithComponent("snapshot_reader").WithFields(logger.Fields{
			"symbol": symbol,
		}).Warn("resync queue full, dropping request")
	}
}

// RequestResyncAll queues a snapshot fetch for every configured symbol. The
// delta reader calls this after each reconnect.
func (r *SnapshotReader) RequestResyncAll() {
	for _, symbol := range r.symbols {
		r.RequestResync(symbol)
	}
}

func (r *SnapshotReader) run() {
	defer r.wg.Done()

	log := r.log.WithComponent("snapshot_reader").WithFields(logger.Fields{"worker": "snapshot_fetcher"})

	for _, symbol := range r.symbols {
		if r.ctx.Err() != nil {
			return
		}
		if err := r.fetchWithRetry(symbol); err != nil {
			if r.ctx.Err() != nil {
				return
			}
			log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Error("startup snapshot failed after exhausted retries")
			r.channels.SendError(r.ctx, fmt.Errorf("startup snapshot for %s: %w", symbol, err))
			return
		}
	}

	log.Info("initial snapshots fetched for all symbols")

	for {
		select {
		case <-r.ctx.Done():
			log.Info("snapshot fetcher stopped due to context cancellation")
			return
		case symbol := <-r.requests:
			if err := r.fetchWithRetry(symbol); err != nil && r.ctx.Err() == nil {
				log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("resync snapshot failed, will retry on next gap")
			}
		}
	}
}

func (r *SnapshotReader) fetchWithRetry(symbol string) error {
	retryCfg := r.config.Reader.Retry
	b := &backoff.Backoff{
		Min:    retryCfg.BaseDelay,
		Max:    retryCfg.MaxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= retryCfg.MaxAttempts; attempt++ {
		if err := r.limiter.Wait(r.ctx); err != nil {
			return err
		}
		if lastErr = r.fetchSnapshot(symbol); lastErr == nil {
			return nil
		}
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}

		delay := b.Duration()
		r.log.WithComponent("snapshot_reader").WithError(lastErr).WithFields(logger.Fields{
			"symbol":  symbol,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("snapshot fetch failed, backing off")

		timer := time.NewTimer(delay)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return r.ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", retryCfg.MaxAttempts, lastErr)
}

func (r *SnapshotReader) fetchSnapshot(symbol string) error {
	log := r.log.WithComponent("snapshot_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_snapshot",
	})

	start := time.Now()
	resp, err := r.client.NewDepthService().
		Symbol(symbol).
		Limit(r.config.Source.Binance.SnapshotLimit).
		Do(r.ctx)
	if err != nil {
		return fmt.Errorf("depth request: %w", err)
	}
	logger.LogPerformanceEntry(log, "snapshot_reader", "api_request", time.Since(start), logger.Fields{
		"symbol": symbol,
	})

	snapshot := models.BinanceDepthSnapshotResp{
		LastUpdateID: resp.LastUpdateID,
		Bids:         make([][]string, 0, len(resp.Bids)),
		Asks:         make([][]string, 0, len(resp.Asks)),
	}
	for _, bid := range resp.Bids {
		snapshot.Bids = append(snapshot.Bids, []string{bid.Price, bid.Quantity})
	}
	for _, ask := range resp.Asks {
		snapshot.Asks = append(snapshot.Asks, []string{ask.Price, ask.Quantity})
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	raw := models.RawBookMessage{
		Exchange:    "binance",
		Symbol:      symbol,
		Market:      "future-orderbook",
		MessageType: models.MessageTypeSnapshot,
		Data:        payload,
		Timestamp:   time.Now().UTC(),
	}

	if r.channels.SendRaw(r.ctx, raw) {
		log.WithFields(logger.Fields{
			"sequence": resp.LastUpdateID,
			"bids":     len(resp.Bids),
			"asks":     len(resp.Asks),
		}).Info("snapshot sent to raw channel")
	} else if r.ctx.Err() == nil {
		log.Warn("raw channel is full, dropping snapshot")
	}
	return nil
}
