package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	appconfig "densityflow/config"
	"densityflow/internal/channel"
	"densityflow/logger"
	"densityflow/models"
)

// DeltaReader streams diff-depth updates for all configured symbols over a
// single combined websocket connection and forwards the raw events to the
// scanner. Connection loss triggers a reconnect with jittered exponential
// backoff; after every reconnect a fresh snapshot is requested for each
// symbol so the books can re-anchor.
type DeltaReader struct {
	config    *appconfig.Config
	channels  *channel.Channels
	snapshots *SnapshotReader
	symbols   []string
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
}

func NewDeltaReader(cfg *appconfig.Config, ch *channel.Channels, snapshots *SnapshotReader, symbols []string) *DeltaReader {
	return &DeltaReader{
		config:    cfg,
		channels:  ch,
		snapshots: snapshots,
		symbols:   symbols,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
	}
}

// Start subscribes to the combined diff-depth stream.
func (r *DeltaReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("delta reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("delta_reader").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"symbols": r.symbols}).Info("starting delta reader")

	r.wg.Add(1)
	go r.stream()

	log.Info("delta reader started successfully")
	return nil
}

// Stop terminates the websocket subscription.
func (r *DeltaReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("delta_reader").Info("stopping delta reader")
	r.wg.Wait()
	r.log.WithComponent("delta_reader").Info("delta reader stopped")
}

func (r *DeltaReader) streamURL() string {
	streams := make([]string, 0, len(r.symbols))
	for _, symbol := range r.symbols {
		streams = append(streams, strings.ToLower(symbol)+"@depth@100ms")
	}
	return r.config.Source.Binance.WsURL + "?streams=" + strings.Join(streams, "/")
}

func (r *DeltaReader) stream() {
	defer r.wg.Done()

	url := r.streamURL()
	log := r.log.WithComponent("delta_reader").WithFields(logger.Fields{
		"worker": "delta_stream",
		"url":    url,
	})

	retryCfg := r.config.Reader.Retry
	b := &backoff.Backoff{
		Min:    retryCfg.BaseDelay,
		Max:    retryCfg.MaxDelay,
		Factor: 2,
		Jitter: true,
	}
	handshakeFailures := 0

	for {
		if r.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(r.ctx, url, nil)
		if err != nil {
			handshakeFailures++
			if handshakeFailures >= retryCfg.MaxAttempts {
				log.WithError(err).WithFields(logger.Fields{
					"failures": handshakeFailures,
				}).Error("websocket handshake failed repeatedly, giving up")
				r.channels.SendError(r.ctx, fmt.Errorf("delta stream handshake failed %d times: %w", handshakeFailures, err))
				return
			}
			delay := b.Duration()
			log.WithError(err).WithFields(logger.Fields{
				"failures": handshakeFailures,
				"delay":    delay.String(),
			}).Warn("failed to connect to delta stream")
			if waitForReconnect(r.ctx, delay) {
				return
			}
			continue
		}

		handshakeFailures = 0
		b.Reset()
		log.Info("connected to delta stream")

		// Books must re-anchor on fresh snapshots; deltas that raced the
		// snapshot are rejected by the sequence check and dropped.
		r.snapshots.RequestResyncAll()

		r.readUntilClosed(conn, log)

		if r.ctx.Err() != nil {
			return
		}
		if waitForReconnect(r.ctx, b.Duration()) {
			return
		}
	}
}

// readUntilClosed owns a single connection: keep-alive pings, a close
// watcher tied to the context, and the read loop.
func (r *DeltaReader) readUntilClosed(conn *websocket.Conn, log *logger.Entry) {
	connCtx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	keepAlive := r.config.Source.Binance.KeepAlive
	conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
	})

	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	startPingLoop(connCtx, conn, keepAlive, log)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() == nil {
				log.WithError(err).Warn("delta stream read loop ended")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
		r.handlePayload(payload, log)
	}
}

// handlePayload peels the combined-stream wrapper and forwards the inner
// event. Malformed payloads are logged and dropped; the connection stays up.
func (r *DeltaReader) handlePayload(payload []byte, log *logger.Entry) {
	var wrapper struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		log.WithError(err).Warn("malformed delta payload, dropping")
		return
	}
	if wrapper.Stream == "" || len(wrapper.Data) == 0 {
		log.Warn("delta payload missing stream or data, dropping")
		return
	}

	symbol := strings.ToUpper(strings.SplitN(wrapper.Stream, "@", 2)[0])

	raw := models.RawBookMessage{
		Exchange:    "binance",
		Symbol:      symbol,
		Market:      "future-orderbook",
		MessageType: models.MessageTypeDelta,
		Data:        wrapper.Data,
		Timestamp:   time.Now().UTC(),
	}

	if !r.channels.SendRaw(r.ctx, raw) && r.ctx.Err() == nil {
		log.WithFields(logger.Fields{"symbol": symbol}).Warn("raw channel full, dropping delta")
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					return
				}
			}
		}
	}()
}
