package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	appconfig "densityflow/config"
	"densityflow/internal/channel"
	"densityflow/logger"
	"densityflow/models"
)

// TelegramWriter drains the alert channel and delivers each alert as an
// HTML-formatted Telegram message. Sends go through a rate limiter so a
// burst of alerts cannot trip the bot API's flood control. Delivery failures
// are logged and the alert is dropped; alerting is best-effort by design.
type TelegramWriter struct {
	config   *appconfig.Config
	channels *channel.Channels
	client   *http.Client
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewTelegramWriter(cfg *appconfig.Config, ch *channel.Channels) *TelegramWriter {
	tg := cfg.Writer.Telegram
	return &TelegramWriter{
		config:   cfg,
		channels: ch,
		client:   &http.Client{Timeout: tg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(tg.MessagesPerSecond), tg.BurstSize),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start launches the delivery worker.
func (w *TelegramWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("telegram writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("telegram_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting telegram writer")

	w.wg.Add(1)
	go w.deliverWorker()

	log.Info("telegram writer started successfully")
	return nil
}

// Stop waits for the in-flight delivery to finish.
func (w *TelegramWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.log.WithComponent("telegram_writer").Info("stopping telegram writer")
	w.wg.Wait()
	w.log.WithComponent("telegram_writer").Info("telegram writer stopped")
}

func (w *TelegramWriter) deliverWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("telegram_writer").WithFields(logger.Fields{"worker": "deliver"})
	log.Info("starting delivery worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("delivery worker stopped due to context cancellation")
			return
		case event, ok := <-w.channels.Alerts:
			if !ok {
				log.Info("alert channel closed, delivery worker stopping")
				return
			}
			if err := w.deliver(event); err != nil {
				if w.ctx.Err() != nil {
					return
				}
				log.WithError(err).WithFields(logger.Fields{
					"alert_id": event.ID,
					"symbol":   event.Symbol,
				}).Error("failed to deliver alert")
			}
		}
	}
}

func (w *TelegramWriter) deliver(event models.AlertEvent) error {
	if err := w.limiter.Wait(w.ctx); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":    w.config.Writer.Telegram.ChatID,
		"text":       FormatAlert(event),
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", w.config.Writer.Telegram.APIURL, w.config.Writer.Telegram.Token)
	req, err := http.NewRequestWithContext(w.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram api returned status %d: %s", resp.StatusCode, string(snippet))
	}

	logger.IncrementAlertDelivered()
	w.log.WithComponent("telegram_writer").WithFields(logger.Fields{
		"alert_id":    event.ID,
		"symbol":      event.Symbol,
		"side":        event.Side,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("alert delivered")
	return nil
}

// FormatAlert renders the alert message body. Bids read as support below the
// price, asks as resistance above it.
func FormatAlert(event models.AlertEvent) string {
	label := "Support"
	arrow := "▼"
	if event.Side == models.SideAsk {
		label = "Resistance"
		arrow = "▲"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s</b> %s density\n", arrow, event.Symbol, label)
	if event.PriceLow == event.PriceHigh {
		fmt.Fprintf(&sb, "Price: <code>%s</code>\n", formatPrice(event.PriceLow))
	} else {
		fmt.Fprintf(&sb, "Price: <code>%s - %s</code>\n", formatPrice(event.PriceLow), formatPrice(event.PriceHigh))
	}
	fmt.Fprintf(&sb, "Size: <b>%s</b>\n", formatUSD(event.VolumeUSD))
	fmt.Fprintf(&sb, "Distance: %.2f%% from mid %s", event.DistancePct, formatPrice(event.MidPrice))
	return sb.String()
}

func formatPrice(price float64) string {
	switch {
	case price >= 100:
		return fmt.Sprintf("%.2f", price)
	case price >= 1:
		return fmt.Sprintf("%.4f", price)
	default:
		return fmt.Sprintf("%.6f", price)
	}
}

func formatUSD(volume float64) string {
	switch {
	case volume >= 1e9:
		return fmt.Sprintf("$%.2fB", volume/1e9)
	case volume >= 1e6:
		return fmt.Sprintf("$%.2fM", volume/1e6)
	case volume >= 1e3:
		return fmt.Sprintf("$%.1fK", volume/1e3)
	default:
		return fmt.Sprintf("$%.0f", volume)
	}
}
