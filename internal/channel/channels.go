package channel

import (
	"context"
	"sync"
	"time"

	"densityflow/logger"
	"densityflow/models"
)

type ChannelStats struct {
	RawSent       int64
	RawDropped    int64
	AlertsSent    int64
	AlertsDropped int64
}

// Channels carries events between the pipeline stages: raw book payloads from
// the readers to the scanner, alert events from the scanner to the delivery
// writer, and fatal errors to main.
type Channels struct {
	Raw    chan models.RawBookMessage
	Alerts chan models.AlertEvent
	Errors chan error

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize, alertBufferSize, errorBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:    make(chan models.RawBookMessage, rawBufferSize),
		Alerts: make(chan models.AlertEvent, alertBufferSize),
		Errors: make(chan error, errorBufferSize),
		log:    log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":   rawBufferSize,
		"alert_buffer_size": alertBufferSize,
		"error_buffer_size": errorBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	close(c.Alerts)
	close(c.Errors)
	c.log.WithComponent("channels").Info("channels closed")
}

// SendRaw forwards a raw book message without blocking. A full buffer drops
// the message; the book resyncs from the next snapshot, so drops are safe.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawBookMessage) bool {
	select {
	case c.Raw <- msg:
		c.statsMutex.Lock()
		c.stats.RawSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.RawDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendAlert forwards an alert event without blocking.
func (c *Channels) SendAlert(ctx context.Context, event models.AlertEvent) bool {
	select {
	case c.Alerts <- event:
		c.statsMutex.Lock()
		c.stats.AlertsSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.AlertsDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendError escalates a fatal error to the process owner. Blocks until main
// picks it up or the context ends; fatal errors must not be lost.
func (c *Channels) SendError(ctx context.Context, err error) bool {
	select {
	case c.Errors <- err:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting periodically logs channel depth and send/drop counts.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.GetStats()
			c.log.WithComponent("channels").WithFields(logger.Fields{
				"raw_sent":       stats.RawSent,
				"raw_dropped":    stats.RawDropped,
				"alerts_sent":    stats.AlertsSent,
				"alerts_dropped": stats.AlertsDropped,
				"raw_depth":      len(c.Raw),
				"alert_depth":    len(c.Alerts),
			}).Info("channel metrics")
		}
	}
}
