package binance

import (
	"context"
	"testing"
	"time"

	appconfig "densityflow/config"
	"densityflow/internal/channel"
	"densityflow/models"
)

func minimalReaderConfig() *appconfig.Config {
	return &appconfig.Config{
		Reader: appconfig.ReaderConfig{
			Timeout: time.Second,
			Retry: appconfig.RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				MaxDelay:    10 * time.Millisecond,
			},
			RateLimit: appconfig.RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         10,
			},
		},
		Source: appconfig.SourceConfig{
			Binance: appconfig.BinanceSourceConfig{
				RestURL:       "https://fapi.binance.com",
				WsURL:         "wss://fstream.binance.com/stream",
				SnapshotLimit: 1000,
				KeepAlive:     time.Second,
			},
		},
	}
}

func TestStreamURL(t *testing.T) {
	cfg := minimalReaderConfig()
	ch := channel.NewChannels(4, 4, 1)
	r := NewDeltaReader(cfg, ch, nil, []string{"BTCUSDT", "ETHUSDT"})

	want := "wss://fstream.binance.com/stream?streams=btcusdt@depth@100ms/ethusdt@depth@100ms"
	if got := r.streamURL(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestHandlePayloadForwardsDelta(t *testing.T) {
	cfg := minimalReaderConfig()
	ch := channel.NewChannels(4, 4, 1)
	r := NewDeltaReader(cfg, ch, nil, []string{"BTCUSDT"})
	r.ctx = context.Background()

	payload := []byte(`{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","s":"BTCUSDT","U":101,"u":105,"pu":100,"b":[["100","5"]],"a":[]}}`)
	r.handlePayload(payload, r.log.WithComponent("delta_reader"))

	select {
	case msg := <-ch.Raw:
		if msg.Symbol != "BTCUSDT" {
			t.Fatalf("expected symbol BTCUSDT, got %s", msg.Symbol)
		}
		if msg.MessageType != models.MessageTypeDelta || msg.Exchange != "binance" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if len(msg.Data) == 0 {
			t.Fatalf("expected inner event payload")
		}
	default:
		t.Fatalf("expected forwarded message on raw channel")
	}
}

func TestHandlePayloadDropsMalformed(t *testing.T) {
	cfg := minimalReaderConfig()
	ch := channel.NewChannels(4, 4, 1)
	r := NewDeltaReader(cfg, ch, nil, []string{"BTCUSDT"})
	r.ctx = context.Background()

	log := r.log.WithComponent("delta_reader")
	r.handlePayload([]byte("{not json"), log)
	r.handlePayload([]byte(`{"stream":"","data":{}}`), log)

	select {
	case msg := <-ch.Raw:
		t.Fatalf("malformed payload must be dropped, got %+v", msg)
	default:
	}
}

func TestRequestResyncDropsWhenQueueFull(t *testing.T) {
	cfg := minimalReaderConfig()
	ch := channel.NewChannels(4, 4, 1)
	r := NewSnapshotReader(cfg, ch, []string{"BTCUSDT"})

	// Queue capacity is twice the symbol count; overflow must not block.
	for i := 0; i < 10; i++ {
		r.RequestResync("BTCUSDT")
	}
	if got := len(r.requests); got != cap(r.requests) {
		t.Fatalf("expected full queue, got %d of %d", got, cap(r.requests))
	}
}

func TestRequestResyncAllQueuesEverySymbol(t *testing.T) {
	cfg := minimalReaderConfig()
	ch := channel.NewChannels(4, 4, 1)
	r := NewSnapshotReader(cfg, ch, []string{"BTCUSDT", "ETHUSDT"})

	r.RequestResyncAll()
	if got := len(r.requests); got != 2 {
		t.Fatalf("expected 2 queued requests, got %d", got)
	}
}
