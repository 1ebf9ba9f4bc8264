package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Message types carried by RawBookMessage.
const (
	MessageTypeSnapshot = "snapshot"
	MessageTypeDelta    = "delta"
)

// RawBookMessage wraps a raw order book payload from the feed. Readers push
// these through the raw channel without parsing; the scanner owns decoding.
type RawBookMessage struct {
	Exchange    string
	Symbol      string
	Market      string
	MessageType string
	Data        []byte
	Timestamp   time.Time
}

// BookLevel represents a single price level on one side of the book.
// A quantity of zero in a delta removes the level.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// LevelChange is a delta entry carrying the side it applies to.
type LevelChange struct {
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// BookSnapshot is a normalized full-ladder snapshot event.
type BookSnapshot struct {
	Symbol       string      `json:"symbol"`
	Sequence     int64       `json:"sequence"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	ReceivedTime time.Time   `json:"received_time"`
}

// BookDelta is a normalized incremental update event. Sequence numbers follow
// the Binance diff-depth scheme: FirstSequence/Sequence bound the update range
// and PrevSequence chains onto the previous event's Sequence.
type BookDelta struct {
	Symbol        string        `json:"symbol"`
	Sequence      int64         `json:"sequence"`
	PrevSequence  int64         `json:"prev_sequence"`
	FirstSequence int64         `json:"first_sequence"`
	EventTime     int64         `json:"event_time"`
	Changes       []LevelChange `json:"changes"`
	ReceivedTime  time.Time     `json:"received_time"`
}

// BinanceDepthSnapshotResp mirrors the futures REST depth endpoint response.
type BinanceDepthSnapshotResp struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	EventTime    int64      `json:"E"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// BinanceDepthEventResp mirrors the futures diff-depth websocket event.
type BinanceDepthEventResp struct {
	Event            string     `json:"e"`
	EventTime        int64      `json:"E"`
	TransactionTime  int64      `json:"T"`
	Symbol           string     `json:"s"`
	FirstUpdateID    int64      `json:"U"`
	LastUpdateID     int64      `json:"u"`
	PrevLastUpdateID int64      `json:"pu"`
	Bids             [][]string `json:"b"`
	Asks             [][]string `json:"a"`
}

// BinanceCombinedStreamResp wraps events from the combined stream endpoint.
type BinanceCombinedStreamResp struct {
	Stream string                `json:"stream"`
	Data   BinanceDepthEventResp `json:"data"`
}

// ParseLevel converts a [price, quantity] string pair from the wire into a
// BookLevel. Decimal parsing rejects malformed values instead of silently
// producing zeros, so bad payloads surface as dropped events.
func ParseLevel(pair []string) (BookLevel, error) {
	if len(pair) < 2 {
		return BookLevel{}, fmt.Errorf("level needs price and quantity, got %d fields", len(pair))
	}
	price, err := decimal.NewFromString(pair[0])
	if err != nil {
		return BookLevel{}, fmt.Errorf("invalid price %q: %w", pair[0], err)
	}
	qty, err := decimal.NewFromString(pair[1])
	if err != nil {
		return BookLevel{}, fmt.Errorf("invalid quantity %q: %w", pair[1], err)
	}
	if price.IsNegative() || qty.IsNegative() {
		return BookLevel{}, fmt.Errorf("negative level %s@%s", pair[1], pair[0])
	}
	return BookLevel{Price: price.InexactFloat64(), Quantity: qty.InexactFloat64()}, nil
}

// ParseLevels converts a slice of [price, quantity] pairs.
func ParseLevels(pairs [][]string) ([]BookLevel, error) {
	levels := make([]BookLevel, 0, len(pairs))
	for _, pair := range pairs {
		lvl, err := ParseLevel(pair)
		if err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}
