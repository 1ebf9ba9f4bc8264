package models

import "time"

// Side of the order book a density band sits on.
const (
	SideBid = "bid"
	SideAsk = "ask"
)

// Instrument describes a traded contract. Immutable once loaded from config.
type Instrument struct {
	Symbol   string  `yaml:"symbol" json:"symbol"`
	TickSize float64 `yaml:"tick_size" json:"tick_size"`
	StepSize float64 `yaml:"step_size" json:"step_size"`
}

// DensityBand is a contiguous run of price levels whose cumulative USD
// notional crossed the configured threshold within the configured distance
// from mid. Recomputed on every evaluation, never mutated in place.
type DensityBand struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	PriceLow    float64 `json:"price_low"`
	PriceHigh   float64 `json:"price_high"`
	VolumeUSD   float64 `json:"volume_usd"`
	DistancePct float64 `json:"distance_pct"`
	MidPrice    float64 `json:"mid_price"`
	Levels      int     `json:"levels"`
}

// AlertKey fingerprints a density condition for deduplication. Two bands map
// to the same key when they describe materially the same wall.
type AlertKey struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	PriceBucket int64  `json:"price_bucket"`
	SizeBucket  int    `json:"size_bucket"`
}

// AlertEvent is the outbound alert handed to the delivery writer.
type AlertEvent struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	PriceLow    float64   `json:"price_low"`
	PriceHigh   float64   `json:"price_high"`
	VolumeUSD   float64   `json:"volume_usd"`
	DistancePct float64   `json:"distance_pct"`
	MidPrice    float64   `json:"mid_price"`
	Timestamp   time.Time `json:"timestamp"`
}
