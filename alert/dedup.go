// Package alert decides whether a qualifying density band is new enough to
// forward, suppressing the repeated-identical-alert spam a naive threshold
// scan produces on every tick a wall persists.
package alert

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"densityflow/logger"
	"densityflow/models"
)

// record tracks one observed density condition across ticks.
type record struct {
	sizeBucket    int
	firstSeenAt   time.Time
	lastSeenAt    time.Time
	timesRepeated int
}

// conditionKey locates a record. Size is deliberately not part of the map
// key: the record remembers the last alerted size bucket so that growth can
// be compared against it, while the full models.AlertKey (including the size
// bucket) remains the fingerprint attached to outbound events.
type conditionKey struct {
	symbol      string
	side        string
	priceBucket int64
}

// Config holds the bucketing and cooldown policy.
type Config struct {
	// PriceBucketPct coarsens band prices to this fraction of mid before
	// comparison, so a wall drifting a few ticks stays the same condition.
	PriceBucketPct float64
	// SizeStepFactor is the logarithmic step between size buckets. A wall
	// growing by more than one step re-alerts even during cooldown.
	SizeStepFactor float64
	// Cooldown silences a condition until it has not been seen for this long.
	Cooldown time.Duration
	// IdleTTL bounds memory: records unseen for this long are evicted.
	IdleTTL time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PriceBucketPct <= 0 {
		out.PriceBucketPct = 0.1
	}
	if out.SizeStepFactor <= 1 {
		out.SizeStepFactor = 2.0
	}
	if out.Cooldown <= 0 {
		out.Cooldown = 5 * time.Minute
	}
	if out.IdleTTL <= 0 {
		out.IdleTTL = time.Hour
	}
	return out
}

// Deduplicator applies the bucketing/cooldown policy. Safe for concurrent
// use by the per-instrument evaluation goroutines.
type Deduplicator struct {
	cfg     Config
	mu      sync.Mutex
	records map[conditionKey]*record
	log     *logger.Log
}

func NewDeduplicator(cfg Config) *Deduplicator {
	d := &Deduplicator{
		cfg:     cfg.withDefaults(),
		records: make(map[conditionKey]*record),
		log:     logger.GetLogger(),
	}
	d.log.WithComponent("dedup").WithFields(logger.Fields{
		"price_bucket_pct": d.cfg.PriceBucketPct,
		"size_step_factor": d.cfg.SizeStepFactor,
		"cooldown":         d.cfg.Cooldown.String(),
		"idle_ttl":         d.cfg.IdleTTL.String(),
	}).Info("deduplicator initialized")
	return d
}

// Key derives the dedup fingerprint for a band.
func (d *Deduplicator) Key(band models.DensityBand) models.AlertKey {
	return models.AlertKey{
		Symbol:      band.Symbol,
		Side:        band.Side,
		PriceBucket: d.priceBucket(band),
		SizeBucket:  d.sizeBucket(band.VolumeUSD),
	}
}

// ShouldAlert reports whether the band represents a condition that has not
// been reported recently, updating record state either way. A condition
// re-triggers once it has been absent for the cooldown window, or sooner if
// its size bucket grew by more than one step.
func (d *Deduplicator) ShouldAlert(band models.DensityBand, now time.Time) bool {
	key := conditionKey{symbol: band.Symbol, side: band.Side, priceBucket: d.priceBucket(band)}
	sizeBucket := d.sizeBucket(band.VolumeUSD)

	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.records[key]
	if !ok {
		d.records[key] = &record{
			sizeBucket:  sizeBucket,
			firstSeenAt: now,
			lastSeenAt:  now,
		}
		return true
	}

	fire := now.Sub(r.lastSeenAt) >= d.cfg.Cooldown || sizeBucket > r.sizeBucket+1

	r.lastSeenAt = now
	r.timesRepeated++
	if fire {
		r.sizeBucket = sizeBucket
	}
	return fire
}

// Evict purges records that have not been seen within the idle window.
func (d *Deduplicator) Evict(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for key, r := range d.records {
		if now.Sub(r.lastSeenAt) >= d.cfg.IdleTTL {
			delete(d.records, key)
			evicted++
		}
	}
	if evicted > 0 {
		d.log.WithComponent("dedup").WithFields(logger.Fields{
			"evicted":   evicted,
			"remaining": len(d.records),
		}).Debug("evicted idle alert records")
	}
	return evicted
}

// Len returns the number of live records.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// priceBucket rounds the band's near edge to the nearest PriceBucketPct of
// mid. Decimal division keeps bucket boundaries stable against float drift.
func (d *Deduplicator) priceBucket(band models.DensityBand) int64 {
	if band.MidPrice <= 0 {
		return 0
	}
	step := decimal.NewFromFloat(band.MidPrice).Mul(decimal.NewFromFloat(d.cfg.PriceBucketPct / 100))
	if step.IsZero() {
		return 0
	}
	edge := band.PriceHigh
	if band.Side == models.SideAsk {
		edge = band.PriceLow
	}
	return decimal.NewFromFloat(edge).DivRound(step, 0).IntPart()
}

// sizeBucket maps a notional to a logarithmic step above zero.
func (d *Deduplicator) sizeBucket(volumeUSD float64) int {
	if volumeUSD < 1 {
		return 0
	}
	return int(math.Floor(math.Log(volumeUSD) / math.Log(d.cfg.SizeStepFactor)))
}
