// Package density computes order-book density bands: contiguous runs of
// resting volume near the mid price whose cumulative USD notional crosses a
// configured threshold.
package density

import (
	"math"

	"densityflow/models"
	"densityflow/orderbook"
	"densityflow/settings"
)

// Evaluate walks both ladders of a book view outward from mid, accumulating
// price*quantity notional per level. A side stops at the first level that
// carries the cumulative notional to at least MinSizeUSD (ties qualify):
// that tightest band is emitted and wider supersets are not, so one wall
// yields one band. Levels beyond mid*(1 ± DistancePct/100) are out of range.
//
// An empty side is skipped. A missing mid propagates ErrNoLiquidity and a
// crossed book propagates ErrCrossedBook; the caller skips the instrument
// for this tick and, for a crossed book, flags it for resync.
//
// When alerts are disabled the walk still runs so the path stays warm, but
// nothing is emitted.
func Evaluate(view *orderbook.View, cfg *settings.Settings) ([]models.DensityBand, error) {
	mid, err := view.MidPrice()
	if err != nil {
		return nil, err
	}

	bands := make([]models.DensityBand, 0, 2)
	if band, ok := walkSide(view.Symbol, models.SideBid, view.Bids, mid, cfg); ok {
		bands = append(bands, band)
	}
	if band, ok := walkSide(view.Symbol, models.SideAsk, view.Asks, mid, cfg); ok {
		bands = append(bands, band)
	}

	if !cfg.AlertsEnabled {
		return nil, nil
	}
	return bands, nil
}

func walkSide(symbol, side string, levels []models.BookLevel, mid float64, cfg *settings.Settings) (models.DensityBand, bool) {
	if len(levels) == 0 {
		return models.DensityBand{}, false
	}

	limit := mid * (1 + cfg.DistancePct/100)
	if side == models.SideBid {
		limit = mid * (1 - cfg.DistancePct/100)
	}

	var cumulative float64
	for i, lvl := range levels {
		if side == models.SideBid && lvl.Price < limit {
			break
		}
		if side == models.SideAsk && lvl.Price > limit {
			break
		}

		cumulative += lvl.Price * lvl.Quantity
		if cumulative >= cfg.MinSizeUSD {
			low, high := levels[0].Price, lvl.Price
			if low > high {
				low, high = high, low
			}
			far := high
			if side == models.SideBid {
				far = low
			}
			return models.DensityBand{
				Symbol:      symbol,
				Side:        side,
				PriceLow:    low,
				PriceHigh:   high,
				VolumeUSD:   cumulative,
				DistancePct: math.Abs(mid-far) / mid * 100,
				MidPrice:    mid,
				Levels:      i + 1,
			}, true
		}
	}
	return models.DensityBand{}, false
}
