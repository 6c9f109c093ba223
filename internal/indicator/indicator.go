// Package indicator computes trend indicators over ascending-ordered price bars.
//
// Every function is pure. A false second return value means there was not enough
// data to produce a value; callers must treat it as "cannot evaluate", never as zero.
package indicator

import "github.com/rewired-gh/momentumscan/internal/models"

// Trailing returns the most recent n bars, or nil if fewer than n are available.
func Trailing(bars []models.PriceBar, n int) []models.PriceBar {
	if n <= 0 || len(bars) < n {
		return nil
	}
	return bars[len(bars)-n:]
}

// EMA returns the exponential moving average over the trailing period bars.
// The seed is the mean close of that window; the recurrence then runs over the
// window's bars after the first.
func EMA(bars []models.PriceBar, period int) (float64, bool) {
	window := Trailing(bars, period)
	if window == nil {
		return 0, false
	}

	var sum float64
	for _, b := range window {
		sum += b.Close
	}
	ema := sum / float64(period)

	k := 2 / float64(period+1)
	for i := 1; i < len(window); i++ {
		ema = (window[i].Close-ema)*k + ema
	}
	return ema, true
}

// TypicalPrice is (high + low + close) / 3.
func TypicalPrice(b models.PriceBar) float64 {
	return (b.High + b.Low + b.Close) / 3
}

// VWAP returns the volume-weighted average typical price of bars. Bars without
// volume are ignored.
func VWAP(bars []models.PriceBar) (float64, bool) {
	var sumPV, sumV float64
	for _, b := range bars {
		if b.Volume <= 0 {
			continue
		}
		sumPV += TypicalPrice(b) * b.Volume
		sumV += b.Volume
	}
	if sumV == 0 {
		return 0, false
	}
	return sumPV / sumV, true
}
