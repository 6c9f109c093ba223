package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/momentumscan/internal/models"
)

func closes(values ...float64) []models.PriceBar {
	start := time.Date(2025, 11, 3, 9, 15, 0, 0, time.UTC)
	bars := make([]models.PriceBar, len(values))
	for i, v := range values {
		bars[i] = models.PriceBar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      v,
			High:      v + 1,
			Low:       v - 1,
			Close:     v,
			Volume:    100,
		}
	}
	return bars
}

func TestEMA_InsufficientHistory(t *testing.T) {
	_, ok := EMA(closes(1, 2, 3), 4)
	assert.False(t, ok)

	_, ok = EMA(nil, 1)
	assert.False(t, ok)

	_, ok = EMA(closes(1, 2, 3), 0)
	assert.False(t, ok)
}

func TestEMA_ConstantSeries(t *testing.T) {
	ema, ok := EMA(closes(50, 50, 50, 50, 50), 5)
	require.True(t, ok)
	assert.InDelta(t, 50.0, ema, 1e-12)
}

func TestEMA_UsesTrailingWindow(t *testing.T) {
	// Only the last three closes (10, 20, 30) matter.
	// seed = 20; k = 0.5; i=1: (20-20)*0.5+20 = 20; i=2: (30-20)*0.5+20 = 25
	ema, ok := EMA(closes(1000, 1000, 10, 20, 30), 3)
	require.True(t, ok)
	assert.InDelta(t, 25.0, ema, 1e-12)
}

func TestEMA_PeriodOne(t *testing.T) {
	ema, ok := EMA(closes(5, 6, 7), 1)
	require.True(t, ok)
	assert.InDelta(t, 7.0, ema, 1e-12)
}

func TestEMA_Deterministic(t *testing.T) {
	bars := closes(101.2, 100.9, 101.5, 102.0, 101.7, 101.9, 102.4, 102.1)
	a, okA := EMA(bars, 6)
	b, okB := EMA(bars, 6)
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, a, b)
}

func TestVWAP_UniformVolumeIsMeanTypicalPrice(t *testing.T) {
	bars := closes(10, 20, 30)
	vwap, ok := VWAP(bars)
	require.True(t, ok)

	var sum float64
	for _, b := range bars {
		sum += TypicalPrice(b)
	}
	assert.InDelta(t, sum/3, vwap, 1e-9)
}

func TestVWAP_ZeroVolume(t *testing.T) {
	bars := closes(10, 20)
	for i := range bars {
		bars[i].Volume = 0
	}
	_, ok := VWAP(bars)
	assert.False(t, ok)

	_, ok = VWAP(nil)
	assert.False(t, ok)
}

func TestVWAP_SkipsZeroVolumeBars(t *testing.T) {
	bars := []models.PriceBar{
		{High: 12, Low: 6, Close: 9, Volume: 2},   // tp 9
		{High: 30, Low: 30, Close: 30, Volume: 0}, // ignored
		{High: 3, Low: 3, Close: 3, Volume: 1},    // tp 3
	}
	vwap, ok := VWAP(bars)
	require.True(t, ok)
	assert.InDelta(t, (9*2+3*1)/3.0, vwap, 1e-12)
}

func TestTrailing(t *testing.T) {
	bars := closes(1, 2, 3, 4)
	got := Trailing(bars, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[0].Close)
	assert.Equal(t, 4.0, got[1].Close)
	assert.Nil(t, Trailing(bars, 5))
}
