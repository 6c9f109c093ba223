// Package monitor turns market observations into directional momentum alerts.
package monitor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/momentumscan/internal/indicator"
	"github.com/rewired-gh/momentumscan/internal/logger"
	"github.com/rewired-gh/momentumscan/internal/marketdata"
	"github.com/rewired-gh/momentumscan/internal/models"
)

// Mode selects how a move is confirmed before it becomes an alert.
type Mode string

const (
	// ModeConfirmed requires the move, EMA and VWAP to agree.
	ModeConfirmed Mode = "confirmed"
	// ModeSimple compares LTP with the session open only.
	ModeSimple Mode = "simple"
)

// ParseMode normalizes a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeConfirmed:
		return ModeConfirmed, nil
	case ModeSimple:
		return ModeSimple, nil
	}
	return "", fmt.Errorf("unknown strategy mode %q", s)
}

// NeedsBars reports whether the mode consumes historical bars.
func (m Mode) NeedsBars() bool {
	return m != ModeSimple
}

type Config struct {
	Mode             Mode
	Period           int
	ThresholdPercent float64
}

func DefaultConfig() Config {
	return Config{
		Mode:             ModeConfirmed,
		Period:           15,
		ThresholdPercent: 0.05,
	}
}

// Engine evaluates observations. It keeps no memory between cycles, so a
// contract that keeps qualifying alerts on every cycle.
type Engine struct {
	config Config
	now    func() time.Time
	newID  func() string
}

func New(config Config) *Engine {
	def := DefaultConfig()
	if config.Mode == "" {
		config.Mode = def.Mode
	}
	if config.Period <= 0 {
		config.Period = def.Period
	}
	if config.ThresholdPercent < 0 {
		config.ThresholdPercent = def.ThresholdPercent
	}
	return &Engine{
		config: config,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Config returns the engine configuration after defaults were applied.
func (e *Engine) Config() Config {
	return e.config
}

// PercentMove is (ltp - open) / open * 100. open must be positive.
func PercentMove(open, ltp float64) float64 {
	return (ltp - open) / open * 100
}

// Classify applies the confirmed rule: the move must clear threshold and both
// indicators must sit on the same side of ltp as the move.
func Classify(open, ltp, ema, vwap, threshold float64) (models.Direction, bool) {
	if open <= 0 {
		return "", false
	}
	pct := PercentMove(open, ltp)
	if math.Abs(pct) < threshold {
		return "", false
	}
	switch {
	case pct > 0 && ltp > ema && ltp > vwap:
		return models.Bullish, true
	case pct < 0 && ltp < ema && ltp < vwap:
		return models.Bearish, true
	}
	return "", false
}

// ClassifySimple compares ltp with open and nothing else. Moves under threshold
// are Flat.
func ClassifySimple(open, ltp, threshold float64) models.Direction {
	if open <= 0 {
		return models.Flat
	}
	pct := PercentMove(open, ltp)
	switch {
	case math.Abs(pct) < threshold || pct == 0:
		return models.Flat
	case pct > 0:
		return models.Bullish
	default:
		return models.Bearish
	}
}

// Evaluate runs the confirmed rule for one contract. open is taken from the
// latest bar; EMA and VWAP come from the trailing Period bars.
func (e *Engine) Evaluate(contract models.TrackedContract, ltp float64, bars []models.PriceBar) (models.AlertEvent, bool) {
	if len(bars) == 0 {
		return models.AlertEvent{}, false
	}
	open := bars[len(bars)-1].Open
	if open <= 0 {
		return models.AlertEvent{}, false
	}
	pct := PercentMove(open, ltp)
	if math.Abs(pct) < e.config.ThresholdPercent {
		return models.AlertEvent{}, false
	}

	ema, ok := indicator.EMA(bars, e.config.Period)
	if !ok {
		return models.AlertEvent{}, false
	}
	vwap, ok := indicator.VWAP(indicator.Trailing(bars, e.config.Period))
	if !ok {
		return models.AlertEvent{}, false
	}

	direction, ok := Classify(open, ltp, ema, vwap, e.config.ThresholdPercent)
	if !ok {
		logger.Debug("%s: move %.3f%% not confirmed (ltp=%.2f ema=%.2f vwap=%.2f)",
			contract.TradingSymbol, pct, ltp, ema, vwap)
		return models.AlertEvent{}, false
	}

	side := "above"
	if direction == models.Bearish {
		side = "below"
	}
	event := e.newEvent(contract, direction, ModeConfirmed, pct, ltp, open)
	event.EMA = ema
	event.VWAP = vwap
	event.Reasons = []models.Reason{
		momentumReason(pct, e.config.ThresholdPercent),
		{
			Kind:      models.ReasonEMA,
			Text:      fmt.Sprintf("LTP %.2f %s EMA(%d) %.2f", ltp, side, e.config.Period, ema),
			Value:     ltp,
			Reference: ema,
		},
		{
			Kind:      models.ReasonVWAP,
			Text:      fmt.Sprintf("LTP %.2f %s VWAP %.2f", ltp, side, vwap),
			Value:     ltp,
			Reference: vwap,
		},
	}
	return event, true
}

// EvaluateSimple runs the single-signal rule against the quote's session open.
// Flat results produce no event.
func (e *Engine) EvaluateSimple(contract models.TrackedContract, quote models.Quote) (models.AlertEvent, bool) {
	direction := ClassifySimple(quote.Open, quote.LastPrice, e.config.ThresholdPercent)
	if direction == models.Flat {
		return models.AlertEvent{}, false
	}
	pct := PercentMove(quote.Open, quote.LastPrice)
	event := e.newEvent(contract, direction, ModeSimple, pct, quote.LastPrice, quote.Open)
	event.Reasons = []models.Reason{momentumReason(pct, e.config.ThresholdPercent)}
	return event, true
}

// ProcessPoll evaluates every observation under the configured mode and returns
// alerts ordered by move size, largest first.
func (e *Engine) ProcessPoll(observations []marketdata.Observation) []models.AlertEvent {
	var alerts []models.AlertEvent
	var evaluated, insufficient int

	for _, obs := range observations {
		var (
			event models.AlertEvent
			ok    bool
		)
		switch e.config.Mode {
		case ModeSimple:
			event, ok = e.EvaluateSimple(obs.Contract, obs.Quote)
		default:
			if len(obs.Bars) < e.config.Period {
				insufficient++
				continue
			}
			event, ok = e.Evaluate(obs.Contract, obs.Quote.LastPrice, obs.Bars)
		}
		evaluated++
		if ok {
			alerts = append(alerts, event)
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return math.Abs(alerts[i].PercentMove) > math.Abs(alerts[j].PercentMove)
	})

	logger.Debug("Evaluated %d contracts (%s mode): %d with insufficient history, %d alerts",
		evaluated, e.config.Mode, insufficient, len(alerts))
	return alerts
}

func (e *Engine) newEvent(contract models.TrackedContract, direction models.Direction, mode Mode, pct, ltp, open float64) models.AlertEvent {
	return models.AlertEvent{
		ID:          e.newID(),
		Contract:    contract,
		Direction:   direction,
		Mode:        string(mode),
		PercentMove: pct,
		LastPrice:   ltp,
		Open:        open,
		EmittedAt:   e.now(),
	}
}

func momentumReason(pct, threshold float64) models.Reason {
	return models.Reason{
		Kind:      models.ReasonMomentum,
		Text:      fmt.Sprintf("Move %+.2f%% clears threshold %.2f%%", pct, threshold),
		Value:     pct,
		Reference: threshold,
	}
}
