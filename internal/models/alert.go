package models

import (
	"time"
)

// Direction is the classified momentum of an evaluation.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Flat    Direction = "FLAT"
)

// ReasonKind names the condition a Reason proves.
type ReasonKind string

const (
	ReasonMomentum ReasonKind = "momentum"
	ReasonEMA      ReasonKind = "ema"
	ReasonVWAP     ReasonKind = "vwap"
)

// Reason is one satisfied alert condition with its numeric evidence. For momentum,
// Value is the percent move and Reference the threshold; for EMA/VWAP, Value is the
// LTP and Reference the indicator.
type Reason struct {
	Kind      ReasonKind `json:"kind"`
	Text      string     `json:"text"`
	Value     float64    `json:"value"`
	Reference float64    `json:"reference"`
}

// AlertEvent is a classified directional alert for one contract.
type AlertEvent struct {
	ID          string          `json:"id"`
	Contract    TrackedContract `json:"contract"`
	Direction   Direction       `json:"direction"`
	Mode        string          `json:"mode"`
	PercentMove float64         `json:"percent_move"`
	LastPrice   float64         `json:"last_price"`
	Open        float64         `json:"open"`
	EMA         float64         `json:"ema,omitempty"`
	VWAP        float64         `json:"vwap,omitempty"`
	Reasons     []Reason        `json:"reasons"`
	EmittedAt   time.Time       `json:"emitted_at"`
}

// Key identifies the alert's contract and direction, e.g. "NFO:12345:BULLISH".
func (a *AlertEvent) Key() string {
	return string(a.Contract.Exchange) + ":" + a.Contract.Token + ":" + string(a.Direction)
}
