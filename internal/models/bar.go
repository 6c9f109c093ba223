package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PriceBar is one OHLCV interval.
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate rejects bars the indicators cannot use.
func (b *PriceBar) Validate() error {
	if b.Timestamp.IsZero() {
		return errors.New("bar timestamp must be set")
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return errors.New("bar prices must be positive")
	}
	if b.High < b.Low {
		return errors.New("bar high must be >= low")
	}
	if b.Volume < 0 {
		return errors.New("bar volume must not be negative")
	}
	return nil
}

// Quote is a live snapshot of one token. Open is the session open; it is zero when the
// snapshot mode does not carry it.
type Quote struct {
	Token         string
	TradingSymbol string
	Exchange      Exchange
	LastPrice     float64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
}

// Validate rejects snapshots without a usable last traded price.
func (q *Quote) Validate() error {
	if q.Token == "" {
		return errors.New("quote token must not be empty")
	}
	if q.LastPrice <= 0 {
		return fmt.Errorf("quote %s has no last traded price", q.Token)
	}
	return nil
}

// Interval is a historical bar granularity accepted by the data provider.
type Interval string

const (
	OneMinute     Interval = "ONE_MINUTE"
	ThreeMinute   Interval = "THREE_MINUTE"
	FiveMinute    Interval = "FIVE_MINUTE"
	TenMinute     Interval = "TEN_MINUTE"
	FifteenMinute Interval = "FIFTEEN_MINUTE"
	ThirtyMinute  Interval = "THIRTY_MINUTE"
	OneHour       Interval = "ONE_HOUR"
	OneDay        Interval = "ONE_DAY"
)

var intervalMinutes = map[Interval]int{
	OneMinute:     1,
	ThreeMinute:   3,
	FiveMinute:    5,
	TenMinute:     10,
	FifteenMinute: 15,
	ThirtyMinute:  30,
	OneHour:       60,
	OneDay:        1440,
}

// ParseInterval validates an interval name.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := intervalMinutes[iv]; !ok {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return iv, nil
}

// Minutes returns the interval length in minutes, or 0 for an unknown interval.
func (i Interval) Minutes() int {
	return intervalMinutes[i]
}

// Duration returns the interval length.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Minutes()) * time.Minute
}

// Label renders the interval for humans, e.g. "ONE MINUTE".
func (i Interval) Label() string {
	return strings.ReplaceAll(string(i), "_", " ")
}
