// Package models defines the core domain entities: tracked contracts, price bars, quotes and alerts.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Exchange identifies the segment a contract trades on.
type Exchange string

const (
	// ExchangeNSE is the cash equity segment.
	ExchangeNSE Exchange = "NSE"
	// ExchangeNFO is the futures & options segment.
	ExchangeNFO Exchange = "NFO"
)

// ParseExchange normalizes an exchange code.
func ParseExchange(s string) (Exchange, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NSE":
		return ExchangeNSE, nil
	case "NFO":
		return ExchangeNFO, nil
	}
	return "", fmt.Errorf("unknown exchange %q", s)
}

// InstrumentType is the kind of contract a scan resolves movers into.
type InstrumentType string

const (
	Equity     InstrumentType = "EQUITY"
	Future     InstrumentType = "FUTURE"
	CallOption InstrumentType = "CALL_OPTION"
)

// ParseInstrumentType accepts the canonical names and the short exchange aliases (EQ, FUT, OPT, CE).
func ParseInstrumentType(s string) (InstrumentType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EQUITY", "EQ":
		return Equity, nil
	case "FUTURE", "FUT":
		return Future, nil
	case "CALL_OPTION", "OPT", "CE":
		return CallOption, nil
	}
	return "", fmt.Errorf("unknown instrument type %q", s)
}

// Exchange returns the segment contracts of this type are listed on.
func (t InstrumentType) Exchange() Exchange {
	if t == Equity {
		return ExchangeNSE
	}
	return ExchangeNFO
}

// Short returns the compact label used in notifications.
func (t InstrumentType) Short() string {
	switch t {
	case Equity:
		return "EQ"
	case Future:
		return "FUT"
	case CallOption:
		return "OPT"
	}
	return string(t)
}

// Category records which movers scan produced a contract.
type Category string

const (
	Gainer Category = "GAINER"
	Loser  Category = "LOSER"
)

// TrackedContract is one resolved instrument under watch. Values are immutable once
// placed in a cache generation.
type TrackedContract struct {
	Token          string         `json:"token"`
	TradingSymbol  string         `json:"trading_symbol"`
	RootSymbol     string         `json:"root_symbol"`
	Exchange       Exchange       `json:"exchange"`
	InstrumentType InstrumentType `json:"instrument_type"`
	Category       Category       `json:"category"`
	Expiry         time.Time      `json:"expiry,omitempty"`
}

// Validate checks contract field constraints.
func (c *TrackedContract) Validate() error {
	if c.Token == "" {
		return errors.New("contract token must not be empty")
	}
	if c.TradingSymbol == "" {
		return errors.New("trading symbol must not be empty")
	}
	if c.RootSymbol == "" {
		return errors.New("root symbol must not be empty")
	}
	if c.Exchange != ExchangeNSE && c.Exchange != ExchangeNFO {
		return fmt.Errorf("invalid exchange %q", c.Exchange)
	}
	switch c.InstrumentType {
	case Equity, Future, CallOption:
	default:
		return fmt.Errorf("invalid instrument type %q", c.InstrumentType)
	}
	if c.Category != Gainer && c.Category != Loser {
		return fmt.Errorf("invalid category %q", c.Category)
	}
	return nil
}

// Mover is one row of a ranked gainers/losers response.
type Mover struct {
	Token         string
	TradingSymbol string
	PercentChange float64
}

// ScripMatch is one row of a contract search response. Expiry is zero for cash instruments.
type ScripMatch struct {
	Token          string
	TradingSymbol  string
	Exchange       Exchange
	InstrumentType string // raw exchange code: EQ, FUTSTK, FUTIDX, OPTSTK, OPTIDX
	OptionType     string // CE, PE or empty
	Expiry         time.Time
}
