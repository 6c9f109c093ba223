package smartapi

import (
	"regexp"
	"strings"
	"time"
)

// monthlyExpiry matches the DDMMMYY block embedded in derivative symbols, e.g.
// the 25NOV25 in TATASTEEL25NOV25FUT.
var monthlyExpiry = regexp.MustCompile(`\d{2}[A-Z]{3}\d{2}`)

// inferInstrument derives the exchange instrument and option type codes from a
// trading symbol when the search response omits them.
func inferInstrument(tradingSymbol string) (instrumentType, optionType string) {
	s := strings.ToUpper(tradingSymbol)
	isIndex := strings.HasPrefix(s, "NIFTY") || strings.HasPrefix(s, "BANKNIFTY") ||
		strings.HasPrefix(s, "FINNIFTY") || strings.HasPrefix(s, "MIDCPNIFTY")

	switch {
	case strings.HasSuffix(s, "-EQ"), !strings.ContainsAny(s, "0123456789"):
		return "EQ", ""
	case strings.HasSuffix(s, "FUT"):
		if isIndex {
			return "FUTIDX", ""
		}
		return "FUTSTK", ""
	case strings.HasSuffix(s, "CE"), strings.HasSuffix(s, "PE"):
		opt := s[len(s)-2:]
		if isIndex {
			return "OPTIDX", opt
		}
		return "OPTSTK", opt
	}
	return "", ""
}

// parseExpiry reads raw in the API's DDMMMYYYY form, falling back to the
// expiry embedded in the trading symbol. Unknown expiries are zero.
func parseExpiry(raw, tradingSymbol string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"02Jan2006", "2006-01-02", "02Jan06"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	if m := monthlyExpiry.FindString(strings.ToUpper(tradingSymbol)); m != "" {
		if t, err := time.Parse("02Jan06", m); err == nil {
			return t
		}
	}
	return time.Time{}
}
