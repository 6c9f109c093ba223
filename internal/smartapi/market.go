package smartapi

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/rewired-gh/momentumscan/internal/logger"
	"github.com/rewired-gh/momentumscan/internal/models"
)

// ist is the exchange's local time, used for historical date ranges.
var ist = time.FixedZone("IST", 5*3600+1800)

const candleTimeLayout = "2006-01-02 15:04"

type moverRow struct {
	TradingSymbol string          `json:"tradingSymbol"`
	SymbolToken   string          `json:"symbolToken"`
	PercentChange decimal.Decimal `json:"percentChange"`
}

type scripRow struct {
	Exchange       string `json:"exchange"`
	TradingSymbol  string `json:"tradingsymbol"`
	SymbolToken    string `json:"symboltoken"`
	InstrumentType string `json:"instrumenttype"`
	OptionType     string `json:"optiontype"`
	Expiry         string `json:"expiry"`
}

type quoteRow struct {
	Exchange      string          `json:"exchange"`
	TradingSymbol string          `json:"tradingSymbol"`
	SymbolToken   string          `json:"symbolToken"`
	LTP           decimal.Decimal `json:"ltp"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	TradeVolume   decimal.Decimal `json:"tradeVolume"`
}

type quoteData struct {
	Fetched   []quoteRow `json:"fetched"`
	Unfetched []struct {
		Exchange    string `json:"exchange"`
		SymbolToken string `json:"symbolToken"`
		Message     string `json:"message"`
	} `json:"unfetched"`
}

// Movers returns the ranked percentage gainers or losers among derivatives of
// the given expiry type (NEAR, NEXT or FAR).
func (c *Client) Movers(ctx context.Context, category models.Category, expiryType string) ([]models.Mover, error) {
	datatype := "PercPriceGainers"
	if category == models.Loser {
		datatype = "PercPriceLosers"
	}
	body := map[string]string{"datatype": datatype, "expirytype": expiryType}

	var rows []moverRow
	if err := c.post(ctx, pathMovers, body, true, &rows); err != nil {
		return nil, err
	}

	movers := make([]models.Mover, 0, len(rows))
	for _, r := range rows {
		if r.TradingSymbol == "" {
			continue
		}
		movers = append(movers, models.Mover{
			Token:         r.SymbolToken,
			TradingSymbol: r.TradingSymbol,
			PercentChange: r.PercentChange.InexactFloat64(),
		})
	}
	return movers, nil
}

// SearchContracts looks up scrips on exchange whose symbol starts with query.
// Rows lacking instrument metadata have it inferred from the trading symbol.
func (c *Client) SearchContracts(ctx context.Context, exchange models.Exchange, query string) ([]models.ScripMatch, error) {
	body := map[string]string{"exchange": string(exchange), "searchscrip": query}

	var rows []scripRow
	if err := c.post(ctx, pathSearchScrip, body, true, &rows); err != nil {
		return nil, err
	}

	matches := make([]models.ScripMatch, 0, len(rows))
	for _, r := range rows {
		if r.SymbolToken == "" || r.TradingSymbol == "" {
			continue
		}
		instType, optType := r.InstrumentType, r.OptionType
		if instType == "" {
			instType, optType = inferInstrument(r.TradingSymbol)
		}
		ex := exchange
		if parsed, err := models.ParseExchange(r.Exchange); err == nil {
			ex = parsed
		}
		matches = append(matches, models.ScripMatch{
			Token:          r.SymbolToken,
			TradingSymbol:  r.TradingSymbol,
			Exchange:       ex,
			InstrumentType: instType,
			OptionType:     optType,
			Expiry:         parseExpiry(r.Expiry, r.TradingSymbol),
		})
	}
	return matches, nil
}

// Quotes fetches live snapshots for every token in one call. mode is LTP, OHLC
// or FULL; only FULL carries volume.
func (c *Client) Quotes(ctx context.Context, mode string, tokens map[models.Exchange][]string) ([]models.Quote, error) {
	exchangeTokens := make(map[string][]string, len(tokens))
	for ex, list := range tokens {
		if len(list) > 0 {
			exchangeTokens[string(ex)] = list
		}
	}
	if len(exchangeTokens) == 0 {
		return nil, nil
	}
	body := map[string]any{"mode": mode, "exchangeTokens": exchangeTokens}

	var data quoteData
	if err := c.post(ctx, pathQuote, body, true, &data); err != nil {
		return nil, err
	}

	quotes := make([]models.Quote, 0, len(data.Fetched))
	for _, r := range data.Fetched {
		ex, _ := models.ParseExchange(r.Exchange)
		quotes = append(quotes, models.Quote{
			Token:         r.SymbolToken,
			TradingSymbol: r.TradingSymbol,
			Exchange:      ex,
			LastPrice:     r.LTP.InexactFloat64(),
			Open:          r.Open.InexactFloat64(),
			High:          r.High.InexactFloat64(),
			Low:           r.Low.InexactFloat64(),
			Close:         r.Close.InexactFloat64(),
			Volume:        r.TradeVolume.InexactFloat64(),
		})
	}
	for _, u := range data.Unfetched {
		logger.Debug("Snapshot unavailable for %s:%s: %s", u.Exchange, u.SymbolToken, u.Message)
	}
	return quotes, nil
}

// Candles fetches bars in [from, to]. Rows are [timestamp, open, high, low,
// close, volume]; malformed rows are dropped.
func (c *Client) Candles(ctx context.Context, exchange models.Exchange, token string, interval models.Interval, from, to time.Time) ([]models.PriceBar, error) {
	body := map[string]string{
		"exchange":    string(exchange),
		"symboltoken": token,
		"interval":    string(interval),
		"fromdate":    from.In(ist).Format(candleTimeLayout),
		"todate":      to.In(ist).Format(candleTimeLayout),
	}

	raw, err := c.postRaw(ctx, pathCandles, body, true)
	if err != nil {
		return nil, err
	}
	return parseCandles(raw)
}

func parseCandles(raw []byte) ([]models.PriceBar, error) {
	data := gjson.ParseBytes(raw)
	if !data.Exists() || data.Type == gjson.Null {
		return nil, nil
	}
	if !data.IsArray() {
		return nil, fmt.Errorf("unexpected candle data format")
	}

	var bars []models.PriceBar
	for _, v := range data.Array() {
		row := v.Array()
		if len(row) < 6 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[0].String())
		if err != nil {
			continue
		}
		bars = append(bars, models.PriceBar{
			Timestamp: ts,
			Open:      row[1].Float(),
			High:      row[2].Float(),
			Low:       row[3].Float(),
			Close:     row[4].Float(),
			Volume:    row[5].Float(),
		})
	}
	return bars, nil
}
