// Package marketdata fetches live snapshots and recent bars for the cached universe.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/momentumscan/internal/cache"
	"github.com/rewired-gh/momentumscan/internal/logger"
	"github.com/rewired-gh/momentumscan/internal/models"
)

// QuoteSource returns live snapshots for tokens grouped by exchange in one call.
type QuoteSource interface {
	Quotes(ctx context.Context, mode string, tokens map[models.Exchange][]string) ([]models.Quote, error)
}

// BarSource returns historical bars for one token.
type BarSource interface {
	Candles(ctx context.Context, exchange models.Exchange, token string, interval models.Interval, from, to time.Time) ([]models.PriceBar, error)
}

// Config controls the bar window and fan-out.
type Config struct {
	Interval    models.Interval
	Period      int
	Buffer      int
	MaxInFlight int
	QuoteMode   string
}

// DefaultConfig returns the poller defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    models.OneMinute,
		Period:      15,
		Buffer:      10,
		MaxInFlight: 4,
		QuoteMode:   "FULL",
	}
}

// Observation is everything a decision needs about one contract for one cycle.
// Bars is nil when bars were not requested or their fetch failed.
type Observation struct {
	Contract models.TrackedContract
	Quote    models.Quote
	Bars     []models.PriceBar
}

// Poller pulls market data for a cache generation.
type Poller struct {
	quotes QuoteSource
	bars   BarSource
	config Config
	now    func() time.Time
}

// NewPoller creates a poller. Zero config fields fall back to DefaultConfig.
func NewPoller(quotes QuoteSource, bars BarSource, config Config) *Poller {
	def := DefaultConfig()
	if config.Interval == "" {
		config.Interval = def.Interval
	}
	if config.Period <= 0 {
		config.Period = def.Period
	}
	if config.Buffer < 0 {
		config.Buffer = def.Buffer
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = def.MaxInFlight
	}
	if config.QuoteMode == "" {
		config.QuoteMode = def.QuoteMode
	}
	return &Poller{quotes: quotes, bars: bars, config: config, now: time.Now}
}

// LookbackWindow returns the [from, to] range covering period+buffer intervals
// ending at now.
func LookbackWindow(now time.Time, interval models.Interval, period, buffer int) (time.Time, time.Time) {
	span := time.Duration(period+buffer) * interval.Duration()
	return now.Add(-span), now
}

// Poll fetches one batched snapshot for gen and, when withBars is set, the
// recent bars of every quoted token. It fails only when the snapshot call
// fails; tokens without a price or whose bar fetch fails are left out or
// returned without bars.
func (p *Poller) Poll(ctx context.Context, gen *cache.Generation, withBars bool) ([]Observation, error) {
	if gen.Len() == 0 {
		return nil, nil
	}

	quotes, err := p.quotes.Quotes(ctx, p.config.QuoteMode, gen.TokensByExchange())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshots: %w", err)
	}

	byToken := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		if err := q.Validate(); err != nil {
			logger.Debug("Dropping snapshot: %v", err)
			continue
		}
		byToken[q.Token] = q
	}

	var observations []Observation
	for _, contract := range gen.Contracts() {
		q, ok := byToken[contract.Token]
		if !ok {
			logger.Debug("No live price for %s (%s), skipping this cycle", contract.TradingSymbol, contract.Token)
			continue
		}
		observations = append(observations, Observation{Contract: contract, Quote: q})
	}

	if withBars && len(observations) > 0 {
		p.attachBars(ctx, observations)
	}
	return observations, nil
}

// attachBars fetches bars with at most MaxInFlight requests outstanding. A
// failed token keeps a nil Bars slice.
func (p *Poller) attachBars(ctx context.Context, observations []Observation) {
	from, to := LookbackWindow(p.now(), p.config.Interval, p.config.Period, p.config.Buffer)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxInFlight)

	for i := range observations {
		g.Go(func() error {
			c := observations[i].Contract
			bars, err := p.bars.Candles(gctx, c.Exchange, c.Token, p.config.Interval, from, to)
			if err != nil {
				logger.Warn("Failed to fetch bars for %s: %v", c.TradingSymbol, err)
				return nil
			}
			observations[i].Bars = cleanBars(bars)
			return nil
		})
	}
	_ = g.Wait()
}

// cleanBars drops malformed bars and orders the rest ascending by timestamp.
func cleanBars(bars []models.PriceBar) []models.PriceBar {
	out := make([]models.PriceBar, 0, len(bars))
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			logger.Debug("Dropping bar: %v", err)
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
