// Package universe turns ranked movers into concrete tradable contracts.
package universe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rewired-gh/momentumscan/internal/logger"
	"github.com/rewired-gh/momentumscan/internal/models"
)

// ErrNoContract is returned when a search yields no contract of the target type.
var ErrNoContract = errors.New("no matching contract")

// MoversSource returns the ranked gainers or losers list.
type MoversSource interface {
	Movers(ctx context.Context, category models.Category, expiryType string) ([]models.Mover, error)
}

// ContractSearcher looks up contracts by symbol prefix on one exchange.
type ContractSearcher interface {
	SearchContracts(ctx context.Context, exchange models.Exchange, query string) ([]models.ScripMatch, error)
}

// Config controls what a refresh resolves.
type Config struct {
	Target     models.InstrumentType
	TopN       int
	ExpiryType string
}

// Resolver resolves movers into at most one TrackedContract each.
type Resolver struct {
	movers MoversSource
	search ContractSearcher
	config Config
}

// NewResolver creates a resolver.
func NewResolver(movers MoversSource, search ContractSearcher, config Config) *Resolver {
	if config.TopN <= 0 {
		config.TopN = 3
	}
	config.ExpiryType = strings.ToUpper(strings.TrimSpace(config.ExpiryType))
	if config.ExpiryType == "" {
		config.ExpiryType = "NEAR"
	}
	return &Resolver{movers: movers, search: search, config: config}
}

// RootSymbol truncates a trading symbol at its first ASCII digit, so
// "TATASTEEL25NOV25FUT" becomes "TATASTEEL". Symbols without digits are returned whole.
func RootSymbol(tradingSymbol string) string {
	if i := strings.IndexAny(tradingSymbol, "0123456789"); i >= 0 {
		return tradingSymbol[:i]
	}
	return tradingSymbol
}

// Refresh queries gainers then losers and resolves the top N of each. Gainer
// contracts precede loser contracts in the result. It fails only when both movers
// queries fail.
func (r *Resolver) Refresh(ctx context.Context) ([]models.TrackedContract, error) {
	var contracts []models.TrackedContract
	var errs []error

	for _, category := range []models.Category{models.Gainer, models.Loser} {
		movers, err := r.movers.Movers(ctx, category, r.config.ExpiryType)
		if err != nil {
			logger.Warn("Failed to fetch %s movers: %v", category, err)
			errs = append(errs, fmt.Errorf("%s movers: %w", category, err))
			continue
		}
		if len(movers) > r.config.TopN {
			movers = movers[:r.config.TopN]
		}
		contracts = append(contracts, r.Resolve(ctx, category, movers)...)
	}

	if len(errs) == 2 {
		return nil, errors.Join(errs...)
	}
	return contracts, nil
}

// Resolve maps each mover to a contract of the configured type. Movers that fail
// resolution are logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, category models.Category, movers []models.Mover) []models.TrackedContract {
	out := make([]models.TrackedContract, 0, len(movers))
	for _, mover := range movers {
		contract, err := r.resolveOne(ctx, category, mover)
		if err != nil {
			logger.Warn("Skipping %s mover %s: %v", category, mover.TradingSymbol, err)
			continue
		}
		out = append(out, contract)
	}
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, category models.Category, mover models.Mover) (models.TrackedContract, error) {
	root := RootSymbol(mover.TradingSymbol)
	if root == "" {
		return models.TrackedContract{}, fmt.Errorf("no root symbol in %q", mover.TradingSymbol)
	}

	exchange := r.config.Target.Exchange()
	matches, err := r.search.SearchContracts(ctx, exchange, root)
	if err != nil {
		return models.TrackedContract{}, fmt.Errorf("search %s on %s: %w", root, exchange, err)
	}

	match, ok := selectContract(r.config.Target, root, matches)
	if !ok {
		return models.TrackedContract{}, fmt.Errorf("%s %s: %w", root, r.config.Target, ErrNoContract)
	}

	contract := models.TrackedContract{
		Token:          match.Token,
		TradingSymbol:  match.TradingSymbol,
		RootSymbol:     root,
		Exchange:       exchange,
		InstrumentType: r.config.Target,
		Category:       category,
		Expiry:         match.Expiry,
	}
	if err := contract.Validate(); err != nil {
		return models.TrackedContract{}, fmt.Errorf("invalid contract for %s: %w", root, err)
	}
	return contract, nil
}

// selectContract picks the nearest-expiry future or call, or the equity whose
// symbol starts with root. Ties on expiry keep the search response order.
func selectContract(target models.InstrumentType, root string, matches []models.ScripMatch) (models.ScripMatch, bool) {
	var candidates []models.ScripMatch
	for _, m := range matches {
		if m.Token == "" || m.TradingSymbol == "" {
			continue
		}
		switch target {
		case models.Equity:
			if m.InstrumentType == "EQ" && strings.HasPrefix(m.TradingSymbol, root) {
				return m, true
			}
		case models.Future:
			if m.InstrumentType == "FUTSTK" || m.InstrumentType == "FUTIDX" {
				candidates = append(candidates, m)
			}
		case models.CallOption:
			if (m.InstrumentType == "OPTSTK" || m.InstrumentType == "OPTIDX") && m.OptionType == "CE" {
				candidates = append(candidates, m)
			}
		}
	}
	if len(candidates) == 0 {
		return models.ScripMatch{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return expiresBefore(candidates[i], candidates[j])
	})
	return candidates[0], true
}

// expiresBefore orders by expiry, with unknown expiries last.
func expiresBefore(a, b models.ScripMatch) bool {
	if a.Expiry.IsZero() {
		return false
	}
	if b.Expiry.IsZero() {
		return true
	}
	return a.Expiry.Before(b.Expiry)
}
