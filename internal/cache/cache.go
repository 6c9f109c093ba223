// Package cache holds the contract universe as immutable generations behind an
// atomic reference.
package cache

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/momentumscan/internal/models"
)

// Generation is one fully built universe. It is never mutated after Replace
// publishes it.
type Generation struct {
	id        uint64
	contracts map[string]models.TrackedContract
	builtAt   time.Time
}

// ID is the monotonically increasing generation number. The empty initial
// generation has ID 0.
func (g *Generation) ID() uint64 {
	return g.id
}

// BuiltAt is when the generation was published.
func (g *Generation) BuiltAt() time.Time {
	return g.builtAt
}

// Len returns the number of contracts.
func (g *Generation) Len() int {
	return len(g.contracts)
}

// Get looks up a contract by token.
func (g *Generation) Get(token string) (models.TrackedContract, bool) {
	c, ok := g.contracts[token]
	return c, ok
}

// Contracts returns a copy of all contracts sorted by exchange then token.
func (g *Generation) Contracts() []models.TrackedContract {
	out := make([]models.TrackedContract, 0, len(g.contracts))
	for _, c := range g.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// TokensByExchange groups tokens for a batched snapshot request.
func (g *Generation) TokensByExchange() map[models.Exchange][]string {
	out := make(map[models.Exchange][]string)
	for _, c := range g.Contracts() {
		out[c.Exchange] = append(out[c.Exchange], c.Token)
	}
	return out
}

// ContractCache is the only state shared between the refresh and data cycles.
type ContractCache struct {
	current atomic.Pointer[Generation]
	nextID  atomic.Uint64
	now     func() time.Time
}

// New creates a cache holding an empty generation.
func New() *ContractCache {
	c := &ContractCache{now: time.Now}
	c.current.Store(&Generation{contracts: map[string]models.TrackedContract{}})
	return c
}

// Replace builds a new generation from contracts and publishes it in one swap.
// When a token appears more than once, the later entry wins.
func (c *ContractCache) Replace(contracts []models.TrackedContract) *Generation {
	m := make(map[string]models.TrackedContract, len(contracts))
	for _, contract := range contracts {
		m[contract.Token] = contract
	}
	gen := &Generation{
		id:        c.nextID.Add(1),
		contracts: m,
		builtAt:   c.now(),
	}
	c.current.Store(gen)
	return gen
}

// Snapshot returns the current generation. Callers keep using it for the rest of
// their cycle regardless of later replacements.
func (c *ContractCache) Snapshot() *Generation {
	return c.current.Load()
}
