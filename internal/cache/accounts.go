// Package cache holds the in-memory lookup tables consulted while rendering
// query results: account aliases, level timestamps and level quotes.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"chainquery/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultAccountCapacity bounds the alias cache when no capacity is configured.
const DefaultAccountCapacity = 100_000

// Alias is the display descriptor of an account.
type Alias struct {
	Name    string `json:"alias,omitempty"`
	Address string `json:"address"`
}

// AccountStore loads aliases the cache has not seen yet.
type AccountStore interface {
	LoadAccounts(ctx context.Context, ids []int64) (map[int64]Alias, error)
	AccountByAddress(ctx context.Context, address string) (int64, Alias, bool, error)
}

// Accounts is a bounded LRU of account aliases keyed by account id.
type Accounts struct {
	byID    *lru.Cache[int64, Alias]
	byAddr  *lru.Cache[string, int64]
	store   AccountStore
	hits    atomic.Int64
	misses  atomic.Int64
	metrics *observability.CacheMetrics
}

// NewAccounts creates an account cache. A nil store makes the cache
// read-only: misses stay misses.
func NewAccounts(capacity int, store AccountStore) (*Accounts, error) {
	if capacity <= 0 {
		capacity = DefaultAccountCapacity
	}
	byID, err := lru.New[int64, Alias](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create account cache: %w", err)
	}
	byAddr, err := lru.New[string, int64](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create address cache: %w", err)
	}
	return &Accounts{byID: byID, byAddr: byAddr, store: store}, nil
}

// SetMetrics attaches hit/miss counters.
func (a *Accounts) SetMetrics(m *observability.CacheMetrics) {
	a.metrics = m
}

// Get returns the cached alias without touching the store.
func (a *Accounts) Get(id int64) (Alias, bool) {
	alias, ok := a.byID.Get(id)
	if ok {
		a.hits.Add(1)
	} else {
		a.misses.Add(1)
	}
	a.metrics.RecordLookup(context.Background(), "accounts", ok)
	return alias, ok
}

// Add stores an alias, replacing any previous entry for the id.
func (a *Accounts) Add(id int64, alias Alias) {
	a.byID.Add(id, alias)
	if alias.Address != "" {
		a.byAddr.Add(alias.Address, id)
	}
}

// Len reports the number of cached aliases.
func (a *Accounts) Len() int {
	return a.byID.Len()
}

// Stats returns lifetime hit and miss counts.
func (a *Accounts) Stats() (hits, misses int64) {
	return a.hits.Load(), a.misses.Load()
}

// Load returns aliases for every id, reading the ones not cached from the
// store in one batch and caching them. Ids the store does not know are absent
// from the result.
func (a *Accounts) Load(ctx context.Context, ids []int64) (map[int64]Alias, error) {
	out := make(map[int64]Alias, len(ids))
	var missing []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if alias, ok := a.byID.Get(id); ok {
			out[id] = alias
			continue
		}
		missing = append(missing, id)
	}
	a.metrics.RecordPrefetch(ctx, len(seen), len(missing))
	if len(missing) == 0 || a.store == nil {
		return out, nil
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	loaded, err := a.store.LoadAccounts(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to load %d accounts: %w", len(missing), err)
	}
	for id, alias := range loaded {
		a.Add(id, alias)
		out[id] = alias
	}
	return out, nil
}

// IDByAddress maps an address to its account id, consulting the store on a miss.
func (a *Accounts) IDByAddress(ctx context.Context, address string) (int64, bool, error) {
	if id, ok := a.byAddr.Get(address); ok {
		return id, true, nil
	}
	if a.store == nil {
		return 0, false, nil
	}
	id, alias, ok, err := a.store.AccountByAddress(ctx, address)
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve address %s: %w", address, err)
	}
	if !ok {
		return 0, false, nil
	}
	a.Add(id, alias)
	return id, true, nil
}
