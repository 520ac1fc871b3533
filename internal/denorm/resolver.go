// Package denorm resolves foreign keys found in query rows into display values
// using the shared in-memory caches. The caches are expected to be
// snapshot-consistent with the store: a key the cache has never seen is a
// defect and is reported as an error instead of being papered over.
package denorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainquery/internal/cache"
)

var (
	// ErrAccountNotCached reports an account id missing from the alias cache.
	ErrAccountNotCached = errors.New("account not cached")
	// ErrLevelNotIndexed reports a level beyond the level index head.
	ErrLevelNotIndexed = errors.New("level not indexed")
)

// Resolver turns account ids and levels into aliases, timestamps and quotes.
type Resolver struct {
	accounts *cache.Accounts
	times    *cache.Times
	quotes   *cache.Quotes
}

// New builds a resolver over the given caches. Any of them may be nil, in
// which case lookups against it fail with the corresponding sentinel.
func New(accounts *cache.Accounts, times *cache.Times, quotes *cache.Quotes) *Resolver {
	return &Resolver{accounts: accounts, times: times, quotes: quotes}
}

// Alias returns the cached alias of an account without blocking on the store.
func (r *Resolver) Alias(id int64) (cache.Alias, error) {
	if r.accounts != nil {
		if alias, ok := r.accounts.Get(id); ok {
			return alias, nil
		}
	}
	return cache.Alias{}, fmt.Errorf("%w: %d", ErrAccountNotCached, id)
}

// AliasAsync returns the alias of an account, loading it on a cache miss.
func (r *Resolver) AliasAsync(ctx context.Context, id int64) (cache.Alias, error) {
	aliases, err := r.Prefetch(ctx, []int64{id})
	if err != nil {
		return cache.Alias{}, err
	}
	alias, ok := aliases[id]
	if !ok {
		return cache.Alias{}, fmt.Errorf("%w: %d", ErrAccountNotCached, id)
	}
	return alias, nil
}

// Prefetch warms the alias cache for ids in one round trip and returns the
// aliases it resolved. Callers keep the returned map for the rest of the
// request so that cache eviction cannot turn a warmed id into a miss.
func (r *Resolver) Prefetch(ctx context.Context, ids []int64) (map[int64]cache.Alias, error) {
	if len(ids) == 0 || r.accounts == nil {
		return map[int64]cache.Alias{}, nil
	}
	aliases, err := r.accounts.Load(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to prefetch account aliases: %w", err)
	}
	return aliases, nil
}

// Timestamp returns the timestamp of a level.
func (r *Resolver) Timestamp(level int64) (time.Time, error) {
	if r.times != nil {
		if ts, ok := r.times.At(level); ok {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %d", ErrLevelNotIndexed, level)
}

// Quote returns the price of symbol at level. Quotes are optional data:
// a missing quote is reported with ok=false, not an error.
func (r *Resolver) Quote(symbol string, level int64) (float64, bool) {
	if r.quotes == nil {
		return 0, false
	}
	return r.quotes.Get(symbol, level)
}

// AccountID resolves an address to an account id for filter inputs.
func (r *Resolver) AccountID(ctx context.Context, address string) (int64, bool, error) {
	if r.accounts == nil {
		return 0, false, nil
	}
	return r.accounts.IDByAddress(ctx, address)
}
