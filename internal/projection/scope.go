package projection

import (
	"fmt"
	"time"

	"chainquery/internal/cache"
	"chainquery/internal/denorm"
)

// Scope carries the request-level state extractors read from: the
// denormalization resolver, aliases warmed for this request, follow-up batch
// results and the quote symbols the caller asked for.
type Scope struct {
	resolver *denorm.Resolver
	aliases  map[int64]cache.Alias
	loaded   map[string]map[int64]any
	symbols  []string
}

// NewScope creates a scope. symbols selects which quotes Quote fields render.
func NewScope(resolver *denorm.Resolver, symbols []string) *Scope {
	return &Scope{
		resolver: resolver,
		loaded:   map[string]map[int64]any{},
		symbols:  symbols,
	}
}

// Warm records aliases prefetched for this request.
func (s *Scope) Warm(aliases map[int64]cache.Alias) {
	if s.aliases == nil {
		s.aliases = make(map[int64]cache.Alias, len(aliases))
	}
	for id, a := range aliases {
		s.aliases[id] = a
	}
}

// Alias resolves an account id, preferring aliases warmed for this request.
func (s *Scope) Alias(id int64) (cache.Alias, error) {
	if a, ok := s.aliases[id]; ok {
		return a, nil
	}
	if s.resolver == nil {
		return cache.Alias{}, fmt.Errorf("%w: %d", denorm.ErrAccountNotCached, id)
	}
	return s.resolver.Alias(id)
}

// Timestamp resolves a level to its block time.
func (s *Scope) Timestamp(level int64) (time.Time, error) {
	if s.resolver == nil {
		return time.Time{}, fmt.Errorf("%w: %d", denorm.ErrLevelNotIndexed, level)
	}
	return s.resolver.Timestamp(level)
}

// Quotes returns the requested symbols' prices at level, or nil when no
// symbols were requested. Missing prices are omitted.
func (s *Scope) Quotes(level int64) map[string]float64 {
	if len(s.symbols) == 0 || s.resolver == nil {
		return nil
	}
	out := make(map[string]float64, len(s.symbols))
	for _, sym := range s.symbols {
		if price, ok := s.resolver.Quote(sym, level); ok {
			out[sym] = price
		}
	}
	return out
}

// SetLoaded stores a follow-up loader's results.
func (s *Scope) SetLoaded(loader string, values map[int64]any) {
	s.loaded[loader] = values
}

// Loaded returns the follow-up value loaded for key.
func (s *Scope) Loaded(loader string, key int64) (any, bool) {
	v, ok := s.loaded[loader][key]
	return v, ok
}
