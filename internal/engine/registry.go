package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chainquery/internal/filter"
)

// ErrUnknownEntity is returned when no repository is registered under a name.
var ErrUnknownEntity = errors.New("unknown entity")

// Queryable is the type-erased view of a Repository used by transports.
type Queryable interface {
	Name() string
	Fields() []string
	FilterColumns() filter.Columns
	Objects(ctx context.Context, req Request) (any, error)
	GetFields(ctx context.Context, req Request, fields []string) ([][]any, error)
	GetField(ctx context.Context, req Request, field string) ([]any, error)
	Count(ctx context.Context, set filter.Set) (int, error)
}

// Objects returns Get's result as an untyped value.
func (r *Repository[T]) Objects(ctx context.Context, req Request) (any, error) {
	out, err := r.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Registry holds the repositories served by name.
type Registry struct {
	mu    sync.RWMutex
	repos map[string]Queryable
}

// NewRegistry creates a registry holding repos.
func NewRegistry(repos ...Queryable) *Registry {
	r := &Registry{repos: make(map[string]Queryable, len(repos))}
	for _, repo := range repos {
		r.Register(repo)
	}
	return r
}

// Register adds or replaces a repository.
func (r *Registry) Register(q Queryable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[q.Name()] = q
}

// Lookup returns the repository registered as name.
func (r *Registry) Lookup(name string) (Queryable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.repos[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return q, nil
}

// Names lists registered entity names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.repos))
	for name := range r.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
