package verse

import (
	"context"
	"fmt"
	"math/rand"

	"devotionai/pkg/domain"
)

// UsedVerseLister returns every verse already committed to a content item.
type UsedVerseLister interface {
	ListUsedVerseKeys(ctx context.Context) (map[domain.VerseKey]struct{}, error)
}

// Selector picks verses that have not been used yet. It never records usage;
// callers commit the UsedVerse row after the content item that consumes it.
type Selector struct {
	pool *Pool
	used UsedVerseLister
	intn func(n int) int
}

// Option customizes a Selector.
type Option func(*Selector)

// WithPool overrides the verse pool.
func WithPool(p *Pool) Option {
	return func(s *Selector) {
		s.pool = p
	}
}

// WithIntn overrides the random source; intn must return a value in [0, n).
func WithIntn(intn func(n int) int) Option {
	return func(s *Selector) {
		s.intn = intn
	}
}

// NewSelector builds a selector over the default pool.
func NewSelector(used UsedVerseLister, opts ...Option) *Selector {
	s := &Selector{
		pool: DefaultPool(),
		used: used,
		intn: rand.Intn,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SelectUnused returns a uniformly random verse absent from the used set.
func (s *Selector) SelectUnused(ctx context.Context) (Reference, error) {
	used, err := s.used.ListUsedVerseKeys(ctx)
	if err != nil {
		return Reference{}, fmt.Errorf("list used verses: %w", err)
	}
	free := make([]int, 0, s.pool.Len())
	for i, ref := range s.pool.refs {
		if _, taken := used[ref.Key()]; !taken {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return Reference{}, domain.ErrPoolExhausted
	}
	return s.pool.At(free[s.intn(len(free))]), nil
}

// Remaining returns how many verses are still available.
func (s *Selector) Remaining(ctx context.Context) (int, error) {
	used, err := s.used.ListUsedVerseKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list used verses: %w", err)
	}
	n := 0
	for _, ref := range s.pool.refs {
		if _, taken := used[ref.Key()]; !taken {
			n++
		}
	}
	return n, nil
}
