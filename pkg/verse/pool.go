package verse

import (
	"fmt"
	"strconv"
	"strings"

	"devotionai/pkg/domain"
)

type book struct {
	name     string
	chapters []int
}

// Reference is one verse in the pool.
type Reference struct {
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verse   int    `json:"verse"`
}

// String renders the reference as "Book chapter:verse".
func (r Reference) String() string {
	return fmt.Sprintf("%s %d:%d", r.Book, r.Chapter, r.Verse)
}

// Key returns the storage key of the reference.
func (r Reference) Key() domain.VerseKey {
	return domain.VerseKey{Book: r.Book, Chapter: r.Chapter, Verse: r.Verse}
}

// Pool is the immutable, fully enumerated verse list.
type Pool struct {
	refs []Reference
}

var defaultPool = buildPool(canon)

// DefaultPool returns the full canon pool.
func DefaultPool() *Pool {
	return defaultPool
}

// NewPool builds a pool over an explicit list, e.g. a themed subset.
func NewPool(refs []Reference) *Pool {
	return &Pool{refs: append([]Reference(nil), refs...)}
}

func buildPool(books []book) *Pool {
	total := 0
	for _, b := range books {
		for _, n := range b.chapters {
			total += n
		}
	}
	refs := make([]Reference, 0, total)
	for _, b := range books {
		for ch, n := range b.chapters {
			for v := 1; v <= n; v++ {
				refs = append(refs, Reference{Book: b.name, Chapter: ch + 1, Verse: v})
			}
		}
	}
	return &Pool{refs: refs}
}

// Len returns the number of verses in the pool.
func (p *Pool) Len() int {
	return len(p.refs)
}

// At returns the i-th reference in canonical order.
func (p *Pool) At(i int) Reference {
	return p.refs[i]
}

// ParseReference parses "Book chapter:verse" (book names may contain spaces).
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, " ")
	if idx <= 0 {
		return Reference{}, fmt.Errorf("invalid verse reference %q", s)
	}
	name := strings.TrimSpace(s[:idx])
	chapter, verse, ok := strings.Cut(s[idx+1:], ":")
	if !ok {
		return Reference{}, fmt.Errorf("invalid verse reference %q", s)
	}
	c, err := strconv.Atoi(chapter)
	if err != nil || c <= 0 {
		return Reference{}, fmt.Errorf("invalid chapter in %q", s)
	}
	v, err := strconv.Atoi(verse)
	if err != nil || v <= 0 {
		return Reference{}, fmt.Errorf("invalid verse in %q", s)
	}
	for _, b := range canon {
		if !strings.EqualFold(b.name, name) {
			continue
		}
		if c > len(b.chapters) || v > b.chapters[c-1] {
			return Reference{}, fmt.Errorf("verse reference %q out of range", s)
		}
		return Reference{Book: b.name, Chapter: c, Verse: v}, nil
	}
	return Reference{}, fmt.Errorf("unknown book in %q", s)
}
