package verse

import (
	"context"
	"errors"
	"testing"

	"devotionai/pkg/domain"
)

type usedSet map[domain.VerseKey]struct{}

func (u usedSet) ListUsedVerseKeys(context.Context) (map[domain.VerseKey]struct{}, error) {
	out := make(map[domain.VerseKey]struct{}, len(u))
	for k := range u {
		out[k] = struct{}{}
	}
	return out, nil
}

func TestDefaultPoolSize(t *testing.T) {
	p := DefaultPool()
	if p.Len() != 31102 {
		t.Fatalf("pool size = %d, want 31102", p.Len())
	}
	if got := p.At(0).String(); got != "Genesis 1:1" {
		t.Fatalf("first verse = %q", got)
	}
	if got := p.At(p.Len() - 1).String(); got != "Revelation 22:21" {
		t.Fatalf("last verse = %q", got)
	}
	if len(canon) != 66 {
		t.Fatalf("books = %d, want 66", len(canon))
	}
}

func TestDefaultPoolHasNoDuplicates(t *testing.T) {
	p := DefaultPool()
	seen := make(map[domain.VerseKey]struct{}, p.Len())
	for i := 0; i < p.Len(); i++ {
		key := p.At(i).Key()
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate verse %v", key)
		}
		seen[key] = struct{}{}
	}
}

func TestSelectUnusedSkipsUsedVerses(t *testing.T) {
	pool := buildPool([]book{{name: "Jude", chapters: []int{3}}})
	used := usedSet{
		{Book: "Jude", Chapter: 1, Verse: 1}: {},
		{Book: "Jude", Chapter: 1, Verse: 3}: {},
	}
	for i := 0; i < 20; i++ {
		s := NewSelector(used, WithPool(pool))
		ref, err := s.SelectUnused(context.Background())
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if ref.String() != "Jude 1:2" {
			t.Fatalf("selected %q, want Jude 1:2", ref)
		}
	}
}

func TestSelectUnusedUsesRandomIndexOverFreeVerses(t *testing.T) {
	pool := buildPool([]book{{name: "Obadiah", chapters: []int{5}}})
	used := usedSet{{Book: "Obadiah", Chapter: 1, Verse: 2}: {}}
	var gotN int
	s := NewSelector(used, WithPool(pool), WithIntn(func(n int) int {
		gotN = n
		return n - 1
	}))
	ref, err := s.SelectUnused(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if gotN != 4 {
		t.Fatalf("random range = %d, want 4", gotN)
	}
	if ref.Verse != 5 {
		t.Fatalf("selected %q, want Obadiah 1:5", ref)
	}
}

func TestSelectUnusedPoolExhausted(t *testing.T) {
	pool := buildPool([]book{{name: "Philemon", chapters: []int{2}}})
	used := usedSet{}
	s := NewSelector(used, WithPool(pool))
	for i := 0; i < 2; i++ {
		ref, err := s.SelectUnused(context.Background())
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		used[ref.Key()] = struct{}{}
	}
	if _, err := s.SelectUnused(context.Background()); !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("expected pool exhausted, got %v", err)
	}
	remaining, err := s.Remaining(context.Background())
	if err != nil || remaining != 0 {
		t.Fatalf("remaining = %d, err = %v", remaining, err)
	}
}

func TestSelectUnusedFullCanonExhaustion(t *testing.T) {
	used := usedSet{}
	p := DefaultPool()
	for i := 0; i < p.Len(); i++ {
		used[p.At(i).Key()] = struct{}{}
	}
	s := NewSelector(used)
	if _, err := s.SelectUnused(context.Background()); !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("expected pool exhausted, got %v", err)
	}
}

func TestParseReference(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "John 3:16", want: "John 3:16"},
		{in: "1 Corinthians 13:4", want: "1 Corinthians 13:4"},
		{in: "song of solomon 2:1", want: "Song of Solomon 2:1"},
		{in: "Psalms 119:176", want: "Psalms 119:176"},
		{in: "Psalms 119:177", wantErr: true},
		{in: "Jude 2:1", wantErr: true},
		{in: "Hezekiah 1:1", wantErr: true},
		{in: "John3:16", wantErr: true},
	}
	for _, tc := range cases {
		ref, err := ParseReference(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseReference(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseReference(%q): %v", tc.in, err)
		}
		if ref.String() != tc.want {
			t.Fatalf("ParseReference(%q) = %q, want %q", tc.in, ref, tc.want)
		}
	}
}
