package textindex

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

func ids(hits []Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.ID)
	}
	return out
}

func TestAnalyzer_Tokenize(t *testing.T) {
	a := NewAnalyzer()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"case folded", "Hello WORLD", []string{"hello", "world"}},
		{"punctuation stripped", "alpha, beta! (gamma)", []string{"alpha", "beta", "gamma"}},
		{"brackets", "see [[Page Two]]", []string{"see", "page", "two"}},
		{"unicode", "Café crème", []string{"café", "crème"}},
		{"numbers", "version 42", []string{"version", "42"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, tok := range a.Tokenize(tt.text) {
				got = append(got, tok.Term)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnalyzer_PositionsAndTerms(t *testing.T) {
	a := NewAnalyzer()
	toks := a.Tokenize("one two one")
	require.Len(t, toks, 3)
	assert.Equal(t, 1, toks[0].Position)
	assert.Equal(t, 3, toks[2].Position)

	assert.Equal(t, []string{"one", "two"}, a.Terms("one two one"))
}

// TS01: AND semantics across query terms
func TestIndex_Search_AND(t *testing.T) {
	// Given: three documents with overlapping vocabulary
	x := New()
	require.NoError(t, x.Index("A", 1, "alpha beta"))
	require.NoError(t, x.Index("B", 1, "alpha gamma"))
	require.NoError(t, x.Index("C", 1, "beta alpha delta"))
	ctx := context.Background()

	// When: searching for two terms
	res, err := x.Search(ctx, "alpha beta", 10)
	require.NoError(t, err)

	// Then: only documents with both terms match
	assert.ElementsMatch(t, []string{"A", "C"}, ids(res.Hits))

	// And: a term absent from the vocabulary yields nothing
	res, err = x.Search(ctx, "alpha nonexistentterm", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	res, err = x.Search(ctx, "nonexistentterm", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestIndex_Search_EmptyQuery(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("A", 1, "alpha"))

	for _, q := range []string{"", "   ", "!!! ,,,"} {
		res, err := x.Search(context.Background(), q, 10)
		require.NoError(t, err)
		assert.Empty(t, res.Hits, "query %q", q)
	}
}

// TS02: tf-idf scoring and tie-breaking
func TestIndex_Search_Scoring(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("A", 1, "hello world"))
	require.NoError(t, x.Index("B", 1, "hello hello hello there"))
	require.NoError(t, x.Index("C", 1, "goodbye"))

	res, err := x.Search(context.Background(), "hello", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)

	// N=3, df=2: idf = ln(1 + 3/2)
	idf := math.Log(1 + 3.0/2.0)
	assert.Equal(t, "B", res.Hits[0].ID)
	assert.InDelta(t, 0.75*idf, res.Hits[0].Score, 1e-9)
	assert.Equal(t, "A", res.Hits[1].ID)
	assert.InDelta(t, 0.5*idf, res.Hits[1].Score, 1e-9)
	assert.Equal(t, 2, res.Total)
}

func TestIndex_Search_TiesByVersionThenID(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("b", 1, "same text"))
	require.NoError(t, x.Index("a", 1, "same text"))
	require.NoError(t, x.Index("c", 5, "same text"))

	res, err := x.Search(context.Background(), "same", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(res.Hits))
}

func TestIndex_Search_Limit(t *testing.T) {
	x := New()
	for i := range 10 {
		require.NoError(t, x.Index(fmt.Sprintf("d%d", i), 1, "common word"))
	}

	res, err := x.Search(context.Background(), "common", 3)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 3)
	assert.Equal(t, 10, res.Total)

	res, err = x.Search(context.Background(), "common", 0)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 10)
}

// TS03: Re-index replaces the whole contribution
func TestIndex_Reindex(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("A", 1, "old words"))
	require.NoError(t, x.Index("A", 2, "new words"))

	res, err := x.Search(context.Background(), "old", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	res, err = x.Search(context.Background(), "new words", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, int64(2), res.Hits[0].Version)

	// Superseded postings are gone
	assert.Equal(t, Stats{Documents: 1, Terms: 2, Postings: 2}, x.Stats())
	assert.Equal(t, []string{"new", "words"}, x.Terms("A"))
}

// TS04: Idempotence and last-writer-wins
func TestIndex_Versioning(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("A", 2, "current"))
	before := x.Stats()

	// Replaying the same update is a no-op
	assert.NoError(t, x.Index("A", 2, "current"))
	assert.Equal(t, before, x.Stats())

	// Older or conflicting updates are stale
	assert.ErrorIs(t, x.Index("A", 1, "older"), ngerrors.ErrStaleVersion)
	assert.ErrorIs(t, x.Index("A", 2, "different"), ngerrors.ErrStaleVersion)

	res, err := x.Search(context.Background(), "older", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, int64(2), x.Version("A"))
}

// TS05: Delete removes all postings and is idempotent
func TestIndex_Delete(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("A", 1, "hello world"))
	require.NoError(t, x.Index("B", 1, "hello"))

	require.NoError(t, x.Delete("A", 2))
	require.NoError(t, x.Delete("A", 2))
	require.NoError(t, x.Delete("missing", 1))

	res, err := x.Search(context.Background(), "hello", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, ids(res.Hits))
	assert.Empty(t, x.Postings("world"))
	assert.Equal(t, int64(0), x.Version("A"))
	assert.Equal(t, map[string]int64{"B": 1}, x.Versions())

	// A late update for the deleted version stays rejected
	assert.ErrorIs(t, x.Index("A", 1, "hello"), ngerrors.ErrStaleVersion)

	// Re-creation with a newer version is accepted
	require.NoError(t, x.Index("A", 3, "hello again"))
	res, err = x.Search(context.Background(), "again", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(res.Hits))
}

func TestIndex_Delete_StaleAgainstNewerDocument(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("A", 5, "keep me"))

	assert.ErrorIs(t, x.Delete("A", 3), ngerrors.ErrStaleVersion)
	assert.Equal(t, int64(5), x.Version("A"))
}

func TestIndex_Purge(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("A", 7, "text"))
	x.Purge("A")

	assert.Equal(t, int64(0), x.Version("A"))
	assert.NoError(t, x.Index("A", 1, "text"))
}

func TestIndex_Postings(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("A", 1, "one two one"))

	ps := x.Postings("one")
	require.Len(t, ps, 1)
	assert.Equal(t, Posting{Term: "one", ID: "A", Version: 1, Positions: []int{1, 3}}, ps[0])
}

func TestIndex_Search_Deadline(t *testing.T) {
	x := New()
	for i := range 2000 {
		require.NoError(t, x.Index(fmt.Sprintf("d%04d", i), 1, "shared token"))
	}
	require.NoError(t, x.Index("extra", 1, "shared words only"))

	full := func(query string) map[string]float64 {
		res, err := x.Search(context.Background(), query, 0)
		require.NoError(t, err)
		require.False(t, res.Truncated)
		scores := make(map[string]float64, len(res.Hits))
		for _, h := range res.Hits {
			scores[h.ID] = h.Score
		}
		return scores
	}

	tests := []struct {
		name  string
		query string
	}{
		{"single term", "shared"},
		{"two terms", "shared token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := full(tt.query)

			// Given: a context that has already ended
			ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
			defer cancel()
			<-ctx.Done()

			// When: searching
			res, err := x.Search(ctx, tt.query, 0)
			require.NoError(t, err)

			// Then: partial hits carry the same scores as a full search
			assert.True(t, res.Truncated)
			require.NotEmpty(t, res.Hits)
			assert.Less(t, len(res.Hits), len(want))
			for _, h := range res.Hits {
				assert.InDelta(t, want[h.ID], h.Score, 1e-12, h.ID)
			}
		})
	}
}

// TS06: Readers never see a mix of two versions of one document
func TestIndex_ConcurrentReindexAndSearch(t *testing.T) {
	x := New()
	require.NoError(t, x.Index("A", 1, "alpha beta"))

	ctx := context.Background()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := int64(2); v <= 200; v++ {
			content := "alpha beta"
			if v%2 == 0 {
				content = "beta alpha extra"
			}
			assert.NoError(t, x.Index("A", v, content))
		}
		close(stop)
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := x.Search(ctx, "alpha beta", 10)
				assert.NoError(t, err)
				for _, h := range res.Hits {
					assert.Equal(t, "A", h.ID)
					assert.Greater(t, h.Score, 0.0)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(200), x.Version("A"))
	assert.Equal(t, Stats{Documents: 1, Terms: 3, Postings: 3}, x.Stats())
}
