package textindex

import (
	"context"
	"math"
	"sort"
)

// checkEvery is how many candidates are scored between deadline checks.
const checkEvery = 256

// searchAttempts bounds retries when a re-index flips a document mid-search.
const searchAttempts = 3

// Hit is one ranked result.
type Hit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Version int64   `json:"version"`
}

// Results is the output of Search.
type Results struct {
	Hits []Hit `json:"hits"`
	// Total is the number of matches before the limit was applied.
	Total int `json:"total"`
	// Truncated is set when the context ended before all postings were read.
	Truncated bool `json:"truncated"`
}

// Search returns documents containing every query term, ranked by
//
//	score(d) = Σ tf(t,d) · idf(t),  tf = count(t,d)/len(d),  idf = ln(1 + N/df(t))
//
// Ties are broken by higher version, then by id. An empty query or a query
// with any unknown term yields no hits. limit <= 0 means no limit. When ctx
// ends while candidates are being scored, the hits scored so far are ranked
// and Truncated is set; each of them carries its full score.
func (x *Index) Search(ctx context.Context, query string, limit int) (Results, error) {
	terms := x.analyzer.Terms(query)
	if len(terms) == 0 {
		return Results{}, nil
	}

	var res Results
	for attempt := 1; attempt <= searchAttempts; attempt++ {
		gen := x.gen.Load()
		res = x.search(ctx, terms)
		if res.Truncated || x.gen.Load() == gen {
			break
		}
	}

	res.Total = len(res.Hits)
	sortHits(res.Hits)
	if limit > 0 && len(res.Hits) > limit {
		res.Hits = res.Hits[:limit]
	}
	return res, nil
}

func (x *Index) search(ctx context.Context, terms []string) Results {
	var res Results

	lists := make([]map[string][]posting, len(terms))
	for i, term := range terms {
		lists[i] = x.postings(term)
		if len(lists[i]) == 0 {
			return res
		}
	}

	// The rarest term's matches are the candidates.
	first := 0
	for i := range lists {
		if len(lists[i]) < len(lists[first]) {
			first = i
		}
	}

	docs := make(map[string]doc)
	visible := func(id string) (doc, bool) {
		if d, ok := docs[id]; ok {
			return d, !d.deleted
		}
		d, ok := x.lookup(id)
		if !ok {
			d = doc{deleted: true}
		}
		docs[id] = d
		return d, ok
	}

	// Document frequencies are counted in full so every returned score is
	// the one an uninterrupted search would give.
	counts := make([]map[string]int, len(terms))
	df := make([]int, len(terms))
	for i := range terms {
		counts[i] = make(map[string]int, len(lists[i]))
		for id, ps := range lists[i] {
			d, ok := visible(id)
			if !ok {
				continue
			}
			for _, p := range ps {
				if p.version == d.version {
					counts[i][id] = len(p.positions)
					df[i]++
					break
				}
			}
		}
	}

	n := float64(x.live.Load())
	processed := 0
	for id, c := range counts[first] {
		processed++
		if processed%checkEvery == 0 && ctx.Err() != nil {
			res.Truncated = true
			break
		}
		d := docs[id]
		if d.length == 0 {
			continue
		}
		score := 0.0
		matched := true
		for i := range terms {
			ci := c
			if i != first {
				var ok bool
				if ci, ok = counts[i][id]; !ok {
					matched = false
					break
				}
			}
			tf := float64(ci) / float64(d.length)
			idf := math.Log(1 + n/float64(max(df[i], 1)))
			score += tf * idf
		}
		if matched {
			res.Hits = append(res.Hits, Hit{ID: id, Score: score, Version: d.version})
		}
	}
	return res
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Version != hits[j].Version {
			return hits[i].Version > hits[j].Version
		}
		return hits[i].ID < hits[j].ID
	})
}
