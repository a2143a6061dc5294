// Package textindex is an in-memory inverted index with tf-idf ranking.
//
// Documents and terms live in separate sharded tables. Every posting carries
// the version of the document it was produced from, and a reader only counts
// postings whose version matches the document's visible version. Re-indexing
// writes the new postings first, then flips the visible version, then removes
// the old postings, so readers see either the old or the new document.
package textindex

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// ShardCount is the number of shards in each table.
const ShardCount = 32

// Posting is the contribution of one document version to one term.
type Posting struct {
	Term      string `json:"term"`
	ID        string `json:"id"`
	Version   int64  `json:"version"`
	Positions []int  `json:"positions"`
}

type posting struct {
	version   int64
	positions []int
}

type doc struct {
	version int64
	length  int
	hash    uint64
	terms   []string
	deleted bool
}

type docShard struct {
	// write serializes writers for ids in this shard across the whole
	// post, flip and cleanup sequence. Readers only take mu.
	write sync.Mutex
	mu    sync.RWMutex
	docs  map[string]*doc
}

type termShard struct {
	mu    sync.RWMutex
	terms map[string]map[string][]posting
}

// Index is the text index.
type Index struct {
	docShards  [ShardCount]*docShard
	termShards [ShardCount]*termShard
	analyzer   *Analyzer
	logger     *slog.Logger

	// gen is bumped whenever a document's visible version changes.
	gen  atomic.Uint64
	live atomic.Int64
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for index events.
func WithLogger(l *slog.Logger) Option {
	return func(x *Index) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithAnalyzer replaces the default analyzer.
func WithAnalyzer(a *Analyzer) Option {
	return func(x *Index) {
		if a != nil {
			x.analyzer = a
		}
	}
}

// New creates an empty index.
func New(opts ...Option) *Index {
	x := &Index{analyzer: NewAnalyzer(), logger: slog.Default()}
	for i := range ShardCount {
		x.docShards[i] = &docShard{docs: make(map[string]*doc)}
		x.termShards[i] = &termShard{terms: make(map[string]map[string][]posting)}
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Analyzer returns the analyzer used for documents and queries.
func (x *Index) Analyzer() *Analyzer {
	return x.analyzer
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func contentHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func (x *Index) docShard(id string) *docShard {
	return x.docShards[hashString(id)%ShardCount]
}

func (x *Index) termShard(term string) *termShard {
	return x.termShards[hashString(term)%ShardCount]
}

// lookup returns the visible (non-deleted) document for id.
func (x *Index) lookup(id string) (doc, bool) {
	ds := x.docShard(id)
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	d, ok := ds.docs[id]
	if !ok || d.deleted {
		return doc{}, false
	}
	return *d, true
}

// Index replaces the postings of id with those of content at version.
// A version at or below the applied one returns StaleVersion; replaying the
// applied version with the same content is a no-op.
func (x *Index) Index(id string, version int64, content string) error {
	toks := x.analyzer.Tokenize(content)
	positions := make(map[string][]int)
	for _, t := range toks {
		positions[t.Term] = append(positions[t.Term], t.Position)
	}
	hash := contentHash(content)

	ds := x.docShard(id)
	ds.write.Lock()
	defer ds.write.Unlock()

	ds.mu.RLock()
	cur, exists := ds.docs[id]
	var prev doc
	if exists {
		prev = *cur
	}
	ds.mu.RUnlock()

	if exists && prev.version >= version {
		if prev.version == version && !prev.deleted && prev.hash == hash {
			return nil
		}
		return ngerrors.StaleVersion(id, version, prev.version)
	}

	terms := make([]string, 0, len(positions))
	for term, pos := range positions {
		x.addPosting(term, id, posting{version: version, positions: pos})
		terms = append(terms, term)
	}
	sort.Strings(terms)

	ds.mu.Lock()
	ds.docs[id] = &doc{version: version, length: len(toks), hash: hash, terms: terms}
	ds.mu.Unlock()
	x.gen.Add(1)

	wasLive := exists && !prev.deleted
	if wasLive {
		for _, term := range prev.terms {
			x.removePosting(term, id, prev.version)
		}
	} else {
		x.live.Add(1)
	}

	x.logger.Debug("text_indexed",
		slog.String("page_id", id),
		slog.Int64("version", version),
		slog.Int("tokens", len(toks)),
		slog.Int("terms", len(terms)))
	return nil
}

// Delete removes all postings for id and records version as its tombstone.
// Deleting an absent id is not an error. version <= 0 deletes unconditionally
// without recording a tombstone.
func (x *Index) Delete(id string, version int64) error {
	ds := x.docShard(id)
	ds.write.Lock()
	defer ds.write.Unlock()

	ds.mu.RLock()
	cur, exists := ds.docs[id]
	var prev doc
	if exists {
		prev = *cur
	}
	ds.mu.RUnlock()

	if version > 0 && exists && prev.version >= version {
		if prev.deleted {
			return nil
		}
		return ngerrors.StaleVersion(id, version, prev.version)
	}

	ds.mu.Lock()
	if version > 0 {
		ds.docs[id] = &doc{version: version, deleted: true}
	} else {
		delete(ds.docs, id)
	}
	ds.mu.Unlock()

	if exists && !prev.deleted {
		x.gen.Add(1)
		x.live.Add(-1)
		for _, term := range prev.terms {
			x.removePosting(term, id, prev.version)
		}
		x.logger.Debug("text_deleted",
			slog.String("page_id", id),
			slog.Int64("version", prev.version))
	}
	return nil
}

// Purge removes id entirely, including any tombstone.
func (x *Index) Purge(id string) {
	_ = x.Delete(id, 0)
}

func (x *Index) addPosting(term, id string, p posting) {
	ts := x.termShard(term)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	byID, ok := ts.terms[term]
	if !ok {
		byID = make(map[string][]posting)
		ts.terms[term] = byID
	}
	byID[id] = append(byID[id], p)
}

func (x *Index) removePosting(term, id string, version int64) {
	ts := x.termShard(term)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	byID, ok := ts.terms[term]
	if !ok {
		return
	}
	ps := byID[id]
	kept := ps[:0]
	for _, p := range ps {
		if p.version != version {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(byID, id)
		if len(byID) == 0 {
			delete(ts.terms, term)
		}
		return
	}
	byID[id] = kept
}

// postings copies the posting lists of term.
func (x *Index) postings(term string) map[string][]posting {
	ts := x.termShard(term)
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	byID := ts.terms[term]
	if len(byID) == 0 {
		return nil
	}
	out := make(map[string][]posting, len(byID))
	for id, ps := range byID {
		out[id] = append([]posting(nil), ps...)
	}
	return out
}

// Postings returns the visible postings for a single analyzed term, sorted by id.
func (x *Index) Postings(term string) []Posting {
	var out []Posting
	for id, ps := range x.postings(term) {
		d, ok := x.lookup(id)
		if !ok {
			continue
		}
		for _, p := range ps {
			if p.version == d.version {
				out = append(out, Posting{Term: term, ID: id, Version: p.version, Positions: p.positions})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Version returns the visible version of id, or 0 if it is not indexed.
func (x *Index) Version(id string) int64 {
	d, ok := x.lookup(id)
	if !ok {
		return 0
	}
	return d.version
}

// Versions returns the visible version of every indexed document.
func (x *Index) Versions() map[string]int64 {
	out := make(map[string]int64)
	for _, ds := range x.docShards {
		ds.mu.RLock()
		for id, d := range ds.docs {
			if !d.deleted {
				out[id] = d.version
			}
		}
		ds.mu.RUnlock()
	}
	return out
}

// Terms returns the distinct terms indexed for id, sorted.
func (x *Index) Terms(id string) []string {
	d, ok := x.lookup(id)
	if !ok {
		return nil
	}
	return append([]string(nil), d.terms...)
}

// Stats summarizes the index.
type Stats struct {
	Documents int `json:"documents"`
	Terms     int `json:"terms"`
	Postings  int `json:"postings"`
}

// Stats counts visible documents, distinct terms and stored postings.
// Postings may briefly include superseded versions during a re-index.
func (x *Index) Stats() Stats {
	st := Stats{Documents: int(x.live.Load())}
	for _, ts := range x.termShards {
		ts.mu.RLock()
		st.Terms += len(ts.terms)
		for _, byID := range ts.terms {
			for _, ps := range byID {
				st.Postings += len(ps)
			}
		}
		ts.mu.RUnlock()
	}
	return st
}
