// Package telemetry records query patterns for the local stats report.
// Nothing leaves the machine.
package telemetry

import (
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryKind classifies a read query.
type QueryKind string

const (
	KindSearch    QueryKind = "search"
	KindBacklinks QueryKind = "backlinks"
	KindTraverse  QueryKind = "traverse"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP1    LatencyBucket = "p1"    // <1ms
	BucketP10   LatencyBucket = "p10"   // 1-10ms
	BucketP100  LatencyBucket = "p100"  // 10-100ms
	BucketP1000 LatencyBucket = "p1000" // 100ms-1s
	BucketSlow  LatencyBucket = "slow"  // >=1s
)

// LatencyToBucket maps d to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < time.Millisecond:
		return BucketP1
	case d < 10*time.Millisecond:
		return BucketP10
	case d < 100*time.Millisecond:
		return BucketP100
	case d < time.Second:
		return BucketP1000
	default:
		return BucketSlow
	}
}

// QueryEvent is one completed query.
type QueryEvent struct {
	Kind      QueryKind
	Query     string
	Results   int
	Truncated bool
	Latency   time.Duration
	Timestamp time.Time
}

// ring is a fixed-capacity FIFO. Not safe for concurrent use.
type ring[T any] struct {
	items []T
	head  int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) add(item T) {
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// all returns the items oldest first.
func (r *ring[T]) all() []T {
	out := make([]T, 0, r.size)
	start := (r.head - r.size + len(r.items)) % len(r.items)
	for i := range r.size {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}

// ExtractTerms splits a query into lowercased terms of at least three bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it was queried.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the in-memory aggregates.
type Snapshot struct {
	Kinds             map[QueryKind]int64     `json:"kinds"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []string                `json:"zero_result_queries"`
	Total             int64                   `json:"total"`
	ZeroResults       int64                   `json:"zero_results"`
	Truncated         int64                   `json:"truncated"`
	Since             time.Time               `json:"since"`
}

// ZeroResultRate returns the fraction of queries that returned nothing.
func (s Snapshot) ZeroResultRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.ZeroResults) / float64(s.Total)
}

// Store persists aggregated metrics. Counts passed to the Save/Upsert methods
// are increments.
type Store interface {
	SaveKindCounts(date string, counts map[QueryKind]int64) error
	KindCounts(from, to string) (map[QueryKind]int64, error)
	UpsertTermCounts(terms map[string]int64) error
	TopTerms(limit int) ([]TermCount, error)
	AddZeroResultQuery(query string, at time.Time) error
	ZeroResultQueries(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	LatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// Config sizes the collector.
type Config struct {
	TopTerms      int           // distinct terms tracked in memory
	ZeroResults   int           // recent zero-result queries kept
	FlushInterval time.Duration // 0 disables periodic flushing
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		TopTerms:      100,
		ZeroResults:   100,
		FlushInterval: time.Minute,
	}
}

// pending holds increments not yet written to the store.
type pending struct {
	kinds   map[QueryKind]int64
	latency map[LatencyBucket]int64
	terms   map[string]int64
	zero    []QueryEvent
}

func newPending() pending {
	return pending{
		kinds:   make(map[QueryKind]int64),
		latency: make(map[LatencyBucket]int64),
		terms:   make(map[string]int64),
	}
}

func (p pending) empty() bool {
	return len(p.kinds) == 0 && len(p.terms) == 0 && len(p.zero) == 0
}

// QueryMetrics aggregates query events in memory and flushes increments to an
// optional Store. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	kinds     map[QueryKind]int64
	latency   map[LatencyBucket]int64
	terms     *lru.Cache[string, int64]
	zero      *ring[string]
	total     int64
	zeroCount int64
	truncated int64
	since     time.Time

	pending pending
	store   Store
	closed  bool
	stop    chan struct{}
	stopped chan struct{}
}

// NewQueryMetrics creates a collector. store may be nil.
func NewQueryMetrics(store Store, cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTerms <= 0 {
		cfg.TopTerms = def.TopTerms
	}
	if cfg.ZeroResults <= 0 {
		cfg.ZeroResults = def.ZeroResults
	}
	terms, _ := lru.New[string, int64](cfg.TopTerms)

	m := &QueryMetrics{
		kinds:   make(map[QueryKind]int64),
		latency: make(map[LatencyBucket]int64),
		terms:   terms,
		zero:    newRing[string](cfg.ZeroResults),
		since:   time.Now(),
		pending: newPending(),
		store:   store,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if store != nil && cfg.FlushInterval > 0 {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.stopped)
	}
	return m
}

func (m *QueryMetrics) flushLoop(every time.Duration) {
	defer close(m.stopped)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush()
		case <-m.stop:
			return
		}
	}
}

// Record adds one event. It never blocks on the store.
func (m *QueryMetrics) Record(ev QueryEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	bucket := LatencyToBucket(ev.Latency)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	m.kinds[ev.Kind]++
	m.latency[bucket]++
	m.pending.kinds[ev.Kind]++
	m.pending.latency[bucket]++
	if ev.Truncated {
		m.truncated++
	}
	if ev.Kind == KindSearch {
		for _, term := range ExtractTerms(ev.Query) {
			n, _ := m.terms.Get(term)
			m.terms.Add(term, n+1)
			m.pending.terms[term]++
		}
	}
	if ev.Results == 0 && ev.Query != "" {
		m.zeroCount++
		m.zero.add(ev.Query)
		m.pending.zero = append(m.pending.zero, ev)
	}
}

// Snapshot copies the in-memory aggregates. TopTerms is sorted by count
// descending, then term.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Kinds:             make(map[QueryKind]int64, len(m.kinds)),
		Latency:           make(map[LatencyBucket]int64, len(m.latency)),
		ZeroResultQueries: m.zero.all(),
		Total:             m.total,
		ZeroResults:       m.zeroCount,
		Truncated:         m.truncated,
		Since:             m.since,
	}
	for k, v := range m.kinds {
		s.Kinds[k] = v
	}
	for k, v := range m.latency {
		s.Latency[k] = v
	}
	for _, term := range m.terms.Keys() {
		if n, ok := m.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
		}
	}
	slices.SortFunc(s.TopTerms, func(a, b TermCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Term, b.Term)
	})
	return s
}

// Flush writes increments recorded since the previous flush. On failure the
// increments are kept for the next attempt.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	p := m.pending
	m.pending = newPending()
	m.mu.Unlock()

	if p.empty() {
		return nil
	}
	if err := m.write(p); err != nil {
		m.mu.Lock()
		m.requeue(p)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *QueryMetrics) write(p pending) error {
	date := time.Now().Format(time.DateOnly)
	if err := m.store.SaveKindCounts(date, p.kinds); err != nil {
		return err
	}
	if err := m.store.SaveLatencyCounts(date, p.latency); err != nil {
		return err
	}
	if err := m.store.UpsertTermCounts(p.terms); err != nil {
		return err
	}
	for _, ev := range p.zero {
		if err := m.store.AddZeroResultQuery(ev.Query, ev.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// requeue merges p back into the pending increments. m.mu must be held.
func (m *QueryMetrics) requeue(p pending) {
	for k, v := range p.kinds {
		m.pending.kinds[k] += v
	}
	for k, v := range p.latency {
		m.pending.latency[k] += v
	}
	for k, v := range p.terms {
		m.pending.terms[k] += v
	}
	m.pending.zero = append(p.zero, m.pending.zero...)
}

// Close stops periodic flushing, flushes once more and closes the store.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.stopped

	if m.store == nil {
		return nil
	}
	flushErr := m.Flush()
	if err := m.store.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}
