// Package engine keeps the graph index and the text index synchronized with
// the page store.
//
// Every mutation is written to the page store first. The resulting version is
// then applied to both indices in parallel. If either index fails, the page
// is Degraded: the caller gets the committed version together with a retry
// token, and the engine retries the missing half in the background with
// exponential backoff. Both index updates are idempotent per (id, version),
// so retries converge exactly once. Mutations to one id are serialized;
// different ids proceed concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/graph"
	"github.com/Aman-CERP/notegraph/internal/links"
	"github.com/Aman-CERP/notegraph/internal/page"
	"github.com/Aman-CERP/notegraph/internal/render"
	"github.com/Aman-CERP/notegraph/internal/telemetry"
	"github.com/Aman-CERP/notegraph/internal/textindex"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// GraphWriter is the mutating half of the graph index.
type GraphWriter interface {
	SetEdges(id string, version int64, refs []links.Ref) error
	DeletePage(id string, version int64) (graph.DeleteReport, error)
}

// TextWriter is the mutating half of the text index.
type TextWriter interface {
	Index(id string, version int64, content string) error
	Delete(id string, version int64) error
}

// Config holds engine limits and retry policy.
type Config struct {
	DeletePolicy    graph.DeletePolicy
	MaxDepth        int
	DefaultLimit    int
	MaxLimit        int
	SearchTimeout   time.Duration
	Workers         int
	MaxContentBytes int
	Retry           ngerrors.RetryConfig
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DeletePolicy:    graph.Tombstone,
		MaxDepth:        16,
		DefaultLimit:    20,
		MaxLimit:        200,
		SearchTimeout:   2 * time.Second,
		Workers:         runtime.NumCPU(),
		MaxContentBytes: 4 << 20,
		Retry:           ngerrors.DefaultRetryConfig(),
	}
}

// Mutation is a create/update (Content set) or a delete (Content nil).
type Mutation struct {
	ID       string
	Content  *string
	Metadata map[string]string
}

// Put returns a create-or-update mutation.
func Put(id, content string) Mutation {
	return Mutation{ID: id, Content: &content}
}

// Delete returns a delete mutation.
func Delete(id string) Mutation {
	return Mutation{ID: id}
}

// IsDelete reports whether m deletes its page.
func (m Mutation) IsDelete() bool {
	return m.Content == nil
}

// Result reports the outcome of one mutation.
type Result struct {
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	Deleted    bool            `json:"deleted,omitempty"`
	State      State           `json:"state"`
	RetryToken string          `json:"retry_token,omitempty"`
	Stale      []Side          `json:"stale,omitempty"`
	Warnings   []links.Warning `json:"warnings,omitempty"`
	Dangling   []graph.Edge    `json:"dangling,omitempty"`
}

// Engine is the note graph and search engine. Create it with New and release
// it with Close.
type Engine struct {
	store    page.Store
	graph    *graph.Graph
	text     *textindex.Index
	gw       GraphWriter
	tw       TextWriter
	renderer render.Renderer
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger
	config   Config

	locks *keyedMutex

	mu      sync.Mutex
	entries map[string]*entry
	tokens  map[string]string // retry token -> page id
	closed  bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithGraph supplies the graph index.
func WithGraph(g *graph.Graph) Option {
	return func(e *Engine) { e.graph = g }
}

// WithTextIndex supplies the text index.
func WithTextIndex(x *textindex.Index) Option {
	return func(e *Engine) { e.text = x }
}

// WithGraphWriter routes graph mutations through w instead of the graph index.
func WithGraphWriter(w GraphWriter) Option {
	return func(e *Engine) { e.gw = w }
}

// WithTextWriter routes text mutations through w instead of the text index.
func WithTextWriter(w TextWriter) Option {
	return func(e *Engine) { e.tw = w }
}

// WithRenderer sets the renderer used by Render.
func WithRenderer(r render.Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// WithMetrics records query telemetry.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine over store. Indices start empty; call Rebuild to load
// existing pages.
func New(store page.Store, config Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: page store is required", ErrNilDependency)
	}
	def := DefaultConfig()
	if config.MaxDepth <= 0 {
		config.MaxDepth = def.MaxDepth
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = def.DefaultLimit
	}
	if config.MaxLimit < config.DefaultLimit {
		config.MaxLimit = max(def.MaxLimit, config.DefaultLimit)
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.DeletePolicy == "" {
		config.DeletePolicy = def.DeletePolicy
	}

	e := &Engine{
		store:   store,
		logger:  slog.Default(),
		config:  config,
		locks:   newKeyedMutex(),
		entries: make(map[string]*entry),
		tokens:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.graph == nil {
		e.graph = graph.New(graph.WithDeletePolicy(config.DeletePolicy), graph.WithLogger(e.logger))
	}
	if e.text == nil {
		e.text = textindex.New(textindex.WithLogger(e.logger))
	}
	if e.gw == nil {
		e.gw = e.graph
	}
	if e.tw == nil {
		e.tw = e.text
	}
	if e.renderer == nil {
		e.renderer = render.NewMarkdown()
	}
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())
	return e, nil
}

// Graph returns the graph index for read-only use.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// TextIndex returns the text index for read-only use.
func (e *Engine) TextIndex() *textindex.Index { return e.text }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Close stops background retries and closes the page store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.bgCancel()
	e.bgWG.Wait()

	if e.metrics != nil {
		if err := e.metrics.Close(); err != nil {
			e.logger.Warn("metrics_close_failed", slog.String("error", err.Error()))
		}
	}
	return e.store.Close()
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Apply performs one mutation. Invalid input and page store failures return
// an error before any state changes. If an index update fails the Result is
// still returned, with State Degraded and a retry token, together with an
// ErrDegraded error.
func (e *Engine) Apply(ctx context.Context, m Mutation) (Result, error) {
	if e.isClosed() {
		return Result{ID: m.ID}, ngerrors.ErrClosed
	}
	if m.IsDelete() {
		return e.applyDelete(ctx, m.ID)
	}
	return e.applyPut(ctx, m.ID, *m.Content, m.Metadata)
}

func (e *Engine) applyPut(ctx context.Context, id, content string, metadata map[string]string) (Result, error) {
	res := Result{ID: id}
	if err := page.ValidateID(id); err != nil {
		return res, err
	}
	if err := page.ValidateContent(content, e.config.MaxContentBytes); err != nil {
		return res, err
	}
	meta := e.metadataFor(id, content, metadata)

	unlock := e.locks.Lock(id)
	defer unlock()

	ev, err := e.store.Put(ctx, id, content, meta)
	if err != nil {
		return res, err
	}
	res.Version = ev.NewVersion

	extracted := links.Extract(content)
	res.Warnings = extracted.Warnings
	if len(extracted.Warnings) > 0 {
		e.logger.Debug("reference_warnings",
			slog.String("page_id", id),
			slog.Int("count", len(extracted.Warnings)))
	}

	ent := newEntry(Writing, ev.NewVersion)
	ent.content = content
	ent.refs = extracted.Refs
	ent.pendingGraph = true
	ent.pendingText = true
	e.replaceEntry(id, ent)

	e.syncEntry(id, ent)
	return e.finish(id, ent, res)
}

func (e *Engine) applyDelete(ctx context.Context, id string) (Result, error) {
	res := Result{ID: id, Deleted: true}
	if err := page.ValidateID(id); err != nil {
		return res, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	ev, err := e.store.Delete(ctx, id)
	if err != nil {
		return res, err
	}
	// A delete consumes one version; the tombstone carries it.
	res.Version = ev.OldVersion + 1

	ent := newEntry(Deleting, res.Version)
	ent.deleted = true
	ent.pendingGraph = true
	ent.pendingText = true
	e.replaceEntry(id, ent)

	report := e.syncEntry(id, ent)
	res.Dangling = report.Dangling
	if len(report.Dangling) > 0 {
		e.logger.Info("dangling_references",
			slog.String("page_id", id),
			slog.String("code", ngerrors.ErrCodeDanglingReference),
			slog.Int("count", len(report.Dangling)))
	}
	return e.finish(id, ent, res)
}

// finish settles ent after its first sync attempt. The id lock must be held.
func (e *Engine) finish(id string, ent *entry, res Result) (Result, error) {
	if !ent.pendingGraph && !ent.pendingText {
		e.resolve(id, ent)
		if ent.deleted {
			res.State = Absent
		} else {
			res.State = Consistent
		}
		return res, nil
	}

	e.mu.Lock()
	ent.state = Degraded
	ent.token = uuid.NewString()
	e.tokens[ent.token] = id
	background := !e.closed
	if background {
		e.bgWG.Add(1)
	}
	e.mu.Unlock()

	res.State = Degraded
	res.RetryToken = ent.token
	res.Stale = ent.pendingSides()

	e.logger.Warn("page_degraded",
		slog.String("page_id", id),
		slog.Int64("version", ent.version),
		slog.Bool("delete", ent.deleted),
		slog.Any("stale", res.Stale),
		slog.String("retry_token", ent.token),
		slog.String("error", errString(ent.lastErr)))

	if background {
		go e.retryLoop(id, ent)
	}
	return res, degradedError(id, ent)
}

// syncEntry applies the pending halves of ent to both indices in parallel and
// clears the pending flag of each side that succeeded. The id lock must be held.
func (e *Engine) syncEntry(id string, ent *entry) graph.DeleteReport {
	var report graph.DeleteReport
	var graphErr, textErr error

	var g errgroup.Group
	if ent.pendingGraph {
		g.Go(func() error {
			if ent.deleted {
				report, graphErr = e.gw.DeletePage(id, ent.version)
			} else {
				graphErr = e.gw.SetEdges(id, ent.version, ent.refs)
			}
			graphErr = e.absorbStale(id, SideGraph, graphErr)
			return nil
		})
	}
	if ent.pendingText {
		g.Go(func() error {
			if ent.deleted {
				textErr = e.tw.Delete(id, ent.version)
			} else {
				textErr = e.tw.Index(id, ent.version, ent.content)
			}
			textErr = e.absorbStale(id, SideText, textErr)
			return nil
		})
	}
	_ = g.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if ent.pendingGraph && graphErr == nil {
		ent.pendingGraph = false
	}
	if ent.pendingText && textErr == nil {
		ent.pendingText = false
	}
	ent.lastErr = errors.Join(graphErr, textErr)
	return report
}

// absorbStale turns StaleVersion into success: a newer version already won.
func (e *Engine) absorbStale(id string, side Side, err error) error {
	if err == nil || !errors.Is(err, ngerrors.ErrStaleVersion) {
		return err
	}
	e.logger.Debug("stale_version_discarded",
		slog.String("page_id", id),
		slog.String("index", string(side)),
		slog.String("error", err.Error()))
	return nil
}

// replaceEntry installs ent for id, superseding any previous entry.
func (e *Engine) replaceEntry(id string, ent *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.entries[id]; ok {
		e.dropLocked(id, old)
	}
	e.entries[id] = ent
}

// resolve removes ent from the table if it is still current.
func (e *Engine) resolve(id string, ent *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.entries[id]; ok && cur == ent {
		e.dropLocked(id, ent)
	}
}

// dropLocked removes ent and wakes its waiters. e.mu must be held.
func (e *Engine) dropLocked(id string, ent *entry) {
	if ent.token != "" {
		delete(e.tokens, ent.token)
	}
	if e.entries[id] == ent {
		delete(e.entries, id)
	}
	closeOnce(ent.done)
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (e *Engine) metadataFor(id, content string, explicit map[string]string) map[string]string {
	meta, err := page.ParseFrontMatter(content)
	if err != nil {
		e.logger.Warn("front_matter_invalid",
			slog.String("page_id", id),
			slog.String("error", err.Error()))
		meta = nil
	}
	if len(explicit) == 0 {
		return meta
	}
	if meta == nil {
		meta = make(map[string]string, len(explicit))
	}
	for k, v := range explicit {
		meta[k] = v
	}
	return meta
}

func degradedError(id string, ent *entry) error {
	sides := ent.pendingSides()
	names := make([]string, len(sides))
	for i, s := range sides {
		names[i] = string(s)
	}
	ne := ngerrors.New(ngerrors.ErrCodeDegraded,
		fmt.Sprintf("page %q version %d partially indexed", id, ent.version), ent.lastErr).
		WithDetail("page_id", id).
		WithDetail("version", fmt.Sprint(ent.version)).
		WithDetail("retry_token", ent.token).
		WithSuggestion("The engine retries automatically; use the retry token to retry now")
	if len(names) > 0 {
		ne = ne.WithDetail("stale", fmt.Sprint(names))
	}
	return ne
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
