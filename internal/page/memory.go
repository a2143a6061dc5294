package page

import (
	"context"
	"sort"
	"sync"
	"time"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// MemoryStore is an in-process Store. Deleted pages keep a tombstone with
// their last version so re-created pages continue the sequence.
type MemoryStore struct {
	mu     sync.RWMutex
	pages  map[string]*record
	now    func() time.Time
	closed bool
}

type record struct {
	page    Page
	deleted bool
}

// Verify interface implementation at compile time
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages: make(map[string]*record),
		now:   time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ngerrors.ErrClosed
	}
	rec, ok := s.pages[id]
	if !ok || rec.deleted {
		return nil, ngerrors.NotFound(id)
	}
	return rec.page.Clone(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, id, content string, metadata map[string]string) (ChangeEvent, error) {
	if err := ValidateID(id); err != nil {
		return ChangeEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ChangeEvent{}, ngerrors.ErrClosed
	}

	now := s.now()
	ev := ChangeEvent{ID: id, Content: content, Metadata: copyMetadata(metadata), At: now}

	rec, ok := s.pages[id]
	if !ok {
		rec = &record{}
		s.pages[id] = rec
	} else if !rec.deleted {
		ev.OldVersion = rec.page.Version
	}

	rec.deleted = false
	rec.page = Page{
		ID:       id,
		Content:  content,
		Version:  rec.page.Version + 1,
		Modified: now,
		Metadata: copyMetadata(metadata),
	}
	ev.NewVersion = rec.page.Version
	return ev, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) (ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ChangeEvent{}, ngerrors.ErrClosed
	}
	rec, ok := s.pages[id]
	if !ok || rec.deleted {
		return ChangeEvent{}, ngerrors.NotFound(id)
	}

	now := s.now()
	ev := ChangeEvent{ID: id, OldVersion: rec.page.Version, Deleted: true, At: now}
	rec.deleted = true
	rec.page = Page{ID: id, Version: rec.page.Version + 1, Modified: now}
	return ev, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ngerrors.ErrClosed
	}
	out := make([]Summary, 0, len(s.pages))
	for id, rec := range s.pages {
		if rec.deleted {
			continue
		}
		out = append(out, Summary{ID: id, Version: rec.page.Version, Modified: rec.page.Modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Scan implements Store. It works on a snapshot, so fn may call back into s.
func (s *MemoryStore) Scan(ctx context.Context, fn func(*Page) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ngerrors.ErrClosed
	}
	pages := make([]*Page, 0, len(s.pages))
	for _, rec := range s.pages {
		if !rec.deleted {
			pages = append(pages, rec.page.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
