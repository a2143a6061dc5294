// Package page implements the page store: the durable mapping from page id to
// content, metadata and version. Every write produces a ChangeEvent that the
// engine consumes to update the graph and text indices.
package page

import (
	"context"
	"maps"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// MaxIDLength is the maximum page id length in bytes.
const MaxIDLength = 256

// Page is a stored page.
type Page struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Version  int64             `json:"version"`
	Modified time.Time         `json:"modified"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of p.
func (p *Page) Clone() *Page {
	if p == nil {
		return nil
	}
	c := *p
	c.Metadata = maps.Clone(p.Metadata)
	return &c
}

// Summary identifies a live page and its current version.
type Summary struct {
	ID       string    `json:"id"`
	Version  int64     `json:"version"`
	Modified time.Time `json:"modified"`
}

// ChangeEvent describes one committed write.
// OldVersion is 0 when the page did not exist; NewVersion is 0 for deletes.
type ChangeEvent struct {
	ID         string
	OldVersion int64
	NewVersion int64
	Content    string
	Metadata   map[string]string
	Deleted    bool
	At         time.Time
}

// Store is the page store contract.
// Writes to one id are linearizable and versions are strictly increasing for
// an id, including across delete and re-create.
type Store interface {
	// Get returns the live page or a NotFound error.
	Get(ctx context.Context, id string) (*Page, error)

	// Put creates or replaces the page and returns the committed change.
	Put(ctx context.Context, id, content string, metadata map[string]string) (ChangeEvent, error)

	// Delete removes a live page, or returns NotFound.
	Delete(ctx context.Context, id string) (ChangeEvent, error)

	// List returns all live pages sorted by id.
	List(ctx context.Context) ([]Summary, error)

	// Scan calls fn for every live page in id order. Returning an error stops the scan.
	Scan(ctx context.Context, fn func(*Page) error) error

	// Close releases resources.
	Close() error
}

// ValidateID checks that id can name a page and appear inside a [[reference]].
func ValidateID(id string) error {
	switch {
	case id == "":
		return ngerrors.InvalidID(id, "empty")
	case len(id) > MaxIDLength:
		return ngerrors.InvalidID(id, "too long")
	case !utf8.ValidString(id):
		return ngerrors.InvalidID(id, "not valid UTF-8")
	case strings.TrimSpace(id) != id:
		return ngerrors.InvalidID(id, "leading or trailing whitespace")
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return ngerrors.InvalidID(id, "control character")
		}
		if strings.ContainsRune("[]|#^", r) {
			return ngerrors.InvalidID(id, "reserved character "+string(r))
		}
	}
	return nil
}

// ValidateContent rejects content that is not well-formed text.
// maxBytes <= 0 disables the size check.
func ValidateContent(content string, maxBytes int) error {
	if maxBytes > 0 && len(content) > maxBytes {
		return ngerrors.InvalidContent("content exceeds size limit").
			WithDetail("max_bytes", strconv.Itoa(maxBytes))
	}
	if !utf8.ValidString(content) {
		return ngerrors.InvalidContent("content is not valid UTF-8")
	}
	if strings.IndexByte(content, 0) >= 0 {
		return ngerrors.InvalidContent("content contains NUL byte")
	}
	return nil
}
