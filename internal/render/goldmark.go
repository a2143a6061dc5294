package render

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/page"
)

// Markdown renders html, markdown and text in process. Other formats go to
// the fallback renderer if one is set.
type Markdown struct {
	md       goldmark.Markdown
	linkURL  LinkURL
	fallback Renderer
	// externalHTML sends html to the fallback as well.
	externalHTML bool
}

// MarkdownOption configures a Markdown renderer.
type MarkdownOption func(*Markdown)

// WithLinkURL sets how references are turned into URLs.
func WithLinkURL(fn LinkURL) MarkdownOption {
	return func(m *Markdown) {
		if fn != nil {
			m.linkURL = fn
		}
	}
}

// WithFallback sets the renderer used for formats not handled in process.
func WithFallback(r Renderer) MarkdownOption {
	return func(m *Markdown) {
		m.fallback = r
	}
}

// WithExternalHTML routes html through the fallback renderer too, leaving
// only markdown and text in process.
func WithExternalHTML() MarkdownOption {
	return func(m *Markdown) {
		m.externalHTML = true
	}
}

// NewMarkdown creates a goldmark-backed renderer with GitHub flavored
// markdown extensions.
func NewMarkdown(opts ...MarkdownOption) *Markdown {
	m := &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		linkURL: DefaultLinkURL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Render implements Renderer.
func (m *Markdown) Render(ctx context.Context, content, format string) (string, error) {
	if err := ValidateFormat(format); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body := page.Body(content)
	switch format {
	case FormatMarkdown:
		return ToMarkdown(body, m.linkURL), nil
	case FormatText:
		return ToText(body), nil
	case FormatHTML:
		if m.externalHTML && m.fallback != nil {
			break
		}
		var buf bytes.Buffer
		if err := m.md.Convert([]byte(ToMarkdown(body, m.linkURL)), &buf); err != nil {
			return "", ngerrors.New(ngerrors.ErrCodeRenderFailed, "markdown conversion failed", err)
		}
		return buf.String(), nil
	}

	if m.fallback == nil {
		return "", ngerrors.Newf(ngerrors.ErrCodeInvalidFormat, "format %q requires the pandoc engine", format).
			WithSuggestion("Set render.engine: pandoc in .notegraph.yaml")
	}
	return m.fallback.Render(ctx, ToMarkdown(body, m.linkURL), format)
}
