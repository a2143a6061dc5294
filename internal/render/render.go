// Package render converts page content for display. Rendering never feeds
// back into indexing.
package render

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/links"
)

// Built-in formats. Any other well-formed format name is delegated to the
// external converter.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

var formatPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_+-]{0,31}$`)

// Renderer converts content to a target format.
type Renderer interface {
	Render(ctx context.Context, content, format string) (string, error)
}

// LinkURL maps a reference to the URL used for it in rendered output.
type LinkURL func(target, anchor string) string

// DefaultLinkURL links to "<escaped target>.html#<anchor>".
func DefaultLinkURL(target, anchor string) string {
	u := url.PathEscape(target) + ".html"
	if anchor != "" {
		u += "#" + url.PathEscape(anchor)
	}
	return u
}

// ValidateFormat checks a format name.
func ValidateFormat(format string) error {
	if !formatPattern.MatchString(format) {
		return ngerrors.Newf(ngerrors.ErrCodeInvalidFormat, "invalid render format %q", format).
			WithSuggestion("Use html, markdown, text or a pandoc output format")
	}
	return nil
}

// RewriteLinks replaces every [[reference]] in content using fn, which
// receives the parsed span. Malformed references are left untouched.
func RewriteLinks(content string, fn func(links.Span) string) string {
	spans := links.Extract(content).Spans
	if len(spans) == 0 {
		return content
	}
	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, s := range spans {
		b.WriteString(content[last:s.Start])
		b.WriteString(fn(s))
		last = s.End
	}
	b.WriteString(content[last:])
	return b.String()
}

// ToMarkdown rewrites references as standard markdown links and images.
func ToMarkdown(content string, linkURL LinkURL) string {
	if linkURL == nil {
		linkURL = DefaultLinkURL
	}
	return RewriteLinks(content, func(s links.Span) string {
		label := escapeLabel(s.Label())
		if s.Kind == links.KindEmbed && isImage(s.Target) {
			return "![" + label + "](" + url.PathEscape(s.Target) + ")"
		}
		return "[" + label + "](" + linkURL(s.Target, s.Anchor) + ")"
	})
}

// ToText replaces references with their labels.
func ToText(content string) string {
	return RewriteLinks(content, func(s links.Span) string { return s.Label() })
}

func escapeLabel(s string) string {
	r := strings.NewReplacer(`[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

func isImage(target string) bool {
	lower := strings.ToLower(target)
	for _, ext := range imageExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
