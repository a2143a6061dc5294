// Package links extracts page references from content.
//
// The grammar is:
//
//	ref    := embed | link
//	link   := "[[" target [ "#" anchor ] [ "|" alias ] "]]"
//	embed  := "!" link
//	target := 1*( any char except "[", "]", "|", "#", newline )
//
// References inside fenced code blocks and inline code spans are ignored.
// Extract is pure: the same content always yields the same Result.
package links

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/notegraph/internal/page"
)

// Kind distinguishes a plain link from an embed.
type Kind string

// Reference kinds.
const (
	KindLink  Kind = "link"
	KindEmbed Kind = "embed"
)

// maxWarningText bounds the snippet stored in a Warning.
const maxWarningText = 64

// Ref is an outgoing edge: a target page and the kind of reference.
type Ref struct {
	Target string `json:"target"`
	Kind   Kind   `json:"kind"`
}

// Span is one occurrence of a valid reference in the content.
// Start and End are byte offsets covering the whole reference, including "!".
type Span struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Target string `json:"target"`
	Anchor string `json:"anchor,omitempty"`
	Alias  string `json:"alias,omitempty"`
	Kind   Kind   `json:"kind"`
}

// Label is the text a renderer shows for the span.
func (s Span) Label() string {
	switch {
	case s.Alias != "":
		return s.Alias
	case s.Anchor != "":
		return s.Target + " > " + s.Anchor
	default:
		return s.Target
	}
}

// Warning reports a malformed reference that produced no edge.
type Warning struct {
	Offset int    `json:"offset"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Result is the output of Extract.
type Result struct {
	// Refs is de-duplicated and sorted by target, then kind.
	Refs     []Ref
	Spans    []Span
	Warnings []Warning
}

// Targets returns the distinct target ids in order.
func (r Result) Targets() []string {
	var out []string
	for i, ref := range r.Refs {
		if i > 0 && r.Refs[i-1].Target == ref.Target {
			continue
		}
		out = append(out, ref.Target)
	}
	return out
}

// Extract parses all references in content.
func Extract(content string) Result {
	var res Result
	var fence string

	offset := 0
	for offset <= len(content) {
		line := content[offset:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}

		if fence != "" {
			if closesFence(line, fence) {
				fence = ""
			}
		} else if f := opensFence(line); f != "" {
			fence = f
		} else {
			scanLine(content, offset, line, &res)
		}

		offset += len(line) + 1
	}

	res.Refs = dedupe(res.Spans)
	return res
}

// scanLine finds references in one line outside inline code spans.
// base is the offset of line within content.
func scanLine(content string, base int, line string, res *Result) {
	i := 0
	for i < len(line) {
		switch {
		case line[i] == '`':
			i = skipCodeSpan(line, i)

		case strings.HasPrefix(line[i:], "[["):
			i = parseRef(content, base, line, i, res)

		default:
			i++
		}
	}
}

// parseRef handles a "[[" at line[i] and returns the index to resume from.
func parseRef(content string, base int, line string, i int, res *Result) int {
	start := i
	kind := KindLink
	if i > 0 && line[i-1] == '!' {
		start = i - 1
		kind = KindEmbed
	}

	end := strings.Index(line[i+2:], "]]")
	if end < 0 {
		reason := "unterminated reference"
		if strings.Contains(content[base+i:], "]]") {
			reason = "newline inside reference"
		}
		res.Warnings = append(res.Warnings, warning(base+start, line[start:], reason))
		return i + 2
	}

	inner := line[i+2 : i+2+end]
	stop := i + 2 + end + 2
	raw := line[start:stop]

	// "[[[x]]": the first bracket is literal text.
	if strings.HasPrefix(inner, "[") {
		return i + 1
	}

	target, rest, _ := strings.Cut(inner, "|")
	alias := strings.TrimSpace(rest)
	target, anchor, _ := strings.Cut(target, "#")
	target = strings.TrimSpace(target)
	anchor = strings.TrimSpace(anchor)

	if target == "" {
		res.Warnings = append(res.Warnings, warning(base+start, raw, "empty target"))
		return stop
	}
	if err := page.ValidateID(target); err != nil {
		res.Warnings = append(res.Warnings, warning(base+start, raw, "invalid target: "+err.Error()))
		return stop
	}

	res.Spans = append(res.Spans, Span{
		Start:  base + start,
		End:    base + stop,
		Target: target,
		Anchor: anchor,
		Alias:  alias,
		Kind:   kind,
	})
	return stop
}

// skipCodeSpan returns the index after the code span opened at line[i].
// An unmatched backtick run is literal text.
func skipCodeSpan(line string, i int) int {
	n := 0
	for i+n < len(line) && line[i+n] == '`' {
		n++
	}
	delim := line[i : i+n]

	j := i + n
	for j < len(line) {
		k := strings.Index(line[j:], delim)
		if k < 0 {
			break
		}
		k += j
		m := 0
		for k+m < len(line) && line[k+m] == '`' {
			m++
		}
		if m == n {
			return k + n
		}
		j = k + m
	}
	return i + n
}

// opensFence returns the fence marker if line opens a fenced code block.
func opensFence(line string) string {
	trimmed, ok := trimIndent(line)
	if !ok || len(trimmed) < 3 {
		return ""
	}
	c := trimmed[0]
	if c != '`' && c != '~' {
		return ""
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == c {
		n++
	}
	if n < 3 {
		return ""
	}
	// Backtick fence info strings cannot contain backticks.
	if c == '`' && strings.IndexByte(trimmed[n:], '`') >= 0 {
		return ""
	}
	return trimmed[:n]
}

func closesFence(line, fence string) bool {
	trimmed, ok := trimIndent(line)
	if !ok {
		return false
	}
	c := fence[0]
	n := 0
	for n < len(trimmed) && trimmed[n] == c {
		n++
	}
	return n >= len(fence) && strings.TrimSpace(trimmed[n:]) == ""
}

// trimIndent strips up to three leading spaces.
func trimIndent(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	spaces := 0
	for spaces < len(line) && line[spaces] == ' ' {
		spaces++
	}
	if spaces > 3 {
		return "", false
	}
	return line[spaces:], true
}

func dedupe(spans []Span) []Ref {
	if len(spans) == 0 {
		return nil
	}
	seen := make(map[Ref]struct{}, len(spans))
	refs := make([]Ref, 0, len(spans))
	for _, s := range spans {
		r := Ref{Target: s.Target, Kind: s.Kind}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Target != refs[j].Target {
			return refs[i].Target < refs[j].Target
		}
		return refs[i].Kind < refs[j].Kind
	})
	return refs
}

func warning(offset int, text, reason string) Warning {
	if len(text) > maxWarningText {
		n := maxWarningText
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	return Warning{Offset: offset, Text: text, Reason: reason}
}
