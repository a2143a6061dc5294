package page

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterFence = "---"

// ParseFrontMatter extracts a leading YAML front matter block as string
// metadata. Content without front matter yields nil metadata. Lists are
// joined with ", "; nested maps are flattened with dotted keys.
func ParseFrontMatter(content string) (map[string]string, error) {
	block, _, ok := splitFrontMatter(content)
	if !ok {
		return nil, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	meta := make(map[string]string, len(raw))
	flatten(meta, "", raw)
	return meta, nil
}

// Body returns content without its leading front matter block.
func Body(content string) string {
	if _, body, ok := splitFrontMatter(content); ok {
		return body
	}
	return content
}

// splitFrontMatter returns the YAML between the opening and closing fences
// and the content after the closing fence.
func splitFrontMatter(content string) (block, body string, ok bool) {
	content = strings.TrimPrefix(content, "\ufeff")
	first, rest, found := strings.Cut(content, "\n")
	if !found || strings.TrimRight(first, " \r") != frontMatterFence {
		return "", "", false
	}

	var b strings.Builder
	for {
		line, next, more := strings.Cut(rest, "\n")
		if strings.TrimRight(line, " \r") == frontMatterFence {
			if !more {
				next = ""
			}
			return b.String(), next, true
		}
		if !more {
			return "", "", false
		}
		b.WriteString(line)
		b.WriteByte('\n')
		rest = next
	}
}

func flatten(dst map[string]string, prefix string, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := m[k].(type) {
		case map[string]any:
			flatten(dst, key, v)
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			dst[key] = strings.Join(parts, ", ")
		case nil:
			dst[key] = ""
		default:
			dst[key] = fmt.Sprint(v)
		}
	}
}
