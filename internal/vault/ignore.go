package vault

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFile holds gitignore-style patterns, read from the vault root when
// the vault opens.
const IgnoreFile = ".notegraphignore"

type ignoreRule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// Ignore matches slash-separated vault paths against gitignore-style rules.
// The last matching rule wins; a "!" rule re-includes a path. Ignoring a
// directory ignores everything below it unless a later rule names the file.
type Ignore struct {
	rules []ignoreRule
}

// LoadIgnore reads IgnoreFile from root. A missing file yields an empty set.
func LoadIgnore(root string) (*Ignore, error) {
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &Ignore{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	ig := &Ignore{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ig.Add(sc.Text())
	}
	return ig, sc.Err()
}

// ParseIgnore builds a matcher from newline-separated patterns.
func ParseIgnore(patterns string) *Ignore {
	ig := &Ignore{}
	for _, line := range strings.Split(patterns, "\n") {
		ig.Add(line)
	}
	return ig
}

// Add appends one pattern line. Blank lines and # comments are ignored.
func (ig *Ignore) Add(line string) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	var r ignoreRule
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	} else if strings.HasPrefix(line, `\`) {
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = line[1:]
	} else if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") {
		r.anchored = true
	}
	if line == "" {
		return
	}
	re, err := regexp.Compile("^" + globToRegex(line) + "$")
	if err != nil {
		return
	}
	r.re = re
	ig.rules = append(ig.rules, r)
}

// Len returns the number of active rules.
func (ig *Ignore) Len() int { return len(ig.rules) }

// negates reports whether any rule re-includes paths.
func (ig *Ignore) negates() bool {
	for _, r := range ig.rules {
		if r.negate {
			return true
		}
	}
	return false
}

// Match reports whether rel is ignored.
func (ig *Ignore) Match(rel string, isDir bool) bool {
	if ig == nil || len(ig.rules) == 0 {
		return false
	}
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	parts := strings.Split(rel, "/")

	ignored := false
	for _, r := range ig.rules {
		if r.matches(parts, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

// matches checks the path and each of its parent directories.
func (r ignoreRule) matches(parts []string, isDir bool) bool {
	for i := range parts {
		prefixIsDir := i < len(parts)-1 || isDir
		if r.dirOnly && !prefixIsDir {
			continue
		}
		prefix := strings.Join(parts[:i+1], "/")
		if r.re.MatchString(prefix) {
			return true
		}
		if !r.anchored && r.re.MatchString(parts[i]) {
			return true
		}
	}
	return false
}

// globToRegex converts a glob to a regular expression body. "*" and "?"
// stop at "/", "**" crosses directories.
func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				i++
				if i+1 < len(glob) && glob[i+1] == '/' {
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
