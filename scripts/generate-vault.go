//go:build ignore

// Package main generates a synthetic markdown vault for load testing.
// Usage: go run scripts/generate-vault.go -pages 2000 -output testdata/vault
//
// Pages are spread over a few folders and link to each other with
// [[wikilinks]], ![[embeds]] and inline links. Some links point at pages
// that are never generated so the vault has unresolved targets.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

var (
	numPages  = flag.Int("pages", 1000, "Number of pages to generate")
	maxLinks  = flag.Int("links", 8, "Maximum outgoing links per page")
	outputDir = flag.String("output", "testdata/vault", "Output directory")
	seed      = flag.Uint64("seed", 42, "Random seed for reproducibility")
	missing   = flag.Float64("missing", 0.05, "Fraction of links to pages that do not exist")
)

var (
	folders = []string{"", "projects", "people", "journal", "reference/tools"}
	topics  = []string{
		"indexing", "backlinks", "search", "ranking", "storage",
		"caching", "rendering", "parsing", "tokenizer", "graph",
		"traversal", "snapshot", "recovery", "retry", "watcher",
		"sqlite", "markdown", "vault", "embed", "anchor",
	}
	filler = []string{
		"the", "note", "describes", "how", "we", "handle", "a",
		"review", "meeting", "outcome", "plan", "draft", "idea",
		"question", "follow", "up", "with", "details", "about",
	}
)

type gen struct {
	rng *rand.Rand
	ids []string
}

func main() {
	flag.Parse()
	g := &gen{rng: rand.New(rand.NewPCG(*seed, *seed))}

	for i := range *numPages {
		folder := folders[g.rng.IntN(len(folders))]
		g.ids = append(g.ids, path(folder, fmt.Sprintf("%s-%04d", topics[i%len(topics)], i)))
	}

	fmt.Printf("Generating %d pages in %s...\n", *numPages, *outputDir)
	for _, id := range g.ids {
		full := filepath.Join(*outputDir, filepath.FromSlash(id)+".md")
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(full, []byte(g.page(id)), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", full, err)
			os.Exit(1)
		}
	}
	fmt.Printf("Generated %d pages successfully.\n", len(g.ids))
}

func path(folder, name string) string {
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

func (g *gen) page(id string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", filepath.Base(id))
	for p := range 1 + g.rng.IntN(4) {
		if p > 0 {
			fmt.Fprintf(&b, "\n## %s\n\n", g.pick(topics))
		}
		b.WriteString(g.paragraph())
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for range g.rng.IntN(*maxLinks + 1) {
		target := g.target()
		switch g.rng.IntN(4) {
		case 0:
			fmt.Fprintf(&b, "- ![[%s]]\n", target)
		case 1:
			fmt.Fprintf(&b, "- [%s](%s.md)\n", g.pick(topics), target)
		case 2:
			fmt.Fprintf(&b, "- [[%s#%s|%s]]\n", target, g.pick(topics), g.pick(topics))
		default:
			fmt.Fprintf(&b, "- [[%s]]\n", target)
		}
	}
	return b.String()
}

func (g *gen) target() string {
	if g.rng.Float64() < *missing {
		return fmt.Sprintf("missing/%s-%d", g.pick(topics), g.rng.IntN(100))
	}
	return g.ids[g.rng.IntN(len(g.ids))]
}

func (g *gen) paragraph() string {
	words := make([]string, 20+g.rng.IntN(40))
	for i := range words {
		if g.rng.IntN(5) == 0 {
			words[i] = g.pick(topics)
		} else {
			words[i] = g.pick(filler)
		}
	}
	return strings.Join(words, " ") + "."
}

func (g *gen) pick(pool []string) string { return pool[g.rng.IntN(len(pool))] }
