package textindex

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Token is one analyzed word. Position is 1-based.
type Token struct {
	Term     string
	Position int
}

// Analyzer splits text into case-folded word tokens. Punctuation and
// whitespace never produce tokens.
type Analyzer struct {
	tokenizer analysis.Tokenizer
	filter    analysis.TokenFilter
}

// NewAnalyzer creates the default analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		tokenizer: unicode.NewUnicodeTokenizer(),
		filter:    lowercase.NewLowerCaseFilter(),
	}
}

// Tokenize analyzes text.
func (a *Analyzer) Tokenize(text string) []Token {
	if text == "" {
		return nil
	}
	stream := a.filter.Filter(a.tokenizer.Tokenize([]byte(text)))
	out := make([]Token, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		out = append(out, Token{Term: string(tok.Term), Position: tok.Position})
	}
	return out
}

// Terms returns the distinct terms of text in first-occurrence order.
func (a *Analyzer) Terms(text string) []string {
	toks := a.Tokenize(text)
	seen := make(map[string]struct{}, len(toks))
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if _, ok := seen[t.Term]; ok {
			continue
		}
		seen[t.Term] = struct{}{}
		out = append(out, t.Term)
	}
	return out
}
