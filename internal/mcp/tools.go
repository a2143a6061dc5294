package mcp

import (
	"github.com/Aman-CERP/notegraph/internal/graph"
	"github.com/Aman-CERP/notegraph/internal/links"
	"github.com/Aman-CERP/notegraph/internal/textindex"
)

// Tool names.
const (
	ToolCreateOrUpdatePage = "create_or_update_page"
	ToolDeletePage         = "delete_page"
	ToolGetPage            = "get_page"
	ToolGetBacklinks       = "get_backlinks"
	ToolTraverseGraph      = "traverse_graph"
	ToolSearch             = "search"
	ToolRenderPage         = "render_page"
	ToolListPages          = "list_pages"
)

// PageInput names a page.
type PageInput struct {
	ID string `json:"id" jsonschema:"page id, e.g. projects/roadmap"`
}

// WritePageInput is the create_or_update_page input.
type WritePageInput struct {
	ID      string `json:"id" jsonschema:"page id, e.g. projects/roadmap"`
	Content string `json:"content" jsonschema:"full markdown content; [[target]] links and ![[target]] embeds are indexed"`
}

// WritePageOutput reports the stored version and sync state.
type WritePageOutput struct {
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	State      string          `json:"state" jsonschema:"consistent, or degraded while an index catches up"`
	RetryToken string          `json:"retry_token,omitempty"`
	Warnings   []links.Warning `json:"warnings,omitempty" jsonschema:"malformed references that were skipped"`
}

// DeletePageOutput reports a deletion.
type DeletePageOutput struct {
	ID       string       `json:"id"`
	Deleted  bool         `json:"deleted"`
	Version  int64        `json:"version"`
	State    string       `json:"state"`
	Dangling []graph.Edge `json:"dangling,omitempty" jsonschema:"edges from other pages that now point at a missing page"`
}

// GetPageOutput is a stored page with its outgoing references.
type GetPageOutput struct {
	ID       string            `json:"id"`
	Version  int64             `json:"version"`
	Modified string            `json:"modified"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Links    []links.Ref       `json:"links"`
}

// BacklinksOutput lists referring pages.
type BacklinksOutput struct {
	ID        string   `json:"id"`
	Backlinks []string `json:"backlinks"`
}

// TraverseInput is the traverse_graph input.
type TraverseInput struct {
	Start     string `json:"start" jsonschema:"page id to start from"`
	Direction string `json:"direction,omitempty" jsonschema:"out follows links, in follows backlinks; default out"`
	MaxDepth  *int   `json:"max_depth,omitempty" jsonschema:"maximum hops, 0 returns only the start page; default 2"`
}

// TraverseOutput lists visited pages in breadth-first order.
type TraverseOutput struct {
	Start     string   `json:"start"`
	Direction string   `json:"direction"`
	Pages     []string `json:"pages"`
	Truncated bool     `json:"truncated"`
}

// SearchInput is the search input.
type SearchInput struct {
	Query string `json:"query" jsonschema:"all terms must appear in a page"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// SearchOutput is a ranked result list.
type SearchOutput struct {
	Query     string          `json:"query"`
	Results   []textindex.Hit `json:"results"`
	Total     int             `json:"total"`
	Truncated bool            `json:"truncated"`
}

// RenderInput is the render_page input.
type RenderInput struct {
	ID     string `json:"id" jsonschema:"page id"`
	Format string `json:"format,omitempty" jsonschema:"html, markdown, text, or any pandoc output format; default html"`
}

// RenderOutput is rendered page content.
type RenderOutput struct {
	ID      string `json:"id"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// ListPagesInput is the list_pages input.
type ListPagesInput struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"only pages whose id starts with this prefix"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of pages, default 100"`
}

// PageSummary is one list_pages entry.
type PageSummary struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// ListPagesOutput lists pages sorted by id.
type ListPagesOutput struct {
	Pages     []PageSummary `json:"pages"`
	Total     int           `json:"total"`
	Truncated bool          `json:"truncated"`
}

// QueryMetricsOutput is the query_metrics resource body.
type QueryMetricsOutput struct {
	TotalQueries      int64            `json:"total_queries"`
	ZeroResultPct     float64          `json:"zero_result_pct"`
	Truncated         int64            `json:"truncated"`
	Since             string           `json:"since"`
	QueryKindCounts   map[string]int64 `json:"query_kind_counts"`
	Latency           map[string]int64 `json:"latency_distribution"`
	TopTerms          []TermCount      `json:"top_terms"`
	ZeroResultQueries []string         `json:"zero_result_queries"`
}

// TermCount is a search term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}
