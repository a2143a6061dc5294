package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/notegraph/internal/engine"
	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/links"
	"github.com/Aman-CERP/notegraph/internal/render"
	"github.com/Aman-CERP/notegraph/pkg/version"
)

const (
	defaultTraverseDepth = 2
	defaultListLimit     = 100
	maxListLimit         = 1000
)

// ErrNilEngine is returned by NewServer without an engine.
var ErrNilEngine = errors.New("engine is required")

// Server bridges MCP clients with the note engine.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	logger *slog.Logger
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{ToolCreateOrUpdatePage, "Create a note page or replace its content. Links ([[target]]) and embeds (![[target]]) are indexed for backlinks and traversal; the text is indexed for search."},
	{ToolDeletePage, "Delete a note page. Pages that still link to it are reported as dangling references."},
	{ToolGetPage, "Read a note page: content, version, front matter metadata and outgoing links."},
	{ToolGetBacklinks, "List the pages that link to or embed a page, most recently linked first."},
	{ToolTraverseGraph, "Walk the link graph breadth-first from a page, following links (out) or backlinks (in)."},
	{ToolSearch, "Full-text search over all pages. Every query term must appear; results are ranked by tf-idf."},
	{ToolRenderPage, "Render a page to html (wikilinks become anchors), markdown, text, or a pandoc format."},
	{ToolListPages, "List page ids with their versions, optionally filtered by id prefix."},
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an MCP server over eng.
func NewServer(eng *engine.Engine, opts ...Option) (*Server, error) {
	if eng == nil {
		return nil, ErrNilEngine
	}
	s := &Server{engine: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "notegraph", Version: version.Version}, nil)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) { return "notegraph", version.Version }

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

func describe(name string) string {
	for _, t := range tools {
		if t.Name == name {
			return t.Description
		}
	}
	return ""
}

func addTool[In, Out any](s *Server, name string, h func(context.Context, In) (Out, error)) {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: name, Description: describe(name)},
		func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
			out, err := invoke(ctx, s, name, func(ctx context.Context) (Out, error) { return h(ctx, in) })
			if err != nil {
				var zero Out
				return nil, zero, err
			}
			return nil, out, nil
		})
	s.logger.Debug("registered_tool", slog.String("name", name))
}

func (s *Server) registerTools() {
	addTool(s, ToolCreateOrUpdatePage, s.writePage)
	addTool(s, ToolDeletePage, s.deletePage)
	addTool(s, ToolGetPage, s.getPage)
	addTool(s, ToolGetBacklinks, s.backlinks)
	addTool(s, ToolTraverseGraph, s.traverse)
	addTool(s, ToolSearch, s.search)
	addTool(s, ToolRenderPage, s.renderPage)
	addTool(s, ToolListPages, s.listPages)
	s.logger.Info("mcp_tools_registered", slog.Int("count", len(tools)))
}

// invoke runs a handler with request logging and error mapping.
func invoke[Out any](ctx context.Context, s *Server, name string, fn func(context.Context) (Out, error)) (Out, error) {
	start := time.Now()
	out, err := fn(ctx)
	if err != nil {
		mapped := MapError(err)
		s.logger.Warn("tool_failed",
			slog.String("tool", name),
			slog.Int("code", mapped.Code),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return out, mapped
	}
	s.logger.Debug("tool_called", slog.String("tool", name), slog.Duration("duration", time.Since(start)))
	return out, nil
}

// CallTool invokes a tool by name with JSON-style arguments, bypassing the
// transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolCreateOrUpdatePage:
		return dispatch(ctx, s, name, args, s.writePage)
	case ToolDeletePage:
		return dispatch(ctx, s, name, args, s.deletePage)
	case ToolGetPage:
		return dispatch(ctx, s, name, args, s.getPage)
	case ToolGetBacklinks:
		return dispatch(ctx, s, name, args, s.backlinks)
	case ToolTraverseGraph:
		return dispatch(ctx, s, name, args, s.traverse)
	case ToolSearch:
		return dispatch(ctx, s, name, args, s.search)
	case ToolRenderPage:
		return dispatch(ctx, s, name, args, s.renderPage)
	case ToolListPages:
		return dispatch(ctx, s, name, args, s.listPages)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func dispatch[In, Out any](ctx context.Context, s *Server, name string, args map[string]any, h func(context.Context, In) (Out, error)) (any, error) {
	var in In
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, NewInvalidParamsError(err.Error())
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, NewInvalidParamsError(fmt.Sprintf("invalid arguments for %s: %v", name, err))
		}
	}
	out, err := invoke(ctx, s, name, func(ctx context.Context) (Out, error) { return h(ctx, in) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) writePage(ctx context.Context, in WritePageInput) (WritePageOutput, error) {
	if in.ID == "" {
		return WritePageOutput{}, NewInvalidParamsError("id parameter is required")
	}
	res, err := s.engine.Apply(ctx, engine.Put(in.ID, in.Content))
	if err != nil && !acceptedDegraded(res, err) {
		return WritePageOutput{}, err
	}
	return WritePageOutput{
		ID:         res.ID,
		Version:    res.Version,
		State:      res.State.String(),
		RetryToken: res.RetryToken,
		Warnings:   res.Warnings,
	}, nil
}

func (s *Server) deletePage(ctx context.Context, in PageInput) (DeletePageOutput, error) {
	if in.ID == "" {
		return DeletePageOutput{}, NewInvalidParamsError("id parameter is required")
	}
	res, err := s.engine.Apply(ctx, engine.Delete(in.ID))
	if err != nil && !acceptedDegraded(res, err) {
		return DeletePageOutput{}, err
	}
	return DeletePageOutput{
		ID:       res.ID,
		Deleted:  true,
		Version:  res.Version,
		State:    res.State.String(),
		Dangling: res.Dangling,
	}, nil
}

// acceptedDegraded reports whether err only says the stored write is still
// being indexed. Such writes succeeded from the caller's point of view.
func acceptedDegraded(res engine.Result, err error) bool {
	return res.Version > 0 && ngerrors.GetCode(err) == ngerrors.ErrCodeDegraded
}

func (s *Server) getPage(ctx context.Context, in PageInput) (GetPageOutput, error) {
	p, err := s.engine.Get(ctx, in.ID)
	if err != nil {
		return GetPageOutput{}, err
	}
	refs := s.engine.Links(p.ID)
	if refs == nil {
		refs = []links.Ref{}
	}
	return GetPageOutput{
		ID:       p.ID,
		Version:  p.Version,
		Modified: p.Modified.UTC().Format(time.RFC3339),
		Content:  p.Content,
		Metadata: p.Metadata,
		Links:    refs,
	}, nil
}

func (s *Server) backlinks(ctx context.Context, in PageInput) (BacklinksOutput, error) {
	ids, err := s.engine.GetBacklinks(ctx, in.ID)
	if err != nil {
		return BacklinksOutput{}, err
	}
	return BacklinksOutput{ID: in.ID, Backlinks: ids}, nil
}

func (s *Server) traverse(ctx context.Context, in TraverseInput) (TraverseOutput, error) {
	dir := in.Direction
	if dir == "" {
		dir = "out"
	}
	depth := defaultTraverseDepth
	if in.MaxDepth != nil {
		depth = *in.MaxDepth
	}
	ids, truncated, err := s.engine.TraverseGraph(ctx, in.Start, dir, depth)
	if err != nil {
		return TraverseOutput{}, err
	}
	return TraverseOutput{Start: in.Start, Direction: dir, Pages: ids, Truncated: truncated}, nil
}

func (s *Server) search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	res, err := s.engine.Search(ctx, in.Query, in.Limit)
	if err != nil {
		return SearchOutput{}, err
	}
	return SearchOutput{Query: in.Query, Results: res.Hits, Total: res.Total, Truncated: res.Truncated}, nil
}

func (s *Server) renderPage(ctx context.Context, in RenderInput) (RenderOutput, error) {
	format := in.Format
	if format == "" {
		format = render.FormatHTML
	}
	out, err := s.engine.Render(ctx, in.ID, format)
	if err != nil {
		return RenderOutput{}, err
	}
	return RenderOutput{ID: in.ID, Format: format, Content: out}, nil
}

func (s *Server) listPages(ctx context.Context, in ListPagesInput) (ListPagesOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	all, err := s.engine.List(ctx)
	if err != nil {
		return ListPagesOutput{}, err
	}
	out := ListPagesOutput{Pages: []PageSummary{}}
	for _, p := range all {
		if !strings.HasPrefix(p.ID, in.Prefix) {
			continue
		}
		out.Total++
		if len(out.Pages) < limit {
			out.Pages = append(out.Pages, PageSummary{ID: p.ID, Version: p.Version})
		}
	}
	out.Truncated = out.Total > len(out.Pages)
	return out, nil
}

// Serve runs the server on transport until ctx ends. Only stdio is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
