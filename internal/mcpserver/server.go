// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes citation tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/bibcite/internal/apperr"
	"github.com/starford/bibcite/internal/citeservice"
)

const (
	directiveSyntaxURI = "bibcite://directive-syntax"
	searchLimit        = 20
)

// Server wraps the MCP server with citation tools.
type Server struct {
	mcp *server.MCPServer
	svc *citeservice.Service
	md  *converter.Converter
}

// New creates a new MCP server with all tools registered.
func New(svc *citeservice.Service, version string) *Server {
	s := &Server{
		svc: svc,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}

	s.mcp = server.NewMCPServer(
		"bibcite",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("render_markup",
		mcp.WithDescription("Expand [bibshow], [bibcite] and [bibtex] directives in a document into "+
			"formatted citations and reference lists. Read the bibcite://directive-syntax "+
			"resource for the directive attributes."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Document text containing directives")),
		mcp.WithString("document_id", mcp.Description("Optional stable id of the document")),
		mcp.WithString("format", mcp.Description("Output format: html (default) or markdown")),
	), s.renderMarkup)

	s.mcp.AddTool(mcp.NewTool("get_entry",
		mcp.WithDescription("Return one library entry as CSL-JSON."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Citation key")),
		mcp.WithString("url", mcp.Description("Library URL (default library when empty)")),
	), s.getEntry)

	s.mcp.AddTool(mcp.NewTool("search_entries",
		mcp.WithDescription("Search a library by citation key or record text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("url", mcp.Description("Library URL (default library when empty)")),
	), s.searchEntries)

	s.mcp.AddTool(mcp.NewTool("list_libraries",
		mcp.WithDescription("List the libraries stored locally with their entry counts."),
	), s.listLibraries)

	s.mcp.AddTool(mcp.NewTool("list_styles",
		mcp.WithDescription("List the citation style names usable in the style attribute."),
	), s.listStyles)

	s.mcp.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List the template names usable in the template attribute."),
	), s.listTemplates)

	s.mcp.AddTool(mcp.NewTool("refresh_library",
		mcp.WithDescription("Download a library again now, ignoring the dormancy window."),
		mcp.WithString("url", mcp.Description("Library URL (default library when empty)")),
	), s.refreshLibrary)

	s.mcp.AddTool(mcp.NewTool("clear_cache",
		mcp.WithDescription("Forget all downloaded libraries and fetch state."),
	), s.clearCache)

	s.mcp.AddResource(
		mcp.NewResource(directiveSyntaxURI, "Directive Syntax",
			mcp.WithResourceDescription("Attributes and semantics of the bibliography directives."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDirectiveSyntax,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func optionalString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) renderMarkup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	html := s.svc.RenderMarkup(ctx, optionalString(req, "document_id"), content)

	switch format := optionalString(req, "format"); format {
	case "", "html":
		return mcp.NewToolResultText(html), nil
	case "markdown":
		md, err := s.md.ConvertString(html)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("markdown conversion failed: %v", err)), nil
		}
		return mcp.NewToolResultText(strings.TrimSpace(md)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format: %s", format)), nil
	}
}

func (s *Server) getEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.GetEntry(ctx, optionalString(req, "url"), key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", key)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec), nil
}

func (s *Server) searchEntries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recs, err := s.svc.SearchEntries(ctx, optionalString(req, "url"), query, searchLimit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("no entries found"), nil
	}
	return jsonResult(recs), nil
}

func (s *Server) listLibraries(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	libs, err := s.svc.Libraries(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(libs), nil
}

func (s *Server) listStyles(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(strings.Join(s.svc.Catalog().Styles, "\n")), nil
}

func (s *Server) listTemplates(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(strings.Join(s.svc.Catalog().Templates, "\n")), nil
}

func (s *Server) refreshLibrary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.RefreshLibrary(ctx, optionalString(req, "url"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) clearCache(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.ClearCache(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("cache cleared"), nil
}

func (s *Server) readDirectiveSyntax(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      directiveSyntaxURI,
			MIMEType: "text/markdown",
			Text:     DirectiveSyntax,
		},
	}, nil
}
