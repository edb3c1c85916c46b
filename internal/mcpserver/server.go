// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Runebook workspace tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/keymap"
	"github.com/starford/runebook/internal/session"
	"github.com/starford/runebook/internal/workbench"
)

// GuideURI is the resource URI of the workspace guide.
const GuideURI = "runebook://guide"

// Server wraps the MCP server with Runebook tools.
type Server struct {
	mcp *server.MCPServer
	wb  *workbench.Workbench
}

// New creates a new MCP server with all Runebook tools registered.
func New(wb *workbench.Workbench, version string) *Server {
	s := &Server{wb: wb}

	s.mcp = server.NewMCPServer(
		"Runebook",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List the workspace documents in order, marking the selected one."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the full content of a document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("create_document",
		mcp.WithDescription("Create a new document, select it, and return its id."),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name, e.g. util.py")),
		mcp.WithString("content", mcp.Description("Optional initial content")),
	), s.createDocument)

	s.mcp.AddTool(mcp.NewTool("update_document",
		mcp.WithDescription("Replace the content of a document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New content")),
	), s.updateDocument)

	s.mcp.AddTool(mcp.NewTool("rename_document",
		mcp.WithDescription("Rename a document. Its timestamp is unchanged."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("name", mcp.Required(), mcp.Description("New file name")),
	), s.renameDocument)

	s.mcp.AddTool(mcp.NewTool("delete_document",
		mcp.WithDescription("Delete a document. The last remaining document cannot be deleted."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	), s.deleteDocument)

	s.mcp.AddTool(mcp.NewTool("select_document",
		mcp.WithDescription("Select a document by id or by 1-based position."),
		mcp.WithString("id", mcp.Description("Document id")),
		mcp.WithNumber("ordinal", mcp.Description("1-based position, used when id is empty")),
	), s.selectDocument)

	s.mcp.AddTool(mcp.NewTool("run_document",
		mcp.WithDescription("Run the selected document (or the given one) and return its output. "+
			"Read the runebook://guide resource for execution rules."),
		mcp.WithString("id", mcp.Description("Optional document id to select before running")),
		mcp.WithString("input", mcp.Description("Lines fed to the program's standard input; reads past the last line see end of input")),
	), s.runDocument)

	s.mcp.AddTool(mcp.NewTool("press_keys",
		mcp.WithDescription("Press key chords such as \"ctrl+2 ctrl+r\" and report what each did."),
		mcp.WithString("keys", mcp.Required(), mcp.Description("Space-separated chords")),
	), s.pressKeys)

	s.mcp.AddResource(
		mcp.NewResource(GuideURI, "Workspace Guide",
			mcp.WithResourceDescription("How documents, runs, keys and sync behave."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
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

type documentItem struct {
	Ordinal        int       `json:"ordinal"`
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Active         bool      `json:"active"`
	Size           int       `json:"size"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.wb.Store().Snapshot()
	items := make([]documentItem, len(snap.Documents))
	for i, d := range snap.Documents {
		items[i] = documentItem{
			Ordinal:        i + 1,
			ID:             d.ID,
			Name:           d.Name,
			Active:         d.ID == snap.ActiveID,
			Size:           len(d.Content),
			LastModifiedAt: d.LastModifiedAt,
		}
	}
	out, _ := json.MarshalIndent(items, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, ok := s.wb.Store().Get(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return mcp.NewToolResultText(d.Content), nil
}

func (s *Server) createDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return mcp.NewToolResultError("name must not be empty"), nil
	}
	id := s.wb.Store().Create(name)
	if content, err := req.RequireString("content"); err == nil && content != "" {
		s.wb.Store().Update(id, content)
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s (%s)", name, id)), nil
}

func (s *Server) updateDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !s.wb.Store().Update(id, content) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", id)), nil
}

func (s *Server) renameDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !s.wb.Store().Rename(id, name) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("renamed: %s -> %s", id, name)), nil
}

func (s *Server) deleteDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.wb.CloseDocument(ctx, id); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		default:
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if _, ok := s.wb.Store().Get(id); ok {
		return mcp.NewToolResultText(fmt.Sprintf("kept: %s", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) selectDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id, err := req.RequireString("id"); err == nil && id != "" {
		if !s.wb.Store().Select(id) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("selected: %s", id)), nil
	}
	n, err := req.RequireInt("ordinal")
	if err != nil {
		return mcp.NewToolResultError("id or ordinal is required"), nil
	}
	if !s.wb.SelectOrdinal(n) {
		return mcp.NewToolResultError(fmt.Sprintf("no document at position %d", n)), nil
	}
	d, _ := s.wb.Store().Active()
	return mcp.NewToolResultText(fmt.Sprintf("selected: %s", d.ID)), nil
}

func (s *Server) runDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id, err := req.RequireString("id"); err == nil && id != "" {
		if !s.wb.Store().Select(id) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go feedInput(runCtx, s.wb.Session().Prompts(), req.GetString("input", ""))

	res, err := s.wb.Run(runCtx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Failed() {
		return mcp.NewToolResultError(res.Output), nil
	}
	return mcp.NewToolResultText(res.Output), nil
}

// feedInput answers prompts with the lines of input, then with end of input.
func feedInput(ctx context.Context, prompts <-chan *session.PromptRequest, input string) {
	var lines []string
	if input != "" {
		lines = strings.Split(strings.TrimSuffix(input, "\n"), "\n")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-prompts:
			if len(lines) == 0 {
				req.Cancel()
				continue
			}
			req.Respond(lines[0])
			lines = lines[1:]
		}
	}
}

func (s *Server) pressKeys(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys, err := req.RequireString("keys")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	chords := strings.Fields(keys)
	if len(chords) == 0 {
		return mcp.NewToolResultError("no keys given"), nil
	}

	var b strings.Builder
	for _, chord := range chords {
		ev, err := keymap.ParseChord(chord)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := s.wb.HandleKey(ctx, ev)
		switch {
		case err != nil:
			fmt.Fprintf(&b, "%s: %s failed: %v\n", chord, res.Action, err)
		case !res.Handled:
			fmt.Fprintf(&b, "%s: unbound\n", chord)
		default:
			fmt.Fprintf(&b, "%s: %s\n", chord, res.Action)
		}
	}
	if s.wb.OutputVisible() {
		fmt.Fprintf(&b, "\noutput:\n%s", s.wb.Output())
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) readGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      GuideURI,
			MIMEType: "text/markdown",
			Text:     WorkspaceGuide,
		},
	}, nil
}
