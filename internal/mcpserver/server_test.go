package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/runebook/internal/models"
	"github.com/starford/runebook/internal/session"
	"github.com/starford/runebook/internal/workbench"
	"github.com/starford/runebook/internal/workspace"
)

// catEngine outputs the executed code, or fails on code starting with "!".
type catEngine struct {
	out bytes.Buffer
}

func (e *catEngine) Ready() bool                    { return true }
func (e *catEngine) WriteFile(string, []byte) error { return nil }
func (e *catEngine) ResetStdout()                   { e.out.Reset() }
func (e *catEngine) Stdout() string                 { return e.out.String() }
func (e *catEngine) SetStdin(io.Reader)             {}

func (e *catEngine) Exec(_ context.Context, code string) error {
	if strings.HasPrefix(code, "!") {
		return errors.New(code[1:])
	}
	e.out.WriteString(code)
	return nil
}

func testServer(t *testing.T) (*Server, *workspace.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := workspace.NewStore(nil, models.Snapshot{
		Documents: []models.Document{
			{ID: "1", Name: "main.py", Content: "main"},
			{ID: "2", Name: "util.py", Content: "util"},
		},
		ActiveID: "1",
	}, workspace.WithLogger(logger))
	wb := workbench.New(store, session.New(&catEngine{}, store, logger), workbench.WithLogger(logger))
	return New(wb, "test"), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_documents":  srv.listDocuments,
		"read_document":   srv.readDocument,
		"create_document": srv.createDocument,
		"update_document": srv.updateDocument,
		"rename_document": srv.renameDocument,
		"delete_document": srv.deleteDocument,
		"select_document": srv.selectDocument,
		"run_document":    srv.runDocument,
		"press_keys":      srv.pressKeys,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListDocuments(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_documents", nil)
	var items []documentItem
	if err := json.Unmarshal([]byte(resultText(r)), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || !items[0].Active || items[1].Name != "util.py" || items[1].Ordinal != 2 {
		t.Errorf("items = %+v", items)
	}
}

func TestCreateReadUpdateRename(t *testing.T) {
	srv, store := testServer(t)

	r := callTool(t, srv, "create_document", map[string]interface{}{"name": "extra.py", "content": "x = 1"})
	if r.IsError {
		t.Fatalf("create: %s", resultText(r))
	}
	d, _ := store.Active()
	if d.Name != "extra.py" || d.Content != "x = 1" {
		t.Fatalf("created = %+v", d)
	}

	callTool(t, srv, "update_document", map[string]interface{}{"id": d.ID, "content": "x = 2"})
	if got := resultText(callTool(t, srv, "read_document", map[string]interface{}{"id": d.ID})); got != "x = 2" {
		t.Errorf("read = %q", got)
	}

	callTool(t, srv, "rename_document", map[string]interface{}{"id": d.ID, "name": "renamed.py"})
	if got, _ := store.Get(d.ID); got.Name != "renamed.py" {
		t.Errorf("name = %q", got.Name)
	}

	if r := callTool(t, srv, "create_document", map[string]interface{}{"name": "  "}); !r.IsError {
		t.Error("blank name should fail")
	}
}

func TestMissingDocumentErrors(t *testing.T) {
	srv, _ := testServer(t)
	for _, tool := range []string{"read_document", "delete_document"} {
		if r := callTool(t, srv, tool, map[string]interface{}{"id": "nope"}); !r.IsError {
			t.Errorf("%s: expected error for missing document", tool)
		}
	}
	if r := callTool(t, srv, "update_document", map[string]interface{}{"id": "nope", "content": "x"}); !r.IsError {
		t.Error("update_document: expected error")
	}
}

func TestDeleteDocument_LastRemaining(t *testing.T) {
	srv, _ := testServer(t)
	if r := callTool(t, srv, "delete_document", map[string]interface{}{"id": "2"}); r.IsError {
		t.Fatalf("delete: %s", resultText(r))
	}
	r := callTool(t, srv, "delete_document", map[string]interface{}{"id": "1"})
	if !r.IsError || !strings.Contains(resultText(r), "last remaining file") {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestSelectAndRun(t *testing.T) {
	srv, _ := testServer(t)

	if r := callTool(t, srv, "select_document", map[string]interface{}{"ordinal": float64(2)}); r.IsError {
		t.Fatalf("select: %s", resultText(r))
	}
	if got := resultText(callTool(t, srv, "run_document", nil)); got != "util" {
		t.Errorf("run output = %q", got)
	}
	if got := resultText(callTool(t, srv, "run_document", map[string]interface{}{"id": "1"})); got != "main" {
		t.Errorf("run output = %q", got)
	}
	if r := callTool(t, srv, "select_document", map[string]interface{}{"ordinal": float64(7)}); !r.IsError {
		t.Error("out of range ordinal should fail")
	}
}

func TestRunFailureIsToolError(t *testing.T) {
	srv, store := testServer(t)
	store.Update("1", "!boom")
	r := callTool(t, srv, "run_document", nil)
	if !r.IsError || resultText(r) != "[ERROR] boom" {
		t.Errorf("result = %q error=%v", resultText(r), r.IsError)
	}
}

func TestPressKeys(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "press_keys", map[string]interface{}{"keys": "ctrl+2 ctrl+r x"})
	text := resultText(r)
	for _, want := range []string{"ctrl+2: select", "ctrl+r: run", "x: unbound", "output:\nutil"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in %q", want, text)
		}
	}

	if r := callTool(t, srv, "press_keys", map[string]interface{}{"keys": "hyper+r"}); !r.IsError {
		t.Error("bad chord should fail")
	}
}

func TestGuideResource(t *testing.T) {
	srv, _ := testServer(t)
	contents, err := srv.readGuideResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != GuideURI || !strings.Contains(tc.Text, "[ERROR] ") {
		t.Errorf("unexpected guide resource: %+v", contents[0])
	}
}

// echoStdinEngine copies standard input to the output, line by line.
type echoStdinEngine struct {
	catEngine
	stdin io.Reader
}

func (e *echoStdinEngine) SetStdin(r io.Reader) { e.stdin = r }

func (e *echoStdinEngine) Exec(context.Context, string) error {
	sc := bufio.NewScanner(e.stdin)
	for sc.Scan() {
		e.out.WriteString(sc.Text() + "|")
	}
	return sc.Err()
}

func TestRunFeedsInput(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := workspace.NewStore(nil, models.Snapshot{
		Documents: []models.Document{{ID: "1", Name: "main.py", Content: "read"}},
		ActiveID:  "1",
	}, workspace.WithLogger(logger))
	wb := workbench.New(store, session.New(&echoStdinEngine{}, store, logger), workbench.WithLogger(logger))
	srv := New(wb, "test")

	r := callTool(t, srv, "run_document", map[string]interface{}{"input": "Ada\nGrace\n"})
	if r.IsError || resultText(r) != "Ada|Grace|" {
		t.Errorf("result = %q error=%v", resultText(r), r.IsError)
	}

	r = callTool(t, srv, "run_document", nil)
	if r.IsError || resultText(r) != "" {
		t.Errorf("run without input = %q error=%v", resultText(r), r.IsError)
	}
}
