package internal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/sse"
	"github.com/starford/runebook/internal/testutil"
	"github.com/starford/runebook/internal/workbench"
)

const helloProgram = `package main

import "fmt"

func main() {
	fmt.Println("Hello World!")
}
`

func clientConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Workspace.Path = filepath.Join(dir, "workspace")
	cfg.Engine.Path = filepath.Join(dir, "sandbox")
	cfg.Engine.Timeout = 10 * time.Second
	return cfg
}

func openClient(t *testing.T, cfg *Config, stdin string) (*Client, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	c, err := OpenClient(context.Background(),
		WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIO(strings.NewReader(stdin), &out, io.Discard))
	if err != nil {
		t.Fatalf("OpenClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, &out
}

func TestClient_FreshWorkspaceHasPlaceholder(t *testing.T) {
	c, out := openClient(t, clientConfig(t), "")
	if err := c.List(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "* 1") || !strings.Contains(out.String(), "main.go") {
		t.Errorf("list = %q", out.String())
	}

	out.Reset()
	if _, err := c.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "Hello World!\n" {
		t.Errorf("placeholder output = %q", out.String())
	}
}

func TestClient_NewPutRun(t *testing.T) {
	cfg := clientConfig(t)
	c, out := openClient(t, cfg, "")

	id, err := c.New(context.Background(), "hello.go")
	if err != nil || id == "" {
		t.Fatalf("New = %q, %v", id, err)
	}
	if err := c.Put("hello.go", strings.NewReader(helloProgram)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	out.Reset()

	res, err := c.Run(context.Background(), "2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DocumentID != id || out.String() != "Hello World!\n" {
		t.Errorf("run %s output = %q", res.DocumentID, out.String())
	}

	// The cache survives a reopen.
	c.Close()
	c2, _ := openClient(t, cfg, "")
	d, err := c2.Resolve(id)
	if err != nil || d.Content != helloProgram {
		t.Errorf("reopened document = %+v, %v", d, err)
	}
	if active, _ := c2.Workbench().Store().Active(); active.ID != id {
		t.Errorf("active = %q, want %q", active.ID, id)
	}
}

func TestClient_RunReadsStdin(t *testing.T) {
	c, out := openClient(t, clientConfig(t), "Ada\n")
	src := `package main

import (
	"bufio"
	"fmt"
	"os"
)

func main() {
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	fmt.Print("hi " + line)
}
`
	active, _ := c.Workbench().Store().Active()
	c.Workbench().Store().Update(active.ID, src)
	if _, err := c.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "hi Ada\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestClient_RunFault(t *testing.T) {
	c, out := openClient(t, clientConfig(t), "")
	active, _ := c.Workbench().Store().Active()
	c.Workbench().Store().Update(active.ID, "package main\n\nfunc main() {\n\tpanic(\"boom\")\n}\n")

	res, err := c.Run(context.Background(), "")
	if !errors.Is(err, ErrRunFailed) || !res.Failed() {
		t.Fatalf("Run = %+v, %v", res, err)
	}
	if !strings.HasPrefix(out.String(), "[ERROR] ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestClient_Resolve(t *testing.T) {
	c, _ := openClient(t, clientConfig(t), "")
	id := c.Workbench().Store().Create("util.go")

	for _, ref := range []string{id, "2", "util.go"} {
		if d, err := c.Resolve(ref); err != nil || d.ID != id {
			t.Errorf("Resolve(%q) = %+v, %v", ref, d, err)
		}
	}
	if _, err := c.Resolve("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestClient_RemoveAsksBeforeLosingContent(t *testing.T) {
	c, _ := openClient(t, clientConfig(t), "n\ny\n")
	store := c.Workbench().Store()
	id := store.Create("util.go")
	store.Update(id, "x := 1")

	if err := c.Remove(context.Background(), "util.go"); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 2 {
		t.Fatal("declined removal deleted the document")
	}
	if err := c.Remove(context.Background(), "util.go"); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Error("confirmed removal kept the document")
	}
	if err := c.Remove(context.Background(), "1"); !errors.Is(err, apperr.ErrLastDocument) {
		t.Errorf("err = %v, want ErrLastDocument", err)
	}
}

func TestClient_NewPromptsForName(t *testing.T) {
	c, out := openClient(t, clientConfig(t), "notes.go\n")
	id, err := c.New(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	d, _ := c.Resolve(id)
	if d.Name != "notes.go" || !strings.Contains(out.String(), id) {
		t.Errorf("created %+v, output %q", d, out.String())
	}
}

func TestClient_Rename(t *testing.T) {
	c, _ := openClient(t, clientConfig(t), "")
	if err := c.Rename("1", "main.go"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Resolve("main.go"); err != nil {
		t.Error(err)
	}
	if err := c.Rename("1", " "); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestClient_LoginWithoutRemote(t *testing.T) {
	c, _ := openClient(t, clientConfig(t), "")
	if err := c.Login(context.Background(), "ada"); !errors.Is(err, workbench.ErrNoRemote) {
		t.Errorf("err = %v, want ErrNoRemote", err)
	}
}

func TestClient_SyncAcrossWorkspaces(t *testing.T) {
	db := testutil.TestDB(t)
	broker := sse.NewBroker(time.Second)
	srv := httptest.NewServer(newRouter(NewDefaultConfig(), db, broker))
	t.Cleanup(func() {
		broker.Close()
		srv.Close()
	})

	cfgA := clientConfig(t)
	cfgA.Remote.URL = srv.URL
	cfgA.Remote.RetryDelay = 50 * time.Millisecond
	a, _ := openClient(t, cfgA, "y\n")
	if err := a.Login(context.Background(), "ada"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	id := a.Workbench().Store().Create("shared.go")
	a.Workbench().Store().Update(id, "shared")
	a.Close()

	cfgB := clientConfig(t)
	cfgB.Remote.URL = srv.URL
	b, _ := openClient(t, cfgB, "")
	if err := b.Login(context.Background(), "ada"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if d, err := b.Resolve(id); err != nil || d.Content != "shared" {
		t.Errorf("synced document = %+v, %v", d, err)
	}
	b.Close()

	// The identity is remembered by the workspace.
	a2, _ := openClient(t, cfgA, "y\n")
	if a2.Workbench().Identity() != "ada" {
		t.Errorf("identity = %q, want ada", a2.Workbench().Identity())
	}
	if err := a2.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a2.Workbench().Identity() != "" || a2.Workbench().Store().Len() != 1 {
		t.Error("logout should clear identity and documents")
	}
	if a2.savedIdentity() != "" {
		t.Error("logout should forget the saved identity")
	}
}

func TestClient_RunReadsSiblingDocument(t *testing.T) {
	c, out := openClient(t, clientConfig(t), "")
	ctx := context.Background()

	if _, err := c.New(ctx, "greeting.txt"); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("greeting.txt", strings.NewReader("hi from a sibling")); err != nil {
		t.Fatal(err)
	}
	src := `package main

import (
	"fmt"
	"os"
)

func main() {
	data, err := os.ReadFile("greeting.txt")
	if err != nil {
		panic(err)
	}
	fmt.Println(string(data))
}
`
	if err := c.Put("1", strings.NewReader(src)); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if _, err := c.Run(ctx, "1"); err != nil {
		t.Fatalf("Run: %v (output %q)", err, out.String())
	}
	if out.String() != "hi from a sibling\n" {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := c.Sandbox(); err != nil {
		t.Fatalf("Sandbox: %v", err)
	}
	for _, name := range []string{"main.go", "greeting.txt"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("sandbox listing missing %s:\n%s", name, out.String())
		}
	}
}
