package internal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/engine"
	"github.com/starford/runebook/internal/mcpserver"
	"github.com/starford/runebook/internal/models"
	"github.com/starford/runebook/internal/remotesync"
	"github.com/starford/runebook/internal/session"
	"github.com/starford/runebook/internal/storage"
	"github.com/starford/runebook/internal/tui"
	"github.com/starford/runebook/internal/workbench"
	"github.com/starford/runebook/internal/workspace"
)

const (
	// IdentityKey is the workspace entry remembering the logged-in identity
	// between invocations.
	IdentityKey = ".identity"
	// LogFileName receives client logs while the terminal UI is running.
	LogFileName = ".runebook.log"
)

// ErrRunFailed is returned when the executed document raised a fault.
var ErrRunFailed = errors.New("run failed")

// Client is an opened local workspace with its execution session and,
// when a remote is configured, its sync loop.
type Client struct {
	app    *application
	logger *slog.Logger
	in     *lineReader

	fs      *storage.FS
	engine  *engine.Yaegi
	store   *workspace.Store
	sync    *remotesync.Sync
	remote  *remotesync.HTTPRemote
	detach  func()
	wb      *workbench.Workbench
	asker   *tui.Asker
	logFile *os.File
	stopBg  context.CancelFunc
	bgGroup *errgroup.Group
}

// OpenClient loads the local workspace, initializes the engine and resumes
// the remembered login, if any.
func OpenClient(ctx context.Context, opts ...Option) (_ *Client, err error) {
	app := newApplication(opts)
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	if err := os.MkdirAll(cfg.Workspace.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	// The terminal UI owns the screen; its logs go to a file.
	var logFile *os.File
	logOut := app.stderr
	if app.terminal {
		f, ferr := os.OpenFile(filepath.Join(cfg.Workspace.Path, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if ferr != nil {
			return nil, fmt.Errorf("open log file: %w", ferr)
		}
		logFile, logOut = f, f
		defer func() {
			if err != nil {
				f.Close()
			}
		}()
	}
	logger := app.newLogger(logOut)

	fs, err := storage.NewFS(cfg.Workspace.Path)
	if err != nil {
		return nil, fmt.Errorf("init workspace storage: %w", err)
	}
	cache := workspace.NewCache(fs)
	store, err := workspace.Open(cache,
		workspace.WithTemplate(cfg.Workspace.Template),
		workspace.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}

	eng, err := engine.New(cfg.Engine.Path, cfg.Engine.Timeout)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	if err := eng.Init(ctx); err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	sess := session.New(eng, store, logger)

	c := &Client{
		app:     app,
		logger:  logger,
		in:      &lineReader{r: bufio.NewReader(app.stdin), out: app.stderr},
		fs:      fs,
		engine:  eng,
		store:   store,
		logFile: logFile,
	}

	wbOpts := []workbench.Option{workbench.WithLogger(logger)}
	switch {
	case app.terminal:
		c.asker = tui.NewAsker()
		wbOpts = append(wbOpts, workbench.WithNamePrompter(c.asker), workbench.WithConfirmer(c.asker))
	case app.noPrompt:
		wbOpts = append(wbOpts, workbench.WithConfirmer(assumeYes{}))
	case app.assumeYes:
		wbOpts = append(wbOpts, workbench.WithNamePrompter(c.in), workbench.WithConfirmer(assumeYes{}))
	default:
		wbOpts = append(wbOpts, workbench.WithNamePrompter(c.in), workbench.WithConfirmer(c.in))
	}

	if cfg.Remote.Enabled() {
		c.remote = remotesync.NewHTTPRemote(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.Timeout)
		c.sync = remotesync.New(c.remote, store,
			remotesync.WithLogger(logger),
			remotesync.WithRetryDelay(cfg.Remote.RetryDelay),
			remotesync.WithPushTimeout(cfg.Remote.PushTimeout))
		c.detach = c.sync.Attach(store)
		wbOpts = append(wbOpts, workbench.WithSync(c.sync))
	}
	c.wb = workbench.New(store, sess, wbOpts...)

	bgCtx, cancel := context.WithCancel(context.Background())
	c.stopBg = cancel
	c.bgGroup, bgCtx = errgroup.WithContext(bgCtx)
	if cfg.Workspace.Watch {
		c.bgGroup.Go(func() error {
			return workspace.Watch(bgCtx, fs.Root(), cache, store, logger)
		})
	}

	if identity := c.savedIdentity(); identity != "" && c.sync != nil {
		if err := c.wb.Login(ctx, identity); err != nil {
			logger.Warn("client: resume login", slog.String("identity", identity), slog.String("error", err.Error()))
		}
	}
	return c, nil
}

// Close stops background work and flushes pending pushes.
func (c *Client) Close() error {
	c.stopBg()
	err := c.bgGroup.Wait()
	if c.sync != nil {
		c.detach()
		c.sync.Close()
		c.remote.Close()
	}
	if c.logFile != nil {
		c.logFile.Close()
	}
	return err
}

// Workbench returns the client's controller.
func (c *Client) Workbench() *workbench.Workbench {
	return c.wb
}

// Resolve finds a document by id, 1-based ordinal or name, in that order.
func (c *Client) Resolve(ref string) (models.Document, error) {
	if d, ok := c.store.Get(ref); ok {
		return d, nil
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if id, ok := c.store.Ordinal(n); ok {
			d, _ := c.store.Get(id)
			return d, nil
		}
	}
	for _, d := range c.store.Documents() {
		if d.Name == ref {
			return d, nil
		}
	}
	return models.Document{}, fmt.Errorf("document %q: %w", ref, apperr.ErrNotFound)
}

// Run executes ref, or the selected document when ref is empty, and writes
// its output. Program input is read line by line from stdin.
func (c *Client) Run(ctx context.Context, ref string) (session.Result, error) {
	if ref != "" {
		d, err := c.Resolve(ref)
		if err != nil {
			return session.Result{}, err
		}
		c.store.Select(d.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.answerPrompts(runCtx, c.wb.Session().Prompts())

	res, err := c.wb.Run(runCtx)
	if err != nil {
		return res, err
	}
	_, _ = io.WriteString(c.app.stdout, res.Output)
	if res.Output != "" && !strings.HasSuffix(res.Output, "\n") {
		_, _ = io.WriteString(c.app.stdout, "\n")
	}
	if res.Failed() {
		return res, fmt.Errorf("%s: %w", res.Name, ErrRunFailed)
	}
	return res, nil
}

func (c *Client) answerPrompts(ctx context.Context, prompts <-chan *session.PromptRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-prompts:
			line, err := c.in.readLine("")
			if err != nil {
				req.Cancel()
				continue
			}
			req.Respond(line)
		}
	}
}

// List writes the document table.
func (c *Client) List() error {
	snap := c.store.Snapshot()
	tw := tabwriter.NewWriter(c.app.stdout, 0, 4, 2, ' ', 0)
	for i, d := range snap.Documents {
		mark := " "
		if d.ID == snap.ActiveID {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s %d\t%s\t%s\t%d\n", mark, i+1, d.Name, d.ID, len(d.Content))
	}
	return tw.Flush()
}

// Sandbox lists the files staged in the engine sandbox.
func (c *Client) Sandbox() error {
	entries, err := c.engine.Staged()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.app.stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Key, e.Checksum[:12], e.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// New creates a document. An empty name prompts for one.
func (c *Client) New(ctx context.Context, name string) (string, error) {
	var id string
	if name != "" {
		id = c.store.Create(name)
	} else {
		var err error
		if id, err = c.wb.CreateDocument(ctx); err != nil {
			return "", err
		}
		if id == "" {
			return "", nil
		}
	}
	fmt.Fprintln(c.app.stdout, id)
	return id, nil
}

// Remove deletes ref, confirming first when its content would be lost.
func (c *Client) Remove(ctx context.Context, ref string) error {
	d, err := c.Resolve(ref)
	if err != nil {
		return err
	}
	return c.wb.CloseDocument(ctx, d.ID)
}

// Select makes ref the selected document.
func (c *Client) Select(ref string) error {
	d, err := c.Resolve(ref)
	if err != nil {
		return err
	}
	c.store.Select(d.ID)
	return nil
}

// Put replaces the content of ref with everything read from r.
func (c *Client) Put(ref string, r io.Reader) error {
	d, err := c.Resolve(ref)
	if err != nil {
		return err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}
	c.store.Update(d.ID, string(content))
	return nil
}

// Show writes the content of ref.
func (c *Client) Show(ref string) error {
	d, err := c.Resolve(ref)
	if err != nil {
		return err
	}
	_, err = io.WriteString(c.app.stdout, d.Content)
	return err
}

// Rename renames ref.
func (c *Client) Rename(ref, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("rename: %w: empty name", apperr.ErrInvalidInput)
	}
	d, err := c.Resolve(ref)
	if err != nil {
		return err
	}
	c.store.Rename(d.ID, name)
	return nil
}

// Login logs in as identity and remembers it. A failed pull is reported
// but the identity is kept so later invocations retry.
func (c *Client) Login(ctx context.Context, identity string) error {
	err := c.wb.Login(ctx, identity)
	if err != nil && !errors.Is(err, apperr.ErrSyncFailure) {
		return err
	}
	if werr := c.fs.Write(IdentityKey, []byte(identity)); werr != nil {
		return fmt.Errorf("save identity: %w", werr)
	}
	if err != nil {
		c.logger.Warn("client: logged in without sync", slog.String("error", err.Error()))
	}
	return nil
}

// Logout clears the workspace and forgets the identity.
func (c *Client) Logout(ctx context.Context) error {
	ok, err := c.wb.Logout(ctx)
	if err != nil || !ok {
		return err
	}
	if err := c.fs.Delete(IdentityKey); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("forget identity: %w", err)
	}
	return nil
}

// ServeMCP exposes the workspace over MCP on stdio until stdin closes.
func (c *Client) ServeMCP(version string) error {
	return mcpserver.New(c.wb, version).ServeStdio()
}

// ServeTUI runs the terminal UI until the user quits. The client must be
// opened with WithTerminalUI.
func (c *Client) ServeTUI(ctx context.Context) error {
	if c.asker == nil {
		return fmt.Errorf("terminal UI not enabled")
	}
	return tui.Run(ctx, c.wb, c.asker)
}

func (c *Client) savedIdentity() string {
	data, err := c.fs.Read(IdentityKey)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// lineReader answers workbench questions from a line-oriented stream.
type lineReader struct {
	mu  sync.Mutex
	r   *bufio.Reader
	out io.Writer
}

func (l *lineReader) readLine(prompt string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prompt != "" {
		fmt.Fprint(l.out, prompt)
	}
	line, err := l.r.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (l *lineReader) PromptName(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := l.readLine("Name: ")
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	return line, err
}

func (l *lineReader) Confirm(ctx context.Context, msg string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	line, err := l.readLine(msg + " [y/N] ")
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

type assumeYes struct{}

func (assumeYes) Confirm(context.Context, string) (bool, error) { return true, nil }
