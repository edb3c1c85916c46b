package remotesync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/runebook/internal/models"
	"github.com/starford/runebook/internal/sse"
)

// HTTPRemote talks to the remote document store REST API.
type HTTPRemote struct {
	baseURL string
	token   string
	client  *http.Client
	stream  *http.Client
}

// NewHTTPRemote creates a remote for baseURL (e.g. "http://localhost:8080").
// token, if non-empty, is sent as a Bearer token. timeout bounds plain
// requests; the event stream is unbounded.
func NewHTTPRemote(baseURL, token string, timeout time.Duration) *HTTPRemote {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout, Transport: transport},
		stream:  &http.Client{Timeout: 0, Transport: transport},
	}
}

// Close releases idle connections.
func (r *HTTPRemote) Close() {
	r.client.CloseIdleConnections()
}

func (r *HTTPRemote) url(identity, suffix string) string {
	return r.baseURL + "/api/workspaces/" + url.PathEscape(identity) + suffix
}

func (r *HTTPRemote) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return req, nil
}

// Fetch implements Remote.
func (r *HTTPRemote) Fetch(ctx context.Context, identity string) (*models.Snapshot, error) {
	req, err := r.newRequest(ctx, http.MethodGet, r.url(identity, ""), nil)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, statusError("fetch", resp)
	}
	var snap models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("remote: fetch: decode: %w", err)
	}
	return &snap, nil
}

// Store implements Remote.
func (r *HTTPRemote) Store(ctx context.Context, identity string, snap models.Snapshot) error {
	if snap.Documents == nil {
		snap.Documents = []models.Document{}
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("remote: store: encode: %w", err)
	}
	req, err := r.newRequest(ctx, http.MethodPut, r.url(identity, ""), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote: store: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: store: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("store", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Watch implements Remote by reading the workspace event stream.
func (r *HTTPRemote) Watch(ctx context.Context, identity string, fn func(models.Snapshot)) error {
	req, err := r.newRequest(ctx, http.MethodGet, r.url(identity, "/events"), nil)
	if err != nil {
		return fmt.Errorf("remote: watch: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.stream.Do(req)
	if err != nil {
		return fmt.Errorf("remote: watch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("watch", resp)
	}

	err = readEvents(resp.Body, func(event, data string) {
		if event != sse.EventWorkspaceUpdated {
			return
		}
		var payload sse.WorkspacePayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return
		}
		fn(payload.Workspace)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = io.EOF
	}
	return fmt.Errorf("remote: watch: %w", err)
}

// readEvents parses a text/event-stream body and calls fn for each complete
// event. Comment lines are skipped. It returns nil at end of stream.
func readEvents(body io.Reader, fn func(event, data string)) error {
	reader := bufio.NewReader(body)
	var (
		event string
		data  strings.Builder
	)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		switch {
		case line == "":
			// Empty line = end of event, dispatch if we have data.
			if event != "" || data.Len() > 0 {
				fn(event, data.String())
				event = ""
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// Keepalive comment.
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("remote: %s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
}
