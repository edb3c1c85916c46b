package remotesync

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/starford/runebook/internal/api"
	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/models"
	"github.com/starford/runebook/internal/sse"
	"github.com/starford/runebook/internal/testutil"
)

// testServer starts the remote document store API under /api.
func testServer(t *testing.T, tokens map[string]string) (*httptest.Server, *sse.Broker) {
	t.Helper()
	db := testutil.TestDB(t)
	broker := sse.NewBroker(time.Minute)
	r := chi.NewRouter()
	r.Mount("/api", api.NewRouter(db, broker, tokens != nil, tokens))
	srv := httptest.NewServer(r)
	t.Cleanup(broker.Close)
	t.Cleanup(srv.Close)
	return srv, broker
}

func httpRemote(t *testing.T, url, token string) *HTTPRemote {
	t.Helper()
	r := NewHTTPRemote(url, token, 5*time.Second)
	t.Cleanup(r.Close)
	return r
}

func TestHTTPRemote_FetchStore(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := httpRemote(t, srv.URL, "")
	ctx := context.Background()

	got, err := r.Fetch(ctx, "ada")
	if err != nil || got != nil {
		t.Fatalf("Fetch on empty remote = %v, %v", got, err)
	}

	snap := models.Snapshot{
		Documents: []models.Document{doc("a", "main.py", `print("Hello World!")`, t0)},
		ActiveID:  "a",
	}
	if err := r.Store(ctx, "ada", snap); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err = r.Fetch(ctx, "ada")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if diff := cmp.Diff(snap, *got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestHTTPRemote_StoreRejectsInvalid(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := httpRemote(t, srv.URL, "")
	err := r.Store(context.Background(), "ada", models.Snapshot{
		Documents: []models.Document{{ID: "", Name: "main.py"}},
	})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v, want 400", err)
	}
}

func TestHTTPRemote_Auth(t *testing.T) {
	srv, _ := testServer(t, map[string]string{"tok-ada": "ada"})

	if _, err := httpRemote(t, srv.URL, "wrong").Fetch(context.Background(), "ada"); err == nil {
		t.Error("expected error for unknown token")
	}
	if _, err := httpRemote(t, srv.URL, "tok-ada").Fetch(context.Background(), "grace"); err == nil {
		t.Error("expected error for another identity")
	}
	if _, err := httpRemote(t, srv.URL, "tok-ada").Fetch(context.Background(), "ada"); err != nil {
		t.Errorf("own identity: %v", err)
	}

	store := localStore()
	s := newSync(t, httpRemote(t, srv.URL, "wrong"), store)
	if err := s.Login(context.Background(), "ada"); !errors.Is(err, apperr.ErrSyncFailure) {
		t.Errorf("Login err = %v, want ErrSyncFailure", err)
	}
}

func TestHTTPRemote_WatchDeliversUpdates(t *testing.T) {
	srv, broker := testServer(t, nil)
	r := httpRemote(t, srv.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan models.Snapshot, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.Watch(ctx, "ada", func(s models.Snapshot) { got <- s })
	}()
	eventually(t, func() bool { return broker.ClientCount() == 1 })

	snap := models.Snapshot{Documents: []models.Document{doc("a", "main.py", "x", t0)}, ActiveID: "a"}
	if err := r.Store(context.Background(), "ada", snap); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-got:
		if diff := cmp.Diff(snap, s); diff != "" {
			t.Errorf("event snapshot (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Watch returned %v, want context.Canceled", err)
	}
}

func TestHTTPRemote_WatchStartsWithStoredSnapshot(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := httpRemote(t, srv.URL, "")

	snap := models.Snapshot{Documents: []models.Document{doc("a", "main.py", "stored", t0)}, ActiveID: "a"}
	if err := r.Store(context.Background(), "ada", snap); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan models.Snapshot, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.Watch(ctx, "ada", func(s models.Snapshot) {
			select {
			case got <- s:
			default:
			}
		})
	}()

	select {
	case s := <-got:
		if diff := cmp.Diff(snap, s); diff != "" {
			t.Errorf("first event (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not start with the stored snapshot")
	}
	cancel()
	<-done
}

// Two devices logged in as the same identity converge through the server.
func TestSync_TwoClientsConverge(t *testing.T) {
	srv, broker := testServer(t, nil)
	ctx := context.Background()

	storeA := localStore(doc("a", "main.py", "v1", t0))
	syncA := newSync(t, httpRemote(t, srv.URL, ""), storeA)
	syncA.Attach(storeA)
	if err := syncA.Login(ctx, "ada"); err != nil {
		t.Fatalf("login A: %v", err)
	}

	storeB := localStore()
	syncB := newSync(t, httpRemote(t, srv.URL, ""), storeB)
	syncB.Attach(storeB)
	if err := syncB.Login(ctx, "ada"); err != nil {
		t.Fatalf("login B: %v", err)
	}
	if diff := cmp.Diff(storeA.Documents(), storeB.Documents()); diff != "" {
		t.Fatalf("B after login (-A +B):\n%s", diff)
	}
	eventually(t, func() bool { return broker.ClientCount() == 2 })

	storeA.Update("a", "v2")
	eventually(t, func() bool {
		d, _ := storeB.Get("a")
		return d.Content == "v2"
	})

	id := storeB.Create("util.py")
	eventually(t, func() bool {
		_, ok := storeA.Get(id)
		return ok && storeA.Len() == 2
	})
}

func TestReadEvents(t *testing.T) {
	stream := ": keepalive\n\n" +
		"event: workspace.updated\n" +
		"data: {\"a\":\r\n" +
		"data: 1}\n\n" +
		"event: other\n\n"
	var got []string
	err := readEvents(strings.NewReader(stream), func(event, data string) {
		got = append(got, event+"|"+data)
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"workspace.updated|{\"a\":\n1}", "other|"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}
