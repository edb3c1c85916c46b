package reconcile

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/runebook/internal/models"
)

var (
	t0   = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	tmpl = models.DefaultTemplate()
)

func doc(id, name, content string, at time.Time) models.Document {
	return models.Document{ID: id, Name: name, Content: content, LastModifiedAt: at}
}

func TestMerge_RemoteNewerWins(t *testing.T) {
	local := []models.Document{doc("a", "main.py", "old", t0)}
	remote := []models.Document{doc("a", "main.py", "new", t0.Add(time.Second))}

	got := Merge(local, remote, tmpl)
	if diff := cmp.Diff(remote, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_LocalNewerWins(t *testing.T) {
	local := []models.Document{doc("a", "main.py", "mine", t0.Add(time.Minute))}
	remote := []models.Document{doc("a", "main.py", "theirs", t0)}

	got := Merge(local, remote, tmpl)
	if diff := cmp.Diff(local, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_TieFavorsLocal(t *testing.T) {
	local := []models.Document{doc("a", "main.py", "mine", t0)}
	remote := []models.Document{doc("a", "main.py", "theirs", t0)}

	got := Merge(local, remote, tmpl)
	if got[0].Content != "mine" {
		t.Errorf("tie picked %q, want local copy", got[0].Content)
	}
}

func TestMerge_LocalOnlySurvivesAndIsAppended(t *testing.T) {
	local := []models.Document{
		doc("offline", "draft.py", "x = 1", t0),
		doc("a", "main.py", "v1", t0),
	}
	remote := []models.Document{
		doc("b", "lib.py", "lib", t0),
		doc("a", "main.py", "v2", t0.Add(time.Hour)),
	}

	got := Merge(local, remote, tmpl)
	want := []models.Document{remote[0], remote[1], local[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_PlaceholderDroppedWhenRemoteHasData(t *testing.T) {
	local := []models.Document{doc("p", tmpl.Name, tmpl.Content, t0)}
	remote := []models.Document{doc("r", "work.py", "real", t0)}

	got := Merge(local, remote, tmpl)
	if diff := cmp.Diff(remote, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
}

// A user document identical to the template is indistinguishable from the
// placeholder and is dropped as well.
func TestMerge_PlaceholderLookalikeIsDropped(t *testing.T) {
	local := []models.Document{
		doc("typed", tmpl.Name, tmpl.Content, t0.Add(time.Hour)),
		doc("kept", tmpl.Name, "edited", t0),
	}
	remote := []models.Document{doc("r", "work.py", "real", t0)}

	got := Merge(local, remote, tmpl)
	if len(got) != 2 || got[0].ID != "r" || got[1].ID != "kept" {
		t.Errorf("unexpected merge result: %+v", got)
	}
}

func TestMerge_PlaceholderKeptWhenRemoteEmpty(t *testing.T) {
	local := []models.Document{doc("p", tmpl.Name, tmpl.Content, t0)}

	got := Merge(local, nil, tmpl)
	if diff := cmp.Diff(local, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_EmptyYieldsFreshDefault(t *testing.T) {
	got := Merge(nil, nil, tmpl)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if !tmpl.IsPlaceholder(got[0]) || got[0].ID == "" || got[0].LastModifiedAt.IsZero() {
		t.Errorf("unexpected default document: %+v", got[0])
	}
}

func TestMerge_DuplicateRemoteIDsCollapse(t *testing.T) {
	remote := []models.Document{
		doc("a", "one.py", "first", t0),
		doc("a", "two.py", "second", t0.Add(time.Hour)),
	}
	got := Merge(nil, remote, tmpl)
	if len(got) != 1 || got[0].Content != "first" {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	x := []models.Document{
		doc("a", "main.py", "a", t0),
		doc("b", "util.py", "b", t0.Add(time.Minute)),
		doc("p", tmpl.Name, tmpl.Content, t0),
	}
	if diff := cmp.Diff(x, Merge(x, x, tmpl)); diff != "" {
		t.Errorf("Merge(X, X) != X (-want +got):\n%s", diff)
	}

	a := []models.Document{
		doc("a", "main.py", "local", t0.Add(time.Hour)),
		doc("c", "offline.py", "c", t0),
		doc("p", tmpl.Name, tmpl.Content, t0),
	}
	b := []models.Document{
		doc("a", "main.py", "remote", t0),
		doc("b", "util.py", "b", t0),
	}
	once := Merge(a, b, tmpl)
	twice := Merge(once, b, tmpl)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("Merge(Merge(A,B),B) != Merge(A,B) (-want +got):\n%s", diff)
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	local := []models.Document{doc("a", "main.py", "l", t0)}
	remote := []models.Document{doc("a", "main.py", "r", t0.Add(time.Second))}
	localCopy := models.CloneDocuments(local)
	remoteCopy := models.CloneDocuments(remote)

	_ = Merge(local, remote, tmpl)

	if diff := cmp.Diff(localCopy, local); diff != "" {
		t.Errorf("local mutated:\n%s", diff)
	}
	if diff := cmp.Diff(remoteCopy, remote); diff != "" {
		t.Errorf("remote mutated:\n%s", diff)
	}
}

func TestActive(t *testing.T) {
	merged := []models.Document{doc("a", "", "", t0), doc("b", "", "", t0)}

	tests := []struct {
		name          string
		local, remote string
		want          string
	}{
		{"local survives", "b", "a", "b"},
		{"local gone, remote present", "x", "a", "a"},
		{"neither present", "x", "y", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Active(merged, tt.local, tt.remote); got != tt.want {
				t.Errorf("Active = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnapshots(t *testing.T) {
	local := models.Snapshot{
		Documents: []models.Document{doc("l", "local.py", "", t0)},
		ActiveID:  "l",
	}
	remote := models.Snapshot{
		Documents: []models.Document{doc("r", "remote.py", "", t0)},
		ActiveID:  "r",
	}
	got := Snapshots(local, remote, tmpl)
	if len(got.Documents) != 2 || got.ActiveID != "l" {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}
