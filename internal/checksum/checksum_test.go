package checksum

import (
	"testing"
	"time"

	"github.com/starford/runebook/internal/models"
)

func TestSum(t *testing.T) {
	got := Sum([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sum = %q, want %q", got, want)
	}
}

func TestSnapshot_TimezoneInsensitive(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := models.Snapshot{
		Documents: []models.Document{{ID: "1", Name: "a", LastModifiedAt: ts}},
		ActiveID:  "1",
	}
	b := a.Clone()
	b.Documents[0].LastModifiedAt = ts.In(time.FixedZone("X", 3600))
	if Snapshot(a) != Snapshot(b) {
		t.Error("equal instants in different zones should hash equally")
	}
}

func TestSnapshot_DetectsChanges(t *testing.T) {
	a := models.Snapshot{Documents: []models.Document{{ID: "1", Name: "a"}}, ActiveID: "1"}
	b := a.Clone()
	b.Documents[0].Content = "x"
	if Snapshot(a) == Snapshot(b) {
		t.Error("content change not detected")
	}
	c := a.Clone()
	c.ActiveID = "2"
	if Snapshot(a) == Snapshot(c) {
		t.Error("selection change not detected")
	}
}
