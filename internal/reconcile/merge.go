// Package reconcile merges a remote document set into the local one using
// per-document last-writer-wins timestamps.
package reconcile

import "github.com/starford/runebook/internal/models"

// Merge combines local and remote into one consistent set.
//
// Documents present on both sides resolve to the copy with the strictly later
// LastModifiedAt; ties keep the local copy. Remote documents keep remote order.
// Local-only documents are appended in local order, except untouched
// placeholders, which are dropped once the remote holds any document.
// An empty result is replaced by a fresh placeholder from tmpl.
//
// Neither input is modified.
func Merge(local, remote []models.Document, tmpl models.Template) []models.Document {
	localByID := make(map[string]models.Document, len(local))
	for _, d := range local {
		if _, dup := localByID[d.ID]; !dup {
			localByID[d.ID] = d
		}
	}

	out := make([]models.Document, 0, len(local)+len(remote))
	seen := make(map[string]struct{}, len(local)+len(remote))

	for _, r := range remote {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		if l, ok := localByID[r.ID]; ok && !r.LastModifiedAt.After(l.LastModifiedAt) {
			out = append(out, l)
			continue
		}
		out = append(out, r)
	}

	dropPlaceholders := len(remote) > 0
	for _, l := range local {
		if _, done := seen[l.ID]; done {
			continue
		}
		seen[l.ID] = struct{}{}
		if dropPlaceholders && tmpl.IsPlaceholder(l) {
			continue
		}
		out = append(out, l)
	}

	if len(out) == 0 {
		return []models.Document{tmpl.New()}
	}
	return out
}

// Active picks the selection for a merged set: the local selection if it
// survived, else the remote one, else the first document.
func Active(merged []models.Document, localActive, remoteActive string) string {
	var first string
	hasRemote := false
	for i, d := range merged {
		if i == 0 {
			first = d.ID
		}
		if d.ID == localActive {
			return localActive
		}
		if d.ID == remoteActive {
			hasRemote = true
		}
	}
	if hasRemote {
		return remoteActive
	}
	return first
}

// Snapshots merges two snapshots, selection included.
func Snapshots(local, remote models.Snapshot, tmpl models.Template) models.Snapshot {
	merged := Merge(local.Documents, remote.Documents, tmpl)
	return models.Snapshot{
		Documents: merged,
		ActiveID:  Active(merged, local.ActiveID, remote.ActiveID),
	}
}
