package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/remotestore"
	"github.com/starford/runebook/internal/sse"
)

// Handler holds API route handlers.
type Handler struct {
	db     remotestore.Store
	broker *sse.Broker
}

// NewHandler creates a new Handler. broker may be nil.
func NewHandler(db remotestore.Store, broker *sse.Broker) *Handler {
	return &Handler{db: db, broker: broker}
}

// GetWorkspace handles GET /api/workspaces/{identity}.
//
//	@Summary		Get the stored workspace blob
//	@Tags			workspaces
//	@Produce		json
//	@Param			identity	path		string	true	"Identity"
//	@Success		200			{object}	PutWorkspaceRequest
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/workspaces/{identity} [get]
func (h *Handler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	rec, err := h.db.Get(identity)
	if err != nil {
		writeStoreError(w, "get workspace", identity, err)
		return
	}
	setETag(w, rec.Checksum)
	writeJSON(w, http.StatusOK, rec.Snapshot)
}

// PutWorkspace handles PUT /api/workspaces/{identity}.
//
//	@Summary		Overwrite the workspace blob
//	@Tags			workspaces
//	@Accept			json
//	@Produce		json
//	@Param			identity	path		string				true	"Identity"
//	@Param			If-Match	header		string				false	"Checksum for optimistic concurrency"
//	@Param			body		body		PutWorkspaceRequest	true	"Workspace blob"
//	@Success		200			{object}	PutWorkspaceResponse
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/workspaces/{identity} [put]
func (h *Handler) PutWorkspace(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	identity := chi.URLParam(r, "identity")

	var req PutWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" {
		current, err := h.db.Get(identity)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
			return
		case err != nil:
			writeStoreError(w, "put workspace", identity, err)
			return
		case current.Checksum != ifMatch:
			writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
			return
		}
	}

	rec, changed, err := h.db.Put(identity, req.Snapshot())
	if err != nil {
		writeStoreError(w, "put workspace", identity, err)
		return
	}
	if changed && h.broker != nil {
		h.broker.PublishWorkspace(identity, rec.Checksum, rec.Snapshot)
	}
	setETag(w, rec.Checksum)
	writeJSON(w, http.StatusOK, PutWorkspaceResponse{Checksum: rec.Checksum, Changed: changed})
}

// DeleteWorkspace handles DELETE /api/workspaces/{identity}.
//
//	@Summary		Delete the workspace blob
//	@Tags			workspaces
//	@Param			identity	path	string	true	"Identity"
//	@Success		204			"Workspace deleted"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/workspaces/{identity} [delete]
func (h *Handler) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if err := h.db.Delete(identity); err != nil {
		writeStoreError(w, "delete workspace", identity, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WatchWorkspace handles GET /api/workspaces/{identity}/events. The stream
// opens with the stored workspace, if any, then carries every change.
//
//	@Summary		Stream workspace changes
//	@Tags			workspaces
//	@Produce		text/event-stream
//	@Param			identity	path	string	true	"Identity"
//	@Success		200			"workspace.updated events"
//	@Security		BearerAuth
//	@Router			/workspaces/{identity}/events [get]
func (h *Handler) WatchWorkspace(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	h.broker.Stream(w, r, identity, func() (sse.Event, bool) {
		rec, err := h.db.Get(identity)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				slog.Error("watch workspace: load failed", slog.String("identity", identity), slog.String("error", err.Error()))
			}
			return sse.Event{}, false
		}
		return sse.WorkspaceEvent(identity, rec.Checksum, rec.Snapshot), true
	})
}
