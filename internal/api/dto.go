package api

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/runebook/internal/models"
)

// FileBody is one document in a PUT request.
type FileBody struct {
	ID             string    `json:"id" example:"3f2b..." validate:"required"`
	Name           string    `json:"name" example:"main.py" validate:"required"`
	Content        string    `json:"content" example:"print(\"Hello World!\")"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

// Validate validates a single file.
func (f FileBody) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.Name, validation.Required),
	)
}

// PutWorkspaceRequest is the request body for overwriting a workspace.
type PutWorkspaceRequest struct {
	Files        []FileBody `json:"files" validate:"required"`
	ActiveFileID string     `json:"activeFileId" example:"3f2b..."`
}

// Validate validates every file and rejects duplicate ids.
func (r PutWorkspaceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Files, validation.NotNil, validation.By(uniqueIDs)),
	)
}

func uniqueIDs(value interface{}) error {
	files, _ := value.([]FileBody)
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, ok := seen[f.ID]; ok {
			return errors.New("duplicate file id " + f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// Snapshot converts the request into the domain snapshot.
func (r PutWorkspaceRequest) Snapshot() models.Snapshot {
	docs := make([]models.Document, len(r.Files))
	for i, f := range r.Files {
		docs[i] = models.Document(f)
	}
	return models.Snapshot{Documents: docs, ActiveID: r.ActiveFileID}
}

// PutWorkspaceResponse is returned after a successful PUT.
type PutWorkspaceResponse struct {
	Checksum string `json:"checksum" example:"abc123..." validate:"required"`
	Changed  bool   `json:"changed" validate:"required"`
}
