package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/constants"
	"storefront/internal/db"
	"storefront/internal/models"
	"storefront/internal/upload"
)

const maxProjectFiles = 10

type ProjectHandler struct {
	projects       *db.ProjectRepository
	assets         *assetStore
	maxUploadBytes int64
}

func NewProjectHandler(projects *db.ProjectRepository, assets *assetStore, maxUploadBytes int64) *ProjectHandler {
	return &ProjectHandler{projects: projects, assets: assets, maxUploadBytes: maxUploadBytes}
}

var projectFileTarget = upload.Target{Folder: constants.FolderProjectFiles, Class: upload.ClassAuto}

// POST /api/v1/projects (multipart: title, description, files...)
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)

	cleanup, ok := parseUploadForm(w, r, h.maxUploadBytes*maxProjectFiles)
	if !ok {
		return
	}
	defer cleanup()

	title := sanitizeText(r.FormValue("title"))
	if title == "" {
		badRequest(w, "title is required")
		return
	}
	description := sanitizeText(r.FormValue("description"))

	headers, err := formFiles(r, "files")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if len(headers) == 0 {
		badRequest(w, "at least one file is required")
		return
	}
	if len(headers) > maxProjectFiles {
		badRequest(w, "too many files")
		return
	}
	for _, fh := range headers {
		if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
			payloadTooLarge(w, "File exceeds maximum upload size")
			return
		}
	}

	// Files go up one after another so progress events stay ordered.
	descs := make([]*upload.Descriptor, 0, len(headers))
	for _, fh := range headers {
		desc, err := h.assets.send(r.Context(), fh, projectFileTarget, constants.EventFileProgress)
		if err != nil {
			h.assets.discardDescriptors(descs)
			writeUploadError(w, r, err)
			return
		}
		descs = append(descs, desc)
	}

	project := &models.Project{Title: title, Description: description, AuthorID: user.ID}
	files, err := h.assets.commit(r.Context(), user.ID, descs, func(tx *sql.Tx, files []*models.File) error {
		ids := make([]string, len(files))
		for i, f := range files {
			ids[i] = f.ID
		}
		return h.projects.WithTx(tx).Create(r.Context(), project, ids)
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	project.Files = files
	writeJSON(w, http.StatusCreated, project)
}

// GET /api/v1/projects/{id}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.FindByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Project not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}
