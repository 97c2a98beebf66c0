package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/apperr"
	"storefront/internal/constants"
	"storefront/internal/db"
	"storefront/internal/models"
	"storefront/internal/upload"
)

type CategoryHandler struct {
	categories     *db.CategoryRepository
	assets         *assetStore
	maxUploadBytes int64
}

func NewCategoryHandler(categories *db.CategoryRepository, assets *assetStore, maxUploadBytes int64) *CategoryHandler {
	return &CategoryHandler{categories: categories, assets: assets, maxUploadBytes: maxUploadBytes}
}

var categoryIconTarget = upload.Target{Folder: constants.FolderCategoryIcons, Class: upload.ClassImage}

// GET /api/v1/categories
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	categories, err := h.categories.List(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if categories == nil {
		categories = []*models.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

// GET /api/v1/categories/{id}
func (h *CategoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	category, err := h.categories.FindByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Category not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

// POST /api/v1/categories (multipart: title, icon)
func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)

	cleanup, ok := parseUploadForm(w, r, h.maxUploadBytes)
	if !ok {
		return
	}
	defer cleanup()

	title := sanitizeText(r.FormValue("title"))
	if title == "" {
		badRequest(w, "title is required")
		return
	}
	icon, err := formFile(r, "icon")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if icon == nil {
		badRequest(w, "icon is required")
		return
	}

	exists, err := h.categories.ExistsByTitle(r.Context(), title)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if exists {
		writeAppError(w, r, apperr.New(apperr.Conflict, "Category already exists"))
		return
	}

	desc, err := h.assets.send(r.Context(), icon, categoryIconTarget, constants.EventCategoryIconProgress)
	if err != nil {
		writeUploadError(w, r, err)
		return
	}

	var category *models.Category
	files, err := h.assets.commit(r.Context(), user.ID, []*upload.Descriptor{desc}, func(tx *sql.Tx, files []*models.File) error {
		var err error
		category, err = h.categories.WithTx(tx).Create(r.Context(), title, files[0].ID, user.ID)
		return err
	})
	if errors.Is(err, db.ErrDuplicate) {
		writeAppError(w, r, apperr.New(apperr.Conflict, "Category already exists"))
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	category.Icon = files[0]
	writeJSON(w, http.StatusCreated, category)
}

// PATCH /api/v1/categories/{id} (multipart: title?, icon?)
func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)
	id := chi.URLParam(r, "id")

	cleanup, ok := parseUploadForm(w, r, h.maxUploadBytes)
	if !ok {
		return
	}
	defer cleanup()

	existing, err := h.categories.FindByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Category not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	title := sanitizeText(r.FormValue("title"))
	icon, err := formFile(r, "icon")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if title == "" && icon == nil {
		badRequest(w, "title or icon is required")
		return
	}

	if icon == nil {
		if err := h.update(r.Context(), h.categories, id, title, ""); err != nil {
			writeAppError(w, r, err)
			return
		}
	} else {
		desc, err := h.assets.send(r.Context(), icon, categoryIconTarget, constants.EventCategoryIconProgress)
		if err != nil {
			writeUploadError(w, r, err)
			return
		}
		_, err = h.assets.commit(r.Context(), user.ID, []*upload.Descriptor{desc}, func(tx *sql.Tx, files []*models.File) error {
			return h.update(r.Context(), h.categories.WithTx(tx), id, title, files[0].ID)
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		h.assets.discard(existing.Icon)
	}

	updated, err := h.categories.FindByID(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *CategoryHandler) update(ctx context.Context, repo *db.CategoryRepository, id, title, iconFileID string) error {
	err := repo.Update(ctx, id, title, iconFileID)
	switch {
	case errors.Is(err, db.ErrDuplicate):
		return apperr.New(apperr.Conflict, "Category already exists")
	case errors.Is(err, db.ErrNotFound):
		return apperr.New(apperr.NotFound, "Category not found")
	}
	return err
}
