package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/apperr"
	"storefront/internal/constants"
	"storefront/internal/db"
	"storefront/internal/models"
	"storefront/internal/upload"
)

type ServiceHandler struct {
	services       *db.ServiceRepository
	assets         *assetStore
	maxUploadBytes int64
}

func NewServiceHandler(services *db.ServiceRepository, assets *assetStore, maxUploadBytes int64) *ServiceHandler {
	return &ServiceHandler{services: services, assets: assets, maxUploadBytes: maxUploadBytes}
}

var serviceIconTarget = upload.Target{Folder: constants.FolderServiceIcons, Class: upload.ClassImage}

type PackageRequest struct {
	Title        string `json:"title" validate:"required,max=120"`
	PriceCents   int64  `json:"priceCents" validate:"gte=0"`
	DeliveryDays int    `json:"deliveryDays" validate:"gte=1"`
	Revisions    int    `json:"revisions" validate:"gte=0"`
}

// CreateServiceRequest is the non-file part of the service form. Packages
// arrives as a JSON object keyed by tier.
type CreateServiceRequest struct {
	Title       string                     `validate:"required,max=200"`
	Description string                     `validate:"max=5000"`
	CategoryID  string                     `validate:"required"`
	Packages    map[string]*PackageRequest `validate:"required,min=1,dive,keys,oneof=basic standard premium,endkeys,required"`
}

// GET /api/v1/services
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	services, err := h.services.List(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

// GET /api/v1/services/{id}
func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	service, err := h.services.FindByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Service not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, service)
}

// POST /api/v1/services (multipart: title, description, categoryId, packages, icon)
func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)

	cleanup, ok := parseUploadForm(w, r, h.maxUploadBytes)
	if !ok {
		return
	}
	defer cleanup()

	req := CreateServiceRequest{
		Title:       sanitizeText(r.FormValue("title")),
		Description: sanitizeText(r.FormValue("description")),
		CategoryID:  r.FormValue("categoryId"),
	}
	if raw := r.FormValue("packages"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Packages); err != nil {
			badRequest(w, "packages must be a JSON object keyed by tier")
			return
		}
	}
	if err := validateStruct(&req); err != nil {
		badRequest(w, err.Error())
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

	desc, err := h.assets.send(r.Context(), icon, serviceIconTarget, constants.EventServiceIconProgress)
	if err != nil {
		writeUploadError(w, r, err)
		return
	}

	service := &models.Service{
		Title:       req.Title,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		AuthorID:    user.ID,
		Packages:    make(map[models.Tier]*models.ServicePackage, len(req.Packages)),
	}
	for tier, pkg := range req.Packages {
		t := models.Tier(tier)
		service.Packages[t] = &models.ServicePackage{
			Tier:         t,
			Title:        sanitizeText(pkg.Title),
			PriceCents:   pkg.PriceCents,
			DeliveryDays: pkg.DeliveryDays,
			Revisions:    pkg.Revisions,
		}
	}

	files, err := h.assets.commit(r.Context(), user.ID, []*upload.Descriptor{desc}, func(tx *sql.Tx, files []*models.File) error {
		service.IconFileID = files[0].ID
		return h.services.WithTx(tx).Create(r.Context(), service)
	})
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Category not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	service.Icon = files[0]
	writeJSON(w, http.StatusCreated, service)
}

// PATCH /api/v1/services/{id}/icon (multipart: icon)
func (h *ServiceHandler) UpdateIcon(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)
	id := chi.URLParam(r, "id")

	cleanup, ok := parseUploadForm(w, r, h.maxUploadBytes)
	if !ok {
		return
	}
	defer cleanup()

	existing, err := h.services.FindByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Service not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
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

	desc, err := h.assets.send(r.Context(), icon, serviceIconTarget, constants.EventServiceIconProgress)
	if err != nil {
		writeUploadError(w, r, err)
		return
	}

	files, err := h.assets.commit(r.Context(), user.ID, []*upload.Descriptor{desc}, func(tx *sql.Tx, files []*models.File) error {
		err := h.services.WithTx(tx).SetIcon(r.Context(), id, files[0].ID)
		if errors.Is(err, db.ErrNotFound) {
			return apperr.New(apperr.NotFound, "Service not found")
		}
		if err != nil {
			return fmt.Errorf("setting service icon: %w", err)
		}
		return nil
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	h.assets.discard(existing.Icon)

	existing.IconFileID = files[0].ID
	existing.Icon = files[0]
	writeJSON(w, http.StatusOK, existing)
}
