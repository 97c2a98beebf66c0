package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"storefront/internal/storage"
)

// MediaHandler serves objects held by the local-disk store. Remote stores
// hand out their own public URLs and never route here.
type MediaHandler struct {
	store *storage.LocalStore
}

func NewMediaHandler(store *storage.LocalStore) *MediaHandler {
	return &MediaHandler{store: store}
}

// GET /media/*
func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "*"))
	if key == "" {
		notFound(w, "Media not found")
		return
	}

	file, err := h.store.Open(key)
	if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		notFound(w, "Media not found")
		return
	}
	if err != nil {
		internalError(w)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		internalError(w)
		return
	}
	if info.IsDir() {
		notFound(w, "Media not found")
		return
	}

	name := path.Base(key)
	mimeType := mime.TypeByExtension(path.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// Keys are random per upload, so content under a key never changes.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", fmt.Sprintf("\"%s\"", name))
	w.Header().Set("Content-Type", mimeType)

	disposition := "attachment"
	if shouldRenderInline(mimeType) && !shouldForceDownload(r) {
		disposition = "inline"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=\"%s\"", disposition, sanitizeDispositionFilename(name)))

	http.ServeContent(w, r, name, info.ModTime(), file)
}

func sanitizeDispositionFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("\\", "", "\"", "", "\r", "", "\n", "").Replace(name)
	if name == "" {
		return "download"
	}
	return name
}

func shouldRenderInline(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "image/"),
		strings.HasPrefix(mimeType, "video/"),
		strings.HasPrefix(mimeType, "audio/"),
		mimeType == "application/pdf":
		// SVG is always served as a download.
		return mimeType != "image/svg+xml"
	}
	return false
}

func shouldForceDownload(r *http.Request) bool {
	force, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("download")))
	return err == nil && force
}
