package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/db"
	"storefront/internal/models"
	"storefront/internal/upload"
)

const multipartMemoryBytes = 1 << 20

// assetStore relays uploaded form files to the object store and records
// them as files rows. New objects are deleted again when the metadata
// commit fails; replaced ones are removed only after the commit succeeds.
type assetStore struct {
	database *db.DB
	files    *db.FileRepository
	relay    *upload.Relay
	pending  sync.WaitGroup
}

func newAssetStore(database *db.DB, relay *upload.Relay) *assetStore {
	return &assetStore{
		database: database,
		files:    db.NewFileRepository(database),
		relay:    relay,
	}
}

// send relays one form file and publishes its progress under event.
func (s *assetStore) send(ctx context.Context, fh *multipart.FileHeader, target upload.Target, event string) (*upload.Descriptor, error) {
	asset, err := readAsset(fh)
	if err != nil {
		return nil, err
	}
	return s.relay.Send(ctx, asset, target, event)
}

// commit stores the descriptors as files rows and runs link in the same
// transaction. On failure the new remote objects are deleted.
func (s *assetStore) commit(
	ctx context.Context,
	uploadedBy string,
	descs []*upload.Descriptor,
	link func(tx *sql.Tx, files []*models.File) error,
) ([]*models.File, error) {
	var files []*models.File
	err := s.database.InTx(ctx, func(tx *sql.Tx) error {
		txFiles := s.files.WithTx(tx)
		files = make([]*models.File, 0, len(descs))
		for _, desc := range descs {
			f := fileFromDescriptor(desc, uploadedBy)
			if err := txFiles.Create(ctx, f); err != nil {
				return fmt.Errorf("recording file: %w", err)
			}
			files = append(files, f)
		}
		return link(tx, files)
	})
	if err != nil {
		s.discardDescriptors(descs)
		return nil, err
	}
	return files, nil
}

func (s *assetStore) discardDescriptors(descs []*upload.Descriptor) {
	for _, desc := range descs {
		s.relay.DeleteBestEffort(desc.PublicID)
	}
}

// discard removes a replaced file's row and remote object in the
// background. Failures are only logged.
func (s *assetStore) discard(old *models.File) {
	if old == nil || old.ID == "" {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.files.Delete(ctx, old.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
			slog.Warn("error deleting replaced file record", "component", "assets", "error", err, "file_id", old.ID)
		}
		s.relay.DeleteBestEffort(old.PublicID)
	}()
}

// wait blocks until every background discard has finished.
func (s *assetStore) wait() {
	s.pending.Wait()
}

func fileFromDescriptor(desc *upload.Descriptor, uploadedBy string) *models.File {
	return &models.File{
		PublicID:   desc.PublicID,
		URL:        desc.URL,
		Folder:     desc.Folder,
		MimeType:   desc.MimeType,
		SizeBytes:  desc.SizeBytes,
		UploadedBy: uploadedBy,
	}
}

func readAsset(fh *multipart.FileHeader) (upload.Asset, error) {
	f, err := fh.Open()
	if err != nil {
		return upload.Asset{}, fmt.Errorf("opening form file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return upload.Asset{}, fmt.Errorf("reading form file: %w", err)
	}
	return upload.Asset{
		Name:     fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

// parseUploadForm parses a multipart body bounded by maxBytes. The returned
// cleanup removes any temp files the parser spilled to disk.
func parseUploadForm(w http.ResponseWriter, r *http.Request, maxBytes int64) (func(), bool) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		if isBodyTooLargeError(err) {
			payloadTooLarge(w, "File exceeds maximum upload size")
		} else {
			badRequest(w, "Invalid multipart upload")
		}
		return func() {}, false
	}

	return func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}, true
}

// formFiles returns the files posted under field, rejecting nameless parts.
func formFiles(r *http.Request, field string) ([]*multipart.FileHeader, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File[field]
	for _, fh := range headers {
		if fh == nil || strings.TrimSpace(fh.Filename) == "" {
			return nil, apperr.New(apperr.ValidationFailed, "File name is required")
		}
	}
	return headers, nil
}

// formFile returns the single file posted under field, or nil.
func formFile(r *http.Request, field string) (*multipart.FileHeader, error) {
	headers, err := formFiles(r, field)
	if err != nil || len(headers) == 0 {
		return nil, err
	}
	if len(headers) > 1 {
		return nil, apperr.New(apperr.ValidationFailed, fmt.Sprintf("only one %s file is allowed", field))
	}
	return headers[0], nil
}

func isBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "request body too large")
}

// writeUploadError reports relay failures, giving executable and type
// rejections their own messages.
func writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, upload.ErrExecutableFile):
		badRequest(w, "Executable files are not allowed")
	case errors.Is(err, upload.ErrDisallowedType):
		badRequest(w, "Unsupported file type")
	default:
		writeAppError(w, r, err)
	}
}
