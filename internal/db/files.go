package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
)

type FileRepository struct {
	q dbtx
}

func NewFileRepository(db *DB) *FileRepository {
	return &FileRepository{q: db}
}

func (r *FileRepository) WithTx(tx *sql.Tx) *FileRepository {
	return &FileRepository{q: tx}
}

const fileColumns = `id, public_id, url, folder, mime_type, size_bytes, uploaded_by, created_at`

// Create persists the descriptor of an uploaded remote object.
func (r *FileRepository) Create(ctx context.Context, f *models.File) error {
	id, err := GenerateID("fil")
	if err != nil {
		return fmt.Errorf("generating file ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, f.PublicID, f.URL, f.Folder, f.MimeType, f.SizeBytes, f.UploadedBy, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating file: %w", err)
	}

	f.ID = id
	f.CreatedAt = now
	return nil
}

func (r *FileRepository) FindByID(ctx context.Context, id string) (*models.File, error) {
	var f models.File
	err := r.q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id).Scan(
		&f.ID, &f.PublicID, &f.URL, &f.Folder, &f.MimeType, &f.SizeBytes, &f.UploadedBy, &f.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying file: %w", err)
	}
	return &f, nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return checkRowsAffected(result)
}

// joinedFile holds the nullable file columns produced by a LEFT JOIN.
type joinedFile struct {
	id, publicID, url, folder, mimeType, uploadedBy sql.NullString
	size                                            sql.NullInt64
	createdAt                                       sql.NullTime
}

func (j *joinedFile) dest() []any {
	return []any{&j.id, &j.publicID, &j.url, &j.folder, &j.mimeType, &j.size, &j.uploadedBy, &j.createdAt}
}

func (j *joinedFile) file() *models.File {
	if !j.id.Valid {
		return nil
	}
	return &models.File{
		ID:         j.id.String,
		PublicID:   j.publicID.String,
		URL:        j.url.String,
		Folder:     j.folder.String,
		MimeType:   j.mimeType.String,
		SizeBytes:  j.size.Int64,
		UploadedBy: j.uploadedBy.String,
		CreatedAt:  j.createdAt.Time,
	}
}

const joinedFileColumns = `f.id, f.public_id, f.url, f.folder, f.mime_type, f.size_bytes, f.uploaded_by, f.created_at`
