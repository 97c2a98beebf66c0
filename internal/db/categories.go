package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
)

type CategoryRepository struct {
	q dbtx
}

func NewCategoryRepository(db *DB) *CategoryRepository {
	return &CategoryRepository{q: db}
}

func (r *CategoryRepository) WithTx(tx *sql.Tx) *CategoryRepository {
	return &CategoryRepository{q: tx}
}

func (r *CategoryRepository) Create(ctx context.Context, title, iconFileID, authorID string) (*models.Category, error) {
	id, err := GenerateID("cat")
	if err != nil {
		return nil, fmt.Errorf("generating category ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO categories (id, title, icon_file_id, author_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, iconFileID, authorID, now, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating category: %w", err)
	}

	return &models.Category{
		ID:         id,
		Title:      title,
		IconFileID: iconFileID,
		AuthorID:   authorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (r *CategoryRepository) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories WHERE title = ?`, title).Scan(&n); err != nil {
		return false, fmt.Errorf("checking category title: %w", err)
	}
	return n > 0, nil
}

// FindByID loads a category with its icon joined in.
func (r *CategoryRepository) FindByID(ctx context.Context, id string) (*models.Category, error) {
	row := r.q.QueryRowContext(ctx, categorySelect+` WHERE c.id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (r *CategoryRepository) List(ctx context.Context) ([]*models.Category, error) {
	rows, err := r.q.QueryContext(ctx, categorySelect+` ORDER BY c.title`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Update sets the title and, when iconFileID is non-empty, the icon.
func (r *CategoryRepository) Update(ctx context.Context, id, title, iconFileID string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE categories
		    SET title = COALESCE(NULLIF(?, ''), title),
		        icon_file_id = COALESCE(NULLIF(?, ''), icon_file_id),
		        updated_at = ?
		  WHERE id = ?`,
		title, iconFileID, time.Now().UTC(), id,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("updating category: %w", err)
	}
	return checkRowsAffected(result)
}

const categorySelect = `SELECT c.id, c.title, c.icon_file_id, c.author_id, c.created_at, c.updated_at, ` + joinedFileColumns + `
	FROM categories c
	LEFT JOIN files f ON f.id = c.icon_file_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*models.Category, error) {
	var (
		c    models.Category
		icon joinedFile
	)
	dest := append([]any{&c.ID, &c.Title, &c.IconFileID, &c.AuthorID, &c.CreatedAt, &c.UpdatedAt}, icon.dest()...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning category: %w", err)
	}
	c.Icon = icon.file()
	return &c, nil
}
