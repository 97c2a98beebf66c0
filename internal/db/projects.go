package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
)

type ProjectRepository struct {
	q dbtx
}

func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{q: db}
}

func (r *ProjectRepository) WithTx(tx *sql.Tx) *ProjectRepository {
	return &ProjectRepository{q: tx}
}

func (r *ProjectRepository) Create(ctx context.Context, p *models.Project, fileIDs []string) error {
	id, err := GenerateID("prj")
	if err != nil {
		return fmt.Errorf("generating project ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO projects (id, title, description, author_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, p.Title, p.Description, p.AuthorID, now,
	)
	if err != nil {
		return fmt.Errorf("creating project: %w", err)
	}

	for i, fileID := range fileIDs {
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO project_files (project_id, file_id, position) VALUES (?, ?, ?)`,
			id, fileID, i,
		); err != nil {
			return fmt.Errorf("linking project file: %w", err)
		}
	}

	p.ID = id
	p.CreatedAt = now
	return nil
}

func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := r.q.QueryRowContext(ctx,
		`SELECT id, title, description, author_id, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.Description, &p.AuthorID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+joinedFileColumns+`
		   FROM project_files pf
		   JOIN files f ON f.id = pf.file_id
		  WHERE pf.project_id = ?
		  ORDER BY pf.position`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying project files: %w", err)
	}
	defer rows.Close()

	p.Files = []*models.File{}
	for rows.Next() {
		var jf joinedFile
		if err := rows.Scan(jf.dest()...); err != nil {
			return nil, fmt.Errorf("scanning project file: %w", err)
		}
		p.Files = append(p.Files, jf.file())
	}
	return &p, rows.Err()
}
