package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
)

type ServiceRepository struct {
	q dbtx
}

func NewServiceRepository(db *DB) *ServiceRepository {
	return &ServiceRepository{q: db}
}

func (r *ServiceRepository) WithTx(tx *sql.Tx) *ServiceRepository {
	return &ServiceRepository{q: tx}
}

// Create inserts the service and its tier packages. Callers run it inside a
// transaction so a bad package leaves no half-written service.
func (r *ServiceRepository) Create(ctx context.Context, s *models.Service) error {
	id, err := GenerateID("svc")
	if err != nil {
		return fmt.Errorf("generating service ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO services (id, title, description, category_id, icon_file_id, author_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.Title, s.Description, s.CategoryID, s.IconFileID, s.AuthorID, now, now,
	)
	if err != nil {
		if IsForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("creating service: %w", err)
	}

	for _, tier := range models.Tiers {
		pkg, ok := s.Packages[tier]
		if !ok {
			continue
		}
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO service_packages (service_id, tier, title, price_cents, delivery_days, revisions) VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(tier), pkg.Title, pkg.PriceCents, pkg.DeliveryDays, pkg.Revisions,
		)
		if err != nil {
			return fmt.Errorf("creating %s package: %w", tier, err)
		}
	}

	s.ID = id
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

func (r *ServiceRepository) FindByID(ctx context.Context, id string) (*models.Service, error) {
	var (
		s    models.Service
		icon joinedFile
	)
	dest := append([]any{&s.ID, &s.Title, &s.Description, &s.CategoryID, &s.IconFileID, &s.AuthorID, &s.CreatedAt, &s.UpdatedAt}, icon.dest()...)
	err := r.q.QueryRowContext(ctx,
		`SELECT s.id, s.title, s.description, s.category_id, s.icon_file_id, s.author_id, s.created_at, s.updated_at, `+joinedFileColumns+`
		   FROM services s
		   LEFT JOIN files f ON f.id = s.icon_file_id
		  WHERE s.id = ?`,
		id,
	).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying service: %w", err)
	}
	s.Icon = icon.file()

	packages, err := r.packages(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Packages = packages
	return &s, nil
}

func (r *ServiceRepository) List(ctx context.Context) ([]*models.Service, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM services ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying services: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning service id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	services := make([]*models.Service, 0, len(ids))
	for _, id := range ids {
		s, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, nil
}

func (r *ServiceRepository) SetIcon(ctx context.Context, id, iconFileID string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE services SET icon_file_id = ?, updated_at = ? WHERE id = ?`,
		iconFileID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating service icon: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *ServiceRepository) packages(ctx context.Context, serviceID string) (map[models.Tier]*models.ServicePackage, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT tier, title, price_cents, delivery_days, revisions FROM service_packages WHERE service_id = ?`,
		serviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying service packages: %w", err)
	}
	defer rows.Close()

	packages := make(map[models.Tier]*models.ServicePackage, len(models.Tiers))
	for rows.Next() {
		var (
			p    models.ServicePackage
			tier string
		)
		if err := rows.Scan(&tier, &p.Title, &p.PriceCents, &p.DeliveryDays, &p.Revisions); err != nil {
			return nil, fmt.Errorf("scanning service package: %w", err)
		}
		p.Tier = models.Tier(tier)
		packages[p.Tier] = &p
	}
	return packages, rows.Err()
}
