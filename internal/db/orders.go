package db

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
)

type OrderRepository struct {
	db *DB
}

func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, serviceID string, tier models.Tier, buyerID string) (*models.Order, error) {
	id, err := GenerateID("ord")
	if err != nil {
		return nil, fmt.Errorf("generating order ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO orders (id, service_id, tier, buyer_id, status, created_at) VALUES (?, ?, ?, ?, 'pending', ?)`,
		id, serviceID, string(tier), buyerID, now,
	)
	if err != nil {
		if IsForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("creating order: %w", err)
	}

	return &models.Order{
		ID:        id,
		ServiceID: serviceID,
		Tier:      tier,
		BuyerID:   buyerID,
		Status:    "pending",
		CreatedAt: now,
	}, nil
}

func (r *OrderRepository) ListForBuyer(ctx context.Context, buyerID string) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, service_id, tier, buyer_id, status, created_at FROM orders WHERE buyer_id = ? ORDER BY created_at DESC`,
		buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	orders := []*models.Order{}
	for rows.Next() {
		var (
			o    models.Order
			tier string
		)
		if err := rows.Scan(&o.ID, &o.ServiceID, &tier, &o.BuyerID, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		o.Tier = models.Tier(tier)
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}
