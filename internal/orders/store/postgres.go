package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"keel/domain"
	"keel/internal/orders/models"
	pkgerrors "keel/pkg/errors"
)

// Schema creates the orders table. Callers run it at deploy time or through
// EnsureSchema in development.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id          UUID PRIMARY KEY,
	customer_id TEXT NOT NULL,
	total_cents BIGINT NOT NULL,
	status      TEXT NOT NULL,
	revision    BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
)`

// PostgresOrderStore persists orders in PostgreSQL via lib/pq.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

// EnsureSchema creates the orders table if missing.
func (s *PostgresOrderStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure orders schema: %w", err)
	}
	return nil
}

func (s *PostgresOrderStore) Add(ctx context.Context, e domain.Entity) error {
	order, err := asOrder(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, total_cents, status, revision, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		order.Identity().Key, order.CustomerID, order.TotalCents, string(order.Status),
		order.Revision(), order.CreatedAt,
	)
	if isUniqueViolation(err) {
		return pkgerrors.Wrap(err, pkgerrors.CodeConflict, fmt.Sprintf("order %s already exists", order.Identity()))
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.Identity(), err)
	}
	return nil
}

func (s *PostgresOrderStore) Update(ctx context.Context, e domain.Entity) error {
	order, err := asOrder(e)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET customer_id = $2, total_cents = $3, status = $4, revision = $5
		 WHERE id = $1`,
		order.Identity().Key, order.CustomerID, order.TotalCents, string(order.Status),
		order.Revision(),
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.Identity(), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.Identity(), err)
	}
	if affected == 0 {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "order %s not found", order.Identity())
	}
	return nil
}

func (s *PostgresOrderStore) Delete(ctx context.Context, e domain.Entity) error {
	order, err := asOrder(e)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, order.Identity().Key)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", order.Identity(), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete order %s: %w", order.Identity(), err)
	}
	if affected == 0 {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "order %s not found", order.Identity())
	}
	return nil
}

func (s *PostgresOrderStore) GetByID(ctx context.Context, id domain.Identity) (domain.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, total_cents, status, revision, created_at
		 FROM orders WHERE id = $1`, id.Key)

	var (
		key        string
		customerID string
		totalCents int64
		status     string
		revision   uint64
		createdAt  time.Time
	)
	if err := row.Scan(&key, &customerID, &totalCents, &status, &revision, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "order %s not found", id)
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}

	return &models.Order{
		Base:       domain.Base{ID: domain.Identity{Type: models.EntityTypeOrder, Key: key}, Rev: revision},
		CustomerID: customerID,
		TotalCents: totalCents,
		Status:     models.Status(status),
		CreatedAt:  createdAt,
	}, nil
}

// ListByCustomer returns the customer's orders, newest first.
func (s *PostgresOrderStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, total_cents, status, revision, created_at
		 FROM orders WHERE customer_id = $1 ORDER BY created_at DESC, id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders for %s: %w", customerID, err)
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		var (
			key        string
			customer   string
			totalCents int64
			status     string
			revision   uint64
			createdAt  time.Time
		)
		if err := rows.Scan(&key, &customer, &totalCents, &status, &revision, &createdAt); err != nil {
			return nil, fmt.Errorf("list orders for %s: %w", customerID, err)
		}
		out = append(out, &models.Order{
			Base:       domain.Base{ID: domain.Identity{Type: models.EntityTypeOrder, Key: key}, Rev: revision},
			CustomerID: customer,
			TotalCents: totalCents,
			Status:     models.Status(status),
			CreatedAt:  createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders for %s: %w", customerID, err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
