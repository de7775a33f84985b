package service

import (
	"time"

	"keel/domain"
	"keel/internal/orders/models"
	pkgerrors "keel/pkg/errors"
)

// Use case names. Transports build these request objects and dispatch them;
// nothing else about the transport leaks in here.
const (
	UseCaseCreateOrder = "orders.create"
	UseCaseCancelOrder = "orders.cancel"
	UseCaseGetOrder    = "orders.get"
	UseCaseListOrders  = "orders.list"
)

// CreateOrderCommand opens a new pending order.
type CreateOrderCommand struct {
	CustomerID string `json:"customer_id"`
	TotalCents int64  `json:"total_cents"`
}

func (CreateOrderCommand) UseCase() string { return UseCaseCreateOrder }

func (c CreateOrderCommand) Validate() error {
	if c.CustomerID == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "customer_id is required")
	}
	if c.TotalCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "total_cents must be positive")
	}
	return nil
}

// CancelOrderCommand cancels a pending order.
type CancelOrderCommand struct {
	OrderID string `json:"order_id"`
}

func (CancelOrderCommand) UseCase() string { return UseCaseCancelOrder }

func (c CancelOrderCommand) Validate() error {
	if c.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "order_id is required")
	}
	return nil
}

// GetOrderQuery reads one order. Results are cacheable and tagged with the
// order entity type, so any committed order mutation purges them.
type GetOrderQuery struct {
	OrderID string `json:"order_id"`
}

func (GetOrderQuery) UseCase() string { return UseCaseGetOrder }

func (GetOrderQuery) CacheTTL() time.Duration { return 5 * time.Minute }

func (GetOrderQuery) CacheTags() []domain.EntityType {
	return []domain.EntityType{models.EntityTypeOrder}
}

// ListOrdersQuery reads every order placed by one customer, newest first.
type ListOrdersQuery struct {
	CustomerID string `json:"customer_id"`
}

func (ListOrdersQuery) UseCase() string { return UseCaseListOrders }

func (q ListOrdersQuery) Validate() error {
	if q.CustomerID == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "customer_id is required")
	}
	return nil
}

func (ListOrdersQuery) CacheTTL() time.Duration { return time.Minute }

func (ListOrdersQuery) CacheTags() []domain.EntityType {
	return []domain.EntityType{models.EntityTypeOrder}
}

// OrderView is the JSON-safe read model handed back by queries.
type OrderView struct {
	OrderID    string        `json:"order_id"`
	CustomerID string        `json:"customer_id"`
	TotalCents int64         `json:"total_cents"`
	Status     models.Status `json:"status"`
	Revision   uint64        `json:"revision"`
	CreatedAt  time.Time     `json:"created_at"`
}

func viewOf(o *models.Order) OrderView {
	return OrderView{
		OrderID:    o.Identity().Key,
		CustomerID: o.CustomerID,
		TotalCents: o.TotalCents,
		Status:     o.Status,
		Revision:   o.Revision(),
		CreatedAt:  o.CreatedAt,
	}
}
