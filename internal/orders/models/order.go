// Package models holds the order domain objects for the example bounded
// context shipped with the framework.
package models

import (
	"time"

	"keel/domain"
	pkgerrors "keel/pkg/errors"
)

// EntityTypeOrder tags orders in identities, repository capabilities, and
// cache tags.
const EntityTypeOrder domain.EntityType = "order"

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Order is a customer order. Money is carried in cents; no floats at rest.
type Order struct {
	domain.Base
	CustomerID string
	TotalCents int64
	Status     Status
	CreatedAt  time.Time
}

// NewOrder mints a pending order with a fresh identity.
func NewOrder(customerID string, totalCents int64, now time.Time) (*Order, error) {
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "customer id must not be empty")
	}
	if totalCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "order total must be positive")
	}
	return &Order{
		Base:       domain.Base{ID: domain.RandomIdentity(EntityTypeOrder)},
		CustomerID: customerID,
		TotalCents: totalCents,
		Status:     StatusPending,
		CreatedAt:  now,
	}, nil
}

// Cancel transitions the order to cancelled. Only pending orders cancel.
func (o *Order) Cancel() error {
	switch o.Status {
	case StatusPending:
		o.Status = StatusCancelled
		o.Touch()
		return nil
	case StatusCancelled:
		return pkgerrors.New(pkgerrors.CodeConflict, "order already cancelled")
	default:
		return pkgerrors.Newf(pkgerrors.CodeConflict, "order in state %q cannot be cancelled", o.Status)
	}
}

// MarkPaid transitions a pending order to paid.
func (o *Order) MarkPaid() error {
	if o.Status != StatusPending {
		return pkgerrors.Newf(pkgerrors.CodeConflict, "order in state %q cannot be paid", o.Status)
	}
	o.Status = StatusPaid
	o.Touch()
	return nil
}

// Clone returns an independent copy; stores hand out clones so tracked
// instances never alias store-owned memory.
func (o *Order) Clone() *Order {
	copied := *o
	return &copied
}
