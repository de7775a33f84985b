// Package store provides order repository implementations: an in-memory one
// for tests and development, and a PostgreSQL one for real deployments.
package store

import (
	"context"
	"sort"
	"sync"

	"keel/domain"
	"keel/internal/orders/models"
	pkgerrors "keel/pkg/errors"
	"keel/uow"
)

// Error Contract:
// All store methods follow this pattern:
// - CodeNotFound when the requested order does not exist
// - CodeConflict when an insert collides with an existing identity
// - nil for successful operations

// InMemoryOrderStore keeps orders in memory. It supports compensating
// actions, so a failed multi-entity flush can restore what it touched.
type InMemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[domain.Identity]*models.Order
	// prior holds the pre-image of the last update/delete per identity so
	// Compensate can restore it.
	prior map[domain.Identity]*models.Order
}

func NewInMemory() *InMemoryOrderStore {
	return &InMemoryOrderStore{
		orders: make(map[domain.Identity]*models.Order),
		prior:  make(map[domain.Identity]*models.Order),
	}
}

func (s *InMemoryOrderStore) Add(_ context.Context, e domain.Entity) error {
	order, err := asOrder(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.Identity()]; exists {
		return pkgerrors.Newf(pkgerrors.CodeConflict, "order %s already exists", order.Identity())
	}
	s.orders[order.Identity()] = order.Clone()
	return nil
}

func (s *InMemoryOrderStore) Update(_ context.Context, e domain.Entity) error {
	order, err := asOrder(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[order.Identity()]
	if !ok {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "order %s not found", order.Identity())
	}
	s.prior[order.Identity()] = existing
	s.orders[order.Identity()] = order.Clone()
	return nil
}

func (s *InMemoryOrderStore) Delete(_ context.Context, e domain.Entity) error {
	order, err := asOrder(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[order.Identity()]
	if !ok {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "order %s not found", order.Identity())
	}
	s.prior[order.Identity()] = existing
	delete(s.orders, order.Identity())
	return nil
}

func (s *InMemoryOrderStore) GetByID(_ context.Context, id domain.Identity) (domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "order %s not found", id)
	}
	return order.Clone(), nil
}

// ListByCustomer returns the customer's orders, newest first.
func (s *InMemoryOrderStore) ListByCustomer(_ context.Context, customerID string) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Order
	for _, order := range s.orders {
		if order.CustomerID == customerID {
			out = append(out, order.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Identity().Key < out[j].Identity().Key
	})
	return out, nil
}

// Compensate undoes an applied change: inserts are removed, updates and
// deletes restore the pre-image captured when they were applied.
func (s *InMemoryOrderStore) Compensate(_ context.Context, op uow.Op, e domain.Entity) error {
	order, err := asOrder(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case uow.OpInsert:
		delete(s.orders, order.Identity())
		return nil
	case uow.OpUpdate, uow.OpDelete:
		previous, ok := s.prior[order.Identity()]
		if !ok {
			return pkgerrors.Newf(pkgerrors.CodeInternal, "no pre-image for order %s", order.Identity())
		}
		s.orders[order.Identity()] = previous
		delete(s.prior, order.Identity())
		return nil
	default:
		return pkgerrors.Newf(pkgerrors.CodeInternal, "cannot compensate %s", op)
	}
}

// Len reports how many orders are stored.
func (s *InMemoryOrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func asOrder(e domain.Entity) (*models.Order, error) {
	order, ok := e.(*models.Order)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "order store cannot persist %T", e)
	}
	return order, nil
}
