// Package service wires the order use cases into the dispatcher: commands
// mutate through the active unit of work, queries read straight from the
// repository.
package service

import (
	"context"
	"time"

	"keel/dispatch"
	"keel/domain"
	"keel/internal/orders/models"
	pkgerrors "keel/pkg/errors"
	"keel/uow"
)

// Repository is what the order service needs from storage: the unit-of-work
// contract plus customer listing for the read side.
type Repository interface {
	uow.Repository
	ListByCustomer(ctx context.Context, customerID string) ([]*models.Order, error)
}

// Service holds the order use-case handlers. The repository is the same
// instance the unit of work flushes through; queries use it directly since
// they never open a scope.
type Service struct {
	repo Repository
	now  func() time.Time
}

// Option tweaks service construction.
type Option func(*Service)

// WithClock injects the time source; tests pin it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds every order use case on the dispatcher.
func (s *Service) Register(d *dispatch.Dispatcher) error {
	if err := d.RegisterCommand(UseCaseCreateOrder, dispatch.HandlerFunc(s.create)); err != nil {
		return err
	}
	if err := d.RegisterCommand(UseCaseCancelOrder, dispatch.HandlerFunc(s.cancel)); err != nil {
		return err
	}
	if err := d.RegisterQuery(UseCaseGetOrder, dispatch.HandlerFunc(s.get)); err != nil {
		return err
	}
	return d.RegisterQuery(UseCaseListOrders, dispatch.HandlerFunc(s.list))
}

func (s *Service) create(ctx context.Context, req dispatch.Request) (any, error) {
	cmd, ok := req.(CreateOrderCommand)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "unexpected request type %T", req)
	}

	u, ok := uow.FromContext(ctx)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "create order dispatched without a unit of work")
	}

	order, err := models.NewOrder(cmd.CustomerID, cmd.TotalCents, s.now())
	if err != nil {
		return nil, err
	}
	if err := u.RegisterNew(order); err != nil {
		return nil, err
	}
	return viewOf(order), nil
}

func (s *Service) cancel(ctx context.Context, req dispatch.Request) (any, error) {
	cmd, ok := req.(CancelOrderCommand)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "unexpected request type %T", req)
	}

	u, ok := uow.FromContext(ctx)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cancel order dispatched without a unit of work")
	}

	id, err := domain.ParseIdentity(models.EntityTypeOrder, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	// The identity map guarantees this is the canonical instance for the
	// order within this unit of work.
	tracked, err := u.GetOrTrack(id, func() (domain.Entity, error) {
		return s.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	order := tracked.(*models.Order)

	if err := order.Cancel(); err != nil {
		return nil, err
	}
	if err := u.RegisterDirty(order); err != nil {
		return nil, err
	}
	return viewOf(order), nil
}

func (s *Service) get(ctx context.Context, req dispatch.Request) (any, error) {
	query, ok := req.(GetOrderQuery)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "unexpected request type %T", req)
	}

	id, err := domain.ParseIdentity(models.EntityTypeOrder, query.OrderID)
	if err != nil {
		return nil, err
	}
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return viewOf(e.(*models.Order)), nil
}

func (s *Service) list(ctx context.Context, req dispatch.Request) (any, error) {
	query, ok := req.(ListOrdersQuery)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "unexpected request type %T", req)
	}

	orders, err := s.repo.ListByCustomer(ctx, query.CustomerID)
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, viewOf(o))
	}
	return views, nil
}
