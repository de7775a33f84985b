package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	prmtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"keel/container"
	"keel/dispatch"
	"keel/domain"
	"keel/uow"
)

type createOrder struct {
	Total int
}

func (createOrder) UseCase() string { return "orders.create" }

func (c createOrder) Validate() error {
	if c.Total <= 0 {
		return errors.New("total must be positive")
	}
	return nil
}

type getOrder struct {
	Key string
}

func (getOrder) UseCase() string { return "orders.get" }

// recordingRepo counts flushed operations; enough to observe commit/rollback.
type recordingRepo struct {
	mu   sync.Mutex
	adds int
}

func (r *recordingRepo) Add(context.Context, domain.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adds++
	return nil
}

func (r *recordingRepo) Update(context.Context, domain.Entity) error { return nil }
func (r *recordingRepo) Delete(context.Context, domain.Entity) error { return nil }
func (r *recordingRepo) GetByID(context.Context, domain.Identity) (domain.Entity, error) {
	return nil, errors.New("not implemented")
}

func (r *recordingRepo) addCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adds
}

type orderEntity struct{ domain.Base }

type DispatcherSuite struct {
	suite.Suite
	repo       *recordingRepo
	manager    *uow.Manager
	dispatcher *dispatch.Dispatcher
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.repo = &recordingRepo{}

	c := container.New()
	s.Require().NoError(c.Register(uow.RepositoryCapability("order"), func(container.Resolver) (any, error) {
		return s.repo, nil
	}, container.Singleton))
	c.Seal()

	s.manager = uow.NewManager(c)
	s.dispatcher = dispatch.New(s.manager)
}

// createHandler registers a new order entity in the current unit of work.
func createHandler() dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, req dispatch.Request) (any, error) {
		u, ok := uow.FromContext(ctx)
		if !ok {
			return nil, errors.New("command dispatched without a unit of work")
		}
		e := &orderEntity{Base: domain.Base{ID: domain.RandomIdentity("order")}}
		if err := u.RegisterNew(e); err != nil {
			return nil, err
		}
		return e.Identity(), nil
	})
}

func (s *DispatcherSuite) TestDuplicateHandlerRegistration() {
	s.Require().NoError(s.dispatcher.RegisterCommand("orders.create", createHandler()))

	s.Run("same kind", func() {
		err := s.dispatcher.RegisterCommand("orders.create", createHandler())
		s.Require().ErrorIs(err, dispatch.ErrDuplicateHandler)
	})

	s.Run("different kind still collides", func() {
		err := s.dispatcher.RegisterQuery("orders.create", createHandler())
		s.Require().ErrorIs(err, dispatch.ErrDuplicateHandler)
	})
}

func (s *DispatcherSuite) TestDispatchUnknownUseCase() {
	_, err := s.dispatcher.Dispatch(context.Background(), getOrder{Key: "x"})
	s.Require().ErrorIs(err, dispatch.ErrNoHandler)
}

func (s *DispatcherSuite) TestCommandCommitsOnSuccess() {
	s.Require().NoError(s.dispatcher.RegisterCommand("orders.create", createHandler()))

	result, err := s.dispatcher.Dispatch(context.Background(), createOrder{Total: 10})
	s.Require().NoError(err)
	s.NotNil(result)
	s.Equal(1, s.repo.addCount(), "commit flushed the registered entity")
}

func (s *DispatcherSuite) TestCommandRollsBackOnHandlerError() {
	boom := errors.New("insufficient stock")
	s.Require().NoError(s.dispatcher.RegisterCommand("orders.create", dispatch.HandlerFunc(
		func(ctx context.Context, req dispatch.Request) (any, error) {
			u, _ := uow.FromContext(ctx)
			e := &orderEntity{Base: domain.Base{ID: domain.RandomIdentity("order")}}
			if err := u.RegisterNew(e); err != nil {
				return nil, err
			}
			return nil, boom
		})))

	_, err := s.dispatcher.Dispatch(context.Background(), createOrder{Total: 10})
	s.Require().ErrorIs(err, boom)
	s.Zero(s.repo.addCount(), "rollback discards the pending log")
}

func (s *DispatcherSuite) TestCommandRollsBackOnCancellation() {
	s.Require().NoError(s.dispatcher.RegisterCommand("orders.create", dispatch.HandlerFunc(
		func(ctx context.Context, req dispatch.Request) (any, error) {
			u, _ := uow.FromContext(ctx)
			e := &orderEntity{Base: domain.Base{ID: domain.RandomIdentity("order")}}
			return nil, u.RegisterNew(e)
		})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.dispatcher.Dispatch(ctx, createOrder{Total: 10})
	s.Require().ErrorIs(err, context.Canceled)
	s.Zero(s.repo.addCount())
}

func (s *DispatcherSuite) TestQueryRunsWithoutUnitOfWork() {
	s.Require().NoError(s.dispatcher.RegisterQuery("orders.get", dispatch.HandlerFunc(
		func(ctx context.Context, req dispatch.Request) (any, error) {
			if _, ok := uow.FromContext(ctx); ok {
				return nil, errors.New("query must not open a unit of work")
			}
			return "order", nil
		})))

	result, err := s.dispatcher.Dispatch(context.Background(), getOrder{Key: "x"})
	s.Require().NoError(err)
	s.Equal("order", result)
}

func (s *DispatcherSuite) TestMiddlewareOnionOrder() {
	var order []string
	tag := func(name string) dispatch.Middleware {
		return func(next dispatch.Handler) dispatch.Handler {
			return dispatch.HandlerFunc(func(ctx context.Context, req dispatch.Request) (any, error) {
				order = append(order, name+" in")
				result, err := next.Handle(ctx, req)
				order = append(order, name+" out")
				return result, err
			})
		}
	}

	s.dispatcher.Use(tag("outer"))
	s.dispatcher.Use(tag("inner"))
	s.Require().NoError(s.dispatcher.RegisterQuery("orders.get", dispatch.HandlerFunc(
		func(context.Context, dispatch.Request) (any, error) {
			order = append(order, "handler")
			return nil, nil
		})))

	_, err := s.dispatcher.Dispatch(context.Background(), getOrder{Key: "x"})
	s.Require().NoError(err)
	s.Equal([]string{"outer in", "inner in", "handler", "inner out", "outer out"}, order)
}

func (s *DispatcherSuite) TestValidationShortCircuits() {
	handlerRan := false
	s.dispatcher.Use(dispatch.Validation())
	s.Require().NoError(s.dispatcher.RegisterCommand("orders.create", dispatch.HandlerFunc(
		func(context.Context, dispatch.Request) (any, error) {
			handlerRan = true
			return nil, nil
		})))

	_, err := s.dispatcher.Dispatch(context.Background(), createOrder{Total: -5})

	var verr *dispatch.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal("orders.create", verr.UseCase)
	s.False(handlerRan, "validation failures never reach the handler")
	s.Zero(s.repo.addCount(), "no scope mutation occurred")
}

func (s *DispatcherSuite) TestObserveMetrics() {
	reg := prometheus.NewRegistry()
	metrics := dispatch.NewMetrics(reg)

	s.dispatcher.Use(dispatch.Observe(metrics))
	s.Require().NoError(s.dispatcher.RegisterCommand("orders.create", createHandler()))

	_, err := s.dispatcher.Dispatch(context.Background(), createOrder{Total: 10})
	s.Require().NoError(err)
	_, err = s.dispatcher.Dispatch(context.Background(), getOrder{Key: "x"})
	s.Require().ErrorIs(err, dispatch.ErrNoHandler)

	families, err := reg.Gather()
	s.Require().NoError(err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	s.Contains(names, "keel_dispatches_total")
	s.Contains(names, "keel_dispatch_duration_seconds")

	// Only the routed dispatch reached the chain; the unknown use case failed
	// before any middleware ran.
	count, err := prmtestutil.GatherAndCount(reg, "keel_dispatches_total")
	s.Require().NoError(err)
	s.Equal(1, count)
}
