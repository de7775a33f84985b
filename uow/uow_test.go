package uow_test

//go:generate mockgen -source=repository.go -destination=mocks/mocks.go -package=mocks Repository,Compensator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"keel/container"
	"keel/domain"
	"keel/events"
	"keel/uow"
	"keel/uow/mocks"
)

type UnitOfWorkSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	repo    *mocks.MockRepository
	bus     *events.Bus
	manager *uow.Manager
}

func TestUnitOfWorkSuite(t *testing.T) {
	suite.Run(t, new(UnitOfWorkSuite))
}

func (s *UnitOfWorkSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.repo = mocks.NewMockRepository(s.ctrl)
	s.bus = events.NewBus()

	c := container.New()
	s.Require().NoError(c.Register(uow.RepositoryCapability("order"), func(container.Resolver) (any, error) {
		return s.repo, nil
	}, container.Singleton))
	c.Seal()

	s.manager = uow.NewManager(c, uow.WithPublisher(s.bus))
}

func (s *UnitOfWorkSuite) begin() (context.Context, *uow.UnitOfWork) {
	ctx, u, err := s.manager.Begin(context.Background())
	s.Require().NoError(err)
	return ctx, u
}

func (s *UnitOfWorkSuite) TestNestedBeginFails() {
	ctx, _ := s.begin()

	_, _, err := s.manager.Begin(ctx)
	s.Require().ErrorIs(err, uow.ErrNestedScope)
}

func (s *UnitOfWorkSuite) TestBeginAfterEndedScopeSucceeds() {
	ctx, u := s.begin()
	s.Require().NoError(u.Rollback(ctx))

	_, fresh, err := s.manager.Begin(ctx)
	s.Require().NoError(err)
	s.True(fresh.Active())
}

func (s *UnitOfWorkSuite) TestFromContext() {
	ctx, u := s.begin()

	got, ok := uow.FromContext(ctx)
	s.Require().True(ok)
	s.Same(u, got)

	_, ok = uow.FromContext(context.Background())
	s.False(ok)
}

func (s *UnitOfWorkSuite) TestIdentityMapInvariant() {
	ctx, u := s.begin()
	defer func() { _ = u.Rollback(ctx) }()

	first := newOrder()
	e1, err := u.GetOrTrack(first.Identity(), func() (domain.Entity, error) { return first, nil })
	s.Require().NoError(err)

	duplicate := &order{Base: domain.Base{ID: first.ID}}
	e2, err := u.GetOrTrack(duplicate.Identity(), func() (domain.Entity, error) { return duplicate, nil })
	s.Require().NoError(err)

	s.Same(e1, e2, "equal identities must resolve to the same instance within one unit of work")
}

func (s *UnitOfWorkSuite) TestCommitFlushesDeletesBeforeUpdatesBeforeInserts() {
	ctx, u := s.begin()

	inserted := newOrder()
	updated := newOrder()
	deleted := newOrder()

	// Registration order deliberately scrambled; flush order must not follow it.
	s.Require().NoError(u.RegisterNew(inserted))
	s.Require().NoError(u.RegisterDeleted(deleted))
	s.Require().NoError(u.RegisterDirty(updated))

	gomock.InOrder(
		s.repo.EXPECT().Delete(gomock.Any(), deleted).Return(nil),
		s.repo.EXPECT().Update(gomock.Any(), updated).Return(nil),
		s.repo.EXPECT().Add(gomock.Any(), inserted).Return(nil),
	)

	s.Require().NoError(u.Commit(ctx))
	s.False(u.Active())
}

func (s *UnitOfWorkSuite) TestCommitClearsPendingLog() {
	ctx, u := s.begin()
	s.Require().NoError(u.RegisterNew(newOrder()))
	s.Equal(1, u.Pending())

	s.repo.EXPECT().Add(gomock.Any(), gomock.Any()).Return(nil)

	s.Require().NoError(u.Commit(ctx))
	s.Zero(u.Pending(), "flushed changes no longer pend")
}

func (s *UnitOfWorkSuite) TestCommitPublishesMutatedEntityTypes() {
	var published []events.CommitEvent
	s.bus.Subscribe(func(_ context.Context, e events.CommitEvent) {
		published = append(published, e)
	})

	ctx, u := s.begin()
	first := newOrder()
	second := newOrder()
	s.Require().NoError(u.RegisterNew(first))
	s.Require().NoError(u.RegisterNew(second))

	s.repo.EXPECT().Add(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	s.Require().NoError(u.Commit(ctx))
	s.Require().Len(published, 1)
	s.Equal([]domain.EntityType{"order"}, published[0].EntityTypes, "entity types deduplicated")
}

func (s *UnitOfWorkSuite) TestEmptyCommitPublishesNothing() {
	fired := false
	s.bus.Subscribe(func(context.Context, events.CommitEvent) { fired = true })

	ctx, u := s.begin()
	s.Require().NoError(u.Commit(ctx))
	s.False(fired)
}

func (s *UnitOfWorkSuite) TestRollbackLeavesNoTrackedEntities() {
	ctx, u := s.begin()
	e := newOrder()
	s.Require().NoError(u.RegisterNew(e))

	s.Require().NoError(u.Rollback(ctx))
	s.Zero(u.Pending())
	s.False(u.Active())

	_, fresh, err := s.manager.Begin(context.Background())
	s.Require().NoError(err)
	_, err = fresh.GetOrTrack(e.Identity(), func() (domain.Entity, error) {
		return &order{Base: domain.Base{ID: e.ID}}, nil
	})
	s.Require().NoError(err)
	// The loader ran: the new scope's identity map started empty.
}

func (s *UnitOfWorkSuite) TestRollbackIsIdempotent() {
	ctx, u := s.begin()
	s.Require().NoError(u.Rollback(ctx))
	s.Require().NoError(u.Rollback(ctx))
}

func (s *UnitOfWorkSuite) TestRegistrationAfterEndFails() {
	ctx, u := s.begin()
	s.Require().NoError(u.Rollback(ctx))

	err := u.RegisterNew(newOrder())
	s.Require().ErrorIs(err, uow.ErrScopeEnded)
}

func (s *UnitOfWorkSuite) TestDoubleCommitFails() {
	ctx, u := s.begin()
	s.Require().NoError(u.Commit(ctx))

	err := u.Commit(ctx)
	s.Require().ErrorIs(err, uow.ErrScopeEnded)
}

func (s *UnitOfWorkSuite) TestPartialCommitSurfacesFailedStage() {
	ctx, u := s.begin()

	inserted := newOrder()
	deleted := newOrder()
	s.Require().NoError(u.RegisterNew(inserted))
	s.Require().NoError(u.RegisterDeleted(deleted))

	cause := errors.New("deadlock detected")
	s.repo.EXPECT().Delete(gomock.Any(), deleted).Return(nil)
	s.repo.EXPECT().Add(gomock.Any(), inserted).Return(cause)

	err := u.Commit(ctx)
	var partial *uow.PartialCommitError
	s.Require().ErrorAs(err, &partial)
	s.Equal(uow.OpInsert, partial.Stage)
	s.False(partial.Compensated, "plain repositories cannot compensate")
	s.ErrorIs(err, cause)
	s.False(u.Active())
}

func (s *UnitOfWorkSuite) TestCommitCancelledContextRollsBack() {
	ctx, u := s.begin()
	s.Require().NoError(u.RegisterNew(newOrder()))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	err := u.Commit(cancelled)
	s.Require().ErrorIs(err, context.Canceled)
	s.False(u.Active())
	s.Zero(u.Pending())
}

func (s *UnitOfWorkSuite) TestUnregisteredRepositorySurfacesResolutionError() {
	ctx, u := s.begin()

	stray := &order{Base: domain.Base{ID: domain.RandomIdentity("invoice")}}
	s.Require().NoError(u.RegisterNew(stray))

	err := u.Commit(ctx)
	s.Require().ErrorIs(err, container.ErrUnregisteredCapability)
	var partial *uow.PartialCommitError
	s.False(errors.As(err, &partial), "resolution failures are wiring bugs, not commit-stage failures")
}

func (s *UnitOfWorkSuite) TestConcurrentScopesAreIsolated() {
	const workers = 8

	var mu sync.Mutex
	seen := make(map[*uow.UnitOfWork]int)

	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			ctx, u, err := s.manager.Begin(context.Background())
			if err != nil {
				return err
			}
			e := newOrder()
			if _, err := u.GetOrTrack(e.Identity(), func() (domain.Entity, error) { return e, nil }); err != nil {
				return err
			}

			// Another scope must not see this scope's uncommitted entity.
			_, other, err := s.manager.Begin(context.Background())
			if err != nil {
				return err
			}
			loaderRan := false
			if _, err := other.GetOrTrack(e.Identity(), func() (domain.Entity, error) {
				loaderRan = true
				return &order{Base: domain.Base{ID: e.ID}}, nil
			}); err != nil {
				return err
			}
			if !loaderRan {
				return errors.New("scope observed another scope's tracked entity")
			}

			mu.Lock()
			seen[u]++
			mu.Unlock()
			return u.Rollback(ctx)
		})
	}
	s.Require().NoError(g.Wait())
	s.Len(seen, workers, "every dispatch got an independent scope")
}
