package container_test

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"keel/container"
)

type ContainerSuite struct {
	suite.Suite
	c *container.Container
}

func TestContainerSuite(t *testing.T) {
	suite.Run(t, new(ContainerSuite))
}

func (s *ContainerSuite) SetupTest() {
	s.c = container.New()
}

func (s *ContainerSuite) TestRegistration() {
	s.Run("duplicate capability fails regardless of order", func() {
		c := container.New()
		s.Require().NoError(c.Register("clock", staticFactory("utc"), container.Singleton))

		err := c.Register("clock", staticFactory("tai"), container.Transient)
		s.Require().ErrorIs(err, container.ErrDuplicateCapability)
	})

	s.Run("register after seal fails", func() {
		c := container.New()
		s.Require().NoError(c.Register("clock", staticFactory("utc"), container.Singleton))
		c.Seal()

		err := c.Register("calendar", staticFactory("gregorian"), container.Transient)
		s.Require().ErrorIs(err, container.ErrSealed)
		s.True(c.Sealed())
	})

	s.Run("empty capability name rejected", func() {
		s.Error(s.c.Register("", staticFactory("x"), container.Transient))
	})

	s.Run("nil factory rejected", func() {
		s.Error(s.c.Register("clock", nil, container.Transient))
	})
}

func (s *ContainerSuite) TestResolveUnregistered() {
	instance, err := s.c.Resolve("nope")
	s.Require().ErrorIs(err, container.ErrUnregisteredCapability)
	s.Nil(instance, "resolution failures must never hand back a value")
}

func (s *ContainerSuite) TestLifetimes() {
	s.Run("transient constructs every time", func() {
		c := container.New()
		var calls atomic.Int64
		s.Require().NoError(c.Register("id", countingFactory(&calls), container.Transient))
		c.Seal()

		_, err := c.Resolve("id")
		s.Require().NoError(err)
		_, err = c.Resolve("id")
		s.Require().NoError(err)
		s.EqualValues(2, calls.Load())
	})

	s.Run("singleton constructs once", func() {
		c := container.New()
		var calls atomic.Int64
		s.Require().NoError(c.Register("pool", countingFactory(&calls), container.Singleton))
		c.Seal()

		first, err := c.Resolve("pool")
		s.Require().NoError(err)
		second, err := c.Resolve("pool")
		s.Require().NoError(err)
		s.Same(first.(*instance), second.(*instance))
		s.EqualValues(1, calls.Load())
	})

	s.Run("scoped caches per scope, not across scopes", func() {
		c := container.New()
		var calls atomic.Int64
		s.Require().NoError(c.Register("session", countingFactory(&calls), container.Scoped))
		c.Seal()

		a := c.Scope()
		first, err := a.Resolve("session")
		s.Require().NoError(err)
		again, err := a.Resolve("session")
		s.Require().NoError(err)
		s.Same(first.(*instance), again.(*instance))

		b := c.Scope()
		other, err := b.Resolve("session")
		s.Require().NoError(err)
		s.NotSame(first.(*instance), other.(*instance))
		s.EqualValues(2, calls.Load())
	})

	s.Run("scoped at container level requires a scope", func() {
		c := container.New()
		s.Require().NoError(c.Register("session", staticFactory("x"), container.Scoped))
		c.Seal()

		_, err := c.Resolve("session")
		s.Require().ErrorIs(err, container.ErrScopeRequired)
	})
}

func (s *ContainerSuite) TestRecursiveResolution() {
	c := container.New()
	s.Require().NoError(c.Register("store", staticFactory("store"), container.Singleton))
	s.Require().NoError(c.Register("service", func(r container.Resolver) (any, error) {
		dep, err := r.Resolve("store")
		if err != nil {
			return nil, err
		}
		return "service(" + dep.(string) + ")", nil
	}, container.Transient))
	c.Seal()

	got, err := c.Resolve("service")
	s.Require().NoError(err)
	s.Equal("service(store)", got)
}

func (s *ContainerSuite) TestCycleDetection() {
	c := container.New()
	through := func(dep string) container.Factory {
		return func(r container.Resolver) (any, error) {
			return r.Resolve(dep)
		}
	}
	s.Require().NoError(c.Register("a", through("b"), container.Transient))
	s.Require().NoError(c.Register("b", through("c"), container.Transient))
	s.Require().NoError(c.Register("c", through("a"), container.Transient))
	c.Seal()

	_, err := c.Resolve("a")
	var cyc *container.CyclicDependencyError
	s.Require().ErrorAs(err, &cyc)
	s.Equal([]string{"a", "b", "c", "a"}, cyc.Stack)
}

func (s *ContainerSuite) TestSelfCycle() {
	c := container.New()
	s.Require().NoError(c.Register("self", func(r container.Resolver) (any, error) {
		return r.Resolve("self")
	}, container.Transient))
	c.Seal()

	_, err := c.Resolve("self")
	var cyc *container.CyclicDependencyError
	s.Require().ErrorAs(err, &cyc)
}

func (s *ContainerSuite) TestConcurrentSingletonConstruction() {
	c := container.New()
	var calls atomic.Int64
	s.Require().NoError(c.Register("pool", countingFactory(&calls), container.Singleton))
	c.Seal()

	results := make([]any, 32)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			got, err := c.Resolve("pool")
			results[i] = got
			return err
		})
	}
	s.Require().NoError(g.Wait())

	s.EqualValues(1, calls.Load(), "first construction must be serialized")
	for _, got := range results {
		s.Same(results[0].(*instance), got.(*instance))
	}
}

func (s *ContainerSuite) TestFactoryErrorPropagates() {
	c := container.New()
	boom := errors.New("no database")
	s.Require().NoError(c.Register("db", func(container.Resolver) (any, error) {
		return nil, boom
	}, container.Singleton))
	c.Seal()

	_, err := c.Resolve("db")
	s.Require().ErrorIs(err, boom)

	// Wiring errors are deterministic; the memoized failure comes back.
	_, err = c.Resolve("db")
	s.Require().ErrorIs(err, boom)
}

type instance struct{ n int64 }

func countingFactory(calls *atomic.Int64) container.Factory {
	return func(container.Resolver) (any, error) {
		return &instance{n: calls.Add(1)}, nil
	}
}

func staticFactory(v string) container.Factory {
	return func(container.Resolver) (any, error) { return v, nil }
}
