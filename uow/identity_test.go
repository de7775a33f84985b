package uow_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keel/domain"
	"keel/uow"
)

type order struct {
	domain.Base
	Total int
}

func newOrder() *order {
	return &order{Base: domain.Base{ID: domain.RandomIdentity("order")}}
}

func TestIdentityMapGetOrTrack(t *testing.T) {
	t.Run("same identity resolves to same instance", func(t *testing.T) {
		m := uow.NewIdentityMap()
		first := newOrder()

		got, err := m.GetOrTrack(first.Identity(), func() (domain.Entity, error) {
			return first, nil
		})
		require.NoError(t, err)

		// A second load for the same identity must not run the loader.
		again, err := m.GetOrTrack(first.Identity(), func() (domain.Entity, error) {
			t.Fatal("loader invoked for already-tracked identity")
			return nil, nil
		})
		require.NoError(t, err)
		assert.Same(t, got, again)
	})

	t.Run("loader error is not tracked", func(t *testing.T) {
		m := uow.NewIdentityMap()
		id := domain.RandomIdentity("order")
		boom := errors.New("row scan failed")

		_, err := m.GetOrTrack(id, func() (domain.Entity, error) { return nil, boom })
		require.ErrorIs(t, err, boom)
		assert.Zero(t, m.Len())
	})
}

func TestIdentityMapTrackKeepsFirstInstance(t *testing.T) {
	m := uow.NewIdentityMap()
	first := newOrder()
	duplicate := &order{Base: domain.Base{ID: first.ID}}

	assert.Same(t, first, m.Track(first).(*order))
	assert.Same(t, first, m.Track(duplicate).(*order), "first tracked instance stays canonical")
}

func TestIdentityMapClear(t *testing.T) {
	m := uow.NewIdentityMap()
	e := newOrder()
	m.Track(e)
	require.Equal(t, 1, m.Len())

	m.Clear()
	assert.Zero(t, m.Len())
	_, ok := m.Get(e.Identity())
	assert.False(t, ok)
}
