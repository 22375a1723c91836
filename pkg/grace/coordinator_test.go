package grace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gracecoord/pkg/epoch"
	"github.com/marmos91/gracecoord/pkg/objectstore"
	"github.com/marmos91/gracecoord/pkg/objectstore/memstore"
)

func TestCreateIsIdempotent(t *testing.T) {
	c := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "grace"))
	require.NoError(t, c.Create(ctx, "grace"))
}

func TestStartEstablishesNewEpoch(t *testing.T) {
	c := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "grace"))

	header, err := c.Start(ctx, "grace", []string{"nodeA", "nodeB"}, true)
	require.NoError(t, err)
	assert.Equal(t, epoch.Header{C: 2, R: 1}, header)

	_, members, err := c.Dump(ctx, "grace")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestJoinIsNoOpWithoutActiveGrace(t *testing.T) {
	c := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "grace"))

	header, err := c.Join(ctx, "grace", "nodeA")
	require.NoError(t, err)
	assert.Equal(t, epoch.Header{C: 1, R: 0}, header)

	_, members, err := c.Dump(ctx, "grace")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestJoinAddsMemberDuringActiveGrace(t *testing.T) {
	c := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "grace"))
	_, err := c.Start(ctx, "grace", []string{"nodeA"}, true)
	require.NoError(t, err)

	header, err := c.Join(ctx, "grace", "nodeB")
	require.NoError(t, err)
	assert.Equal(t, epoch.Header{C: 2, R: 1}, header)

	_, members, err := c.Dump(ctx, "grace")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestLiftClearsLastMemberAndEndsGrace(t *testing.T) {
	c := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "grace"))
	_, err := c.Start(ctx, "grace", []string{"nodeA", "nodeB"}, true)
	require.NoError(t, err)

	header, err := c.Done(ctx, "grace", "nodeA")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), header.R, "grace still in force, one member remains")

	header, err = c.Done(ctx, "grace", "nodeB")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), header.R, "grace lifted once the last member clears")

	_, members, err := c.Dump(ctx, "grace")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLiftIsNoOpForUnknownNode(t *testing.T) {
	c := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "grace"))
	_, err := c.Start(ctx, "grace", []string{"nodeA"}, true)
	require.NoError(t, err)

	header, err := c.Done(ctx, "grace", "nodeZ")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), header.R)
}

func TestLiftRejectsNonEmptyOmapOutsideGrace(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "grace"))
	snap, err := store.Read(ctx, "grace")
	require.NoError(t, err)
	// Force the inconsistent state directly on the store: R == 0 with a
	// populated omap can never arise through the Coordinator itself.
	require.NoError(t, store.CompareAndSwap(ctx, "grace", snap.Version, objectstore.Mutation{
		Header: epoch.Header{C: 1, R: 0},
		Upsert: []objectstore.Member{{NodeID: "ghost"}},
	}))

	c := New(store)
	_, err = c.Lift(ctx, "grace", []string{"ghost"})
	require.Error(t, err)
	var se *objectstore.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, objectstore.ErrCorrupt, se.Code)
}

func TestEnforcingLifecycle(t *testing.T) {
	c := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "grace"))
	_, err := c.Start(ctx, "grace", []string{"nodeA"}, true)
	require.NoError(t, err)

	// Not a member yet: no-op, no error.
	require.NoError(t, c.EnforcingOn(ctx, "grace", "stranger"))
	enforcing, err := c.EnforcingCheck(ctx, "grace", "stranger")
	require.NoError(t, err)
	assert.False(t, enforcing)

	enforcing, err = c.EnforcingCheck(ctx, "grace", "nodeA")
	require.NoError(t, err)
	assert.False(t, enforcing, "join leaves enforcement flag cleared")

	require.NoError(t, c.EnforcingOn(ctx, "grace", "nodeA"))
	enforcing, err = c.EnforcingCheck(ctx, "grace", "nodeA")
	require.NoError(t, err)
	assert.True(t, enforcing)

	require.NoError(t, c.EnforcingOff(ctx, "grace", "nodeA"))
	enforcing, err = c.EnforcingCheck(ctx, "grace", "nodeA")
	require.NoError(t, err)
	assert.False(t, enforcing)
}

func TestMember(t *testing.T) {
	c := New(memstore.New())
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "grace"))
	_, err := c.Start(ctx, "grace", []string{"nodeA"}, true)
	require.NoError(t, err)

	ok, err := c.Member(ctx, "grace", "nodeA")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Member(ctx, "grace", "nodeZ")
	require.NoError(t, err)
	assert.False(t, ok)
}
