package ledger

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func newLinkGraphFixture(t *testing.T) (*Storage, *LinkGraph) {
	t.Helper()
	dbFile := t.TempDir() + "/linkgraph.db"
	storage, err := NewStorage(dbFile)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close(); os.Remove(dbFile) })
	clock := NewFixedClock(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	return storage, NewLinkGraph(storage, clock)
}

// TestLinkGraphRejectsSelfLink checks that a link cannot connect an
// artifact to itself.
func TestLinkGraphRejectsSelfLink(t *testing.T) {
	storage, g := newLinkGraphFixture(t)
	id := uuid.New()
	require.NoError(t, storage.Update(func(tx *bbolt.Tx) error {
		_, err := g.Establish(tx, LinkSettles, id, id, uuid.New(), nil)
		var kerr *KernelError
		require.ErrorAs(t, err, &kerr)
		require.Equal(t, "SelfLinkError", kerr.Code())
		return nil
	}))
}

// TestLinkGraphRejectsUnknownType checks that an undeclared link type is
// refused before any self-link or cardinality check runs.
func TestLinkGraphRejectsUnknownType(t *testing.T) {
	storage, g := newLinkGraphFixture(t)
	parent, child := uuid.New(), uuid.New()
	require.NoError(t, storage.Update(func(tx *bbolt.Tx) error {
		_, err := g.Establish(tx, LinkType("MADE_UP"), parent, child, uuid.New(), nil)
		var kerr *KernelError
		require.ErrorAs(t, err, &kerr)
		require.Equal(t, "InvalidLinkType", kerr.Code())
		return nil
	}))
}

// TestLinkGraphRejectsDuplicate checks that re-establishing the same
// (type, parent, child) triple is refused.
func TestLinkGraphRejectsDuplicate(t *testing.T) {
	storage, g := newLinkGraphFixture(t)
	parent, child := uuid.New(), uuid.New()
	require.NoError(t, storage.Update(func(tx *bbolt.Tx) error {
		_, err := g.Establish(tx, LinkSettles, parent, child, uuid.New(), nil)
		require.NoError(t, err)
		_, err = g.Establish(tx, LinkSettles, parent, child, uuid.New(), nil)
		var kerr *KernelError
		require.ErrorAs(t, err, &kerr)
		require.Equal(t, "DuplicateLink", kerr.Code())
		return nil
	}))
}

// TestLinkGraphRejectsMaxChildrenExceeded checks that REVERSED_BY, capped
// at one child per parent, refuses a second distinct child.
func TestLinkGraphRejectsMaxChildrenExceeded(t *testing.T) {
	storage, g := newLinkGraphFixture(t)
	entry := uuid.New()
	reversal1, reversal2 := uuid.New(), uuid.New()
	require.NoError(t, storage.Update(func(tx *bbolt.Tx) error {
		_, err := g.Establish(tx, LinkReversedBy, entry, reversal1, uuid.New(), nil)
		require.NoError(t, err)
		_, err = g.Establish(tx, LinkReversedBy, entry, reversal2, uuid.New(), nil)
		var kerr *KernelError
		require.ErrorAs(t, err, &kerr)
		require.Equal(t, "MaxChildrenExceeded", kerr.Code())
		return nil
	}))
}

// TestLinkGraphUnboundedTypeAllowsManyChildren checks that SETTLES, with
// MaxChildrenPerParent == 0, has no cardinality cap.
func TestLinkGraphUnboundedTypeAllowsManyChildren(t *testing.T) {
	storage, g := newLinkGraphFixture(t)
	parent := uuid.New()
	require.NoError(t, storage.Update(func(tx *bbolt.Tx) error {
		for i := 0; i < 5; i++ {
			_, err := g.Establish(tx, LinkSettles, parent, uuid.New(), uuid.New(), nil)
			require.NoError(t, err)
		}
		children, err := g.ChildrenOf(tx, LinkSettles, parent)
		require.NoError(t, err)
		require.Len(t, children, 5)
		return nil
	}))
}

// TestLinkGraphRejectsCycle checks that establishing a link whose child
// can already reach the parent is refused.
func TestLinkGraphRejectsCycle(t *testing.T) {
	storage, g := newLinkGraphFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, storage.Update(func(tx *bbolt.Tx) error {
		_, err := g.Establish(tx, LinkCorrects, a, b, uuid.New(), nil)
		require.NoError(t, err)
		_, err = g.Establish(tx, LinkCorrects, b, c, uuid.New(), nil)
		require.NoError(t, err)

		_, err = g.Establish(tx, LinkCorrects, c, a, uuid.New(), nil)
		var kerr *KernelError
		require.ErrorAs(t, err, &kerr)
		require.Equal(t, "LinkCycleError", kerr.Code())
		return nil
	}))
}

// TestLinkGraphTransitiveClosureAndShortestPath checks BFS reachability
// and shortest-path reconstruction over a small chain.
func TestLinkGraphTransitiveClosureAndShortestPath(t *testing.T) {
	storage, g := newLinkGraphFixture(t)
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, storage.Update(func(tx *bbolt.Tx) error {
		_, err := g.Establish(tx, LinkCorrects, a, b, uuid.New(), nil)
		require.NoError(t, err)
		_, err = g.Establish(tx, LinkCorrects, b, c, uuid.New(), nil)
		require.NoError(t, err)
		_, err = g.Establish(tx, LinkCorrects, b, d, uuid.New(), nil)
		require.NoError(t, err)

		closure, err := g.TransitiveClosure(tx, LinkCorrects, a)
		require.NoError(t, err)
		require.ElementsMatch(t, []uuid.UUID{b, c, d}, closure)

		path, ok, err := g.ShortestPath(tx, LinkCorrects, a, d)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []uuid.UUID{a, b, d}, path)

		_, ok, err = g.ShortestPath(tx, LinkCorrects, d, a)
		require.NoError(t, err)
		require.False(t, ok, "links are directed; d cannot reach a")
		return nil
	}))
}
