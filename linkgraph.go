package ledger

import (
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// LinkGraph establishes and queries typed directed edges between
// artifacts (spec.md §4.8). All mutations are additive: an EconomicLink
// is never updated or deleted once created.
type LinkGraph struct {
	storage *Storage
	clock   Clock
}

// NewLinkGraph constructs a LinkGraph over storage.
func NewLinkGraph(storage *Storage, clock Clock) *LinkGraph {
	return &LinkGraph{storage: storage, clock: clock}
}

// Establish validates and persists a new link:
//   - parent_ref != child_ref (no self-links)
//   - (link_type, parent_ref, child_ref) not already present
//   - parent has fewer than MaxChildrenPerParent[link_type] existing
//     outgoing links of this type (0 means unbounded)
//   - adding the edge does not create a cycle within links of this type
func (g *LinkGraph) Establish(tx *bbolt.Tx, linkType LinkType, parentRef, childRef, creatingEventID uuid.UUID, metadata map[string]any) (*EconomicLink, error) {
	if _, declared := MaxChildrenPerParent[linkType]; !declared {
		return nil, ErrInvalidLinkType(string(linkType))
	}
	if parentRef == childRef {
		return nil, ErrSelfLink()
	}

	existingChildren, err := g.storage.ChildrenOfType(tx, linkType, parentRef)
	if err != nil {
		return nil, err
	}
	for _, l := range existingChildren {
		if l.ChildRef == childRef {
			return nil, ErrDuplicateLink(string(linkType), parentRef.String(), childRef.String())
		}
	}

	if max := MaxChildrenPerParent[linkType]; max > 0 && len(existingChildren) >= max {
		return nil, ErrMaxChildrenExceeded(string(linkType), parentRef.String())
	}

	cyclic, err := g.wouldCycle(tx, linkType, parentRef, childRef)
	if err != nil {
		return nil, err
	}
	if cyclic {
		return nil, ErrLinkCycle(string(linkType))
	}

	link := &EconomicLink{
		LinkID:          uuid.New(),
		LinkType:        linkType,
		ParentRef:       parentRef,
		ChildRef:        childRef,
		CreatingEventID: creatingEventID,
		CreatedAt:       g.clockTime(),
		Metadata:        metadata,
	}
	if err := g.storage.PutEconomicLink(tx, link); err != nil {
		return nil, err
	}
	return link, nil
}

func (g *LinkGraph) clockTime() time.Time {
	if g.clock == nil {
		return time.Now().UTC()
	}
	return g.clock.Now()
}

// wouldCycle reports whether adding parent->child would create a cycle:
// true if child can already reach parent via existing links of linkType.
func (g *LinkGraph) wouldCycle(tx *bbolt.Tx, linkType LinkType, parent, child uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]bool{}
	stack := []uuid.UUID{child}
	for len(stack) > 0 {
		n := len(stack) - 1
		current := stack[n]
		stack = stack[:n]
		if current == parent {
			return true, nil
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		children, err := g.storage.ChildrenOfType(tx, linkType, current)
		if err != nil {
			return false, err
		}
		for _, l := range children {
			stack = append(stack, l.ChildRef)
		}
	}
	return false, nil
}

// ChildrenOf returns the direct children of parent under linkType.
func (g *LinkGraph) ChildrenOf(tx *bbolt.Tx, linkType LinkType, parent uuid.UUID) ([]*EconomicLink, error) {
	return g.storage.ChildrenOfType(tx, linkType, parent)
}

// TransitiveClosure returns every artifact reachable from root via links
// of linkType, in BFS discovery order.
func (g *LinkGraph) TransitiveClosure(tx *bbolt.Tx, linkType LinkType, root uuid.UUID) ([]uuid.UUID, error) {
	visited := map[uuid.UUID]bool{root: true}
	queue := []uuid.UUID{root}
	var out []uuid.UUID
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := g.storage.ChildrenOfType(tx, linkType, current)
		if err != nil {
			return nil, err
		}
		for _, l := range children {
			if visited[l.ChildRef] {
				continue
			}
			visited[l.ChildRef] = true
			out = append(out, l.ChildRef)
			queue = append(queue, l.ChildRef)
		}
	}
	return out, nil
}

// ShortestPath returns the shortest chain of links from src to dst under
// linkType, or ok=false if dst is unreachable.
func (g *LinkGraph) ShortestPath(tx *bbolt.Tx, linkType LinkType, src, dst uuid.UUID) (path []uuid.UUID, ok bool, err error) {
	if src == dst {
		return []uuid.UUID{src}, true, nil
	}
	visited := map[uuid.UUID]uuid.UUID{src: src}
	queue := []uuid.UUID{src}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := g.storage.ChildrenOfType(tx, linkType, current)
		if err != nil {
			return nil, false, err
		}
		for _, l := range children {
			if _, seen := visited[l.ChildRef]; seen {
				continue
			}
			visited[l.ChildRef] = current
			if l.ChildRef == dst {
				return reconstructPath(visited, src, dst), true, nil
			}
			queue = append(queue, l.ChildRef)
		}
	}
	return nil, false, nil
}

func reconstructPath(parents map[uuid.UUID]uuid.UUID, src, dst uuid.UUID) []uuid.UUID {
	var reversed []uuid.UUID
	for n := dst; ; {
		reversed = append(reversed, n)
		if n == src {
			break
		}
		n = parents[n]
	}
	out := make([]uuid.UUID, len(reversed))
	for i, v := range reversed {
		out[len(reversed)-1-i] = v
	}
	return out
}
