package accesscontrol

import (
	"context"
	"fmt"
)

// DefaultMaxDepth bounds hierarchy traversals when no explicit limit is
// configured.
const DefaultMaxDepth = 32

// Resolver computes transitive closures over the resource and identity
// hierarchies. Traversals are recomputed on every call; the hierarchy can
// change between calls.
//
// The hierarchies are expected to be forests. A node reached twice during
// a walk, or a walk exceeding the depth bound, is reported as
// ErrResolverFault rather than silently skipped: it indicates corrupted
// hierarchy data, not a legitimate shape.
type Resolver struct {
	store    HierarchyStore
	maxDepth int
}

// NewResolver constructs a Resolver. maxDepth <= 0 selects
// DefaultMaxDepth.
func NewResolver(store HierarchyStore, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{store: store, maxDepth: maxDepth}
}

// AncestorsOfResource walks resource edges upward from id, following only
// edges with inherit set, and returns ancestors nearest-first. The order
// of equal-depth siblings is unspecified; callers must not depend on it.
func (r *Resolver) AncestorsOfResource(ctx context.Context, id string) ([]string, error) {
	return r.walk(ctx, id, func(ctx context.Context, node string) ([]Edge, error) {
		return r.store.ParentsOfResource(ctx, node)
	}, edgeParent, true)
}

// DescendantsOfResource walks resource edges downward from id, following
// only edges with inherit set. Used when a grant on a parent must be
// checked against queries scoped to its children.
func (r *Resolver) DescendantsOfResource(ctx context.Context, id string) ([]string, error) {
	return r.walk(ctx, id, func(ctx context.Context, node string) ([]Edge, error) {
		return r.store.ChildrenOfResource(ctx, node)
	}, edgeChild, true)
}

// AncestorsOfIdentity returns every identity the given identity belongs
// to, directly or transitively (the groups-of-groups closure),
// nearest-first.
func (r *Resolver) AncestorsOfIdentity(ctx context.Context, id string) ([]string, error) {
	return r.walk(ctx, id, func(ctx context.Context, node string) ([]Edge, error) {
		return r.store.ParentsOfIdentity(ctx, node)
	}, edgeParent, true)
}

// DescendantsOfIdentity returns every identity contained, directly or
// transitively, in the given identity.
func (r *Resolver) DescendantsOfIdentity(ctx context.Context, id string) ([]string, error) {
	return r.walk(ctx, id, func(ctx context.Context, node string) ([]Edge, error) {
		return r.store.ChildrenOfIdentity(ctx, node)
	}, edgeChild, true)
}

func edgeParent(e Edge) string { return e.ParentID }
func edgeChild(e Edge) string  { return e.ChildID }

// walk is a breadth-first traversal with a visited set. next selects the
// far endpoint of each edge; inheritOnly gates on the edge's inherit flag.
func (r *Resolver) walk(
	ctx context.Context,
	start string,
	neighbors func(context.Context, string) ([]Edge, error),
	next func(Edge) string,
	inheritOnly bool,
) ([]string, error) {
	if start == "" {
		return nil, fmt.Errorf("%w: empty id", ErrValidation)
	}

	visited := map[string]struct{}{start: {}}
	frontier := []string{start}
	var out []string

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= r.maxDepth {
			return nil, fmt.Errorf("%w: depth bound %d exceeded at %q", ErrResolverFault, r.maxDepth, start)
		}
		var level []string
		for _, node := range frontier {
			edges, err := neighbors(ctx, node)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if inheritOnly && !e.Inherit {
					continue
				}
				n := next(e)
				if _, seen := visited[n]; seen {
					return nil, fmt.Errorf("%w: node %q reached twice from %q", ErrResolverFault, n, start)
				}
				visited[n] = struct{}{}
				level = append(level, n)
			}
		}
		out = append(out, level...)
		frontier = level
	}
	return out, nil
}

// Depth returns the configured traversal bound.
func (r *Resolver) Depth() int {
	return r.maxDepth
}
