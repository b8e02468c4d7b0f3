package accesscontrol

import (
	"context"
	"fmt"
	"strings"
)

// Filter is a SQL predicate restricting a bulk listing to authorized rows.
// Clause references the caller's resource id column and numbers its
// placeholders from $1; callers appending their own arguments continue the
// numbering after len(Args).
type Filter struct {
	Clause string
	Args   []any
}

// satisfyingActions expands a requested action to the set of granted
// actions that satisfy it under the own > write > read order.
func satisfyingActions(req Action) []string {
	out := make([]string, 0, len(actionRank))
	for a, rank := range actionRank {
		if rank >= actionRank[req] {
			out = append(out, string(a))
		}
	}
	return out
}

// FilterAllowed builds the predicate equivalent of Allows for listing
// queries over one resource type, so listing endpoints return only
// authorized rows without per-row decision calls. idCol is the column (or
// qualified expression) holding the candidate resource id.
//
// Admin callers get a pass-through predicate. Anonymous callers are
// restricted to public policies on the exact row. Authenticated callers
// match public policies or grants held by the identity closure, with
// inherited grants reached through a recursive walk over the resource
// hierarchy bounded at the resolver depth.
//
// The decision equivalence with Allows holds for well-formed hierarchies
// only. On a cyclic graph the resolver raises ErrResolverFault, while the
// CTE here merely stops enumerating at the depth bound; corrupted edges
// must be repaired, not filtered around.
func (e *Engine) FilterAllowed(ctx context.Context, user *CurrentUser, action Action, idCol string) (Filter, error) {
	if !action.Valid() {
		return Filter{}, fmt.Errorf("%w: invalid action %q", ErrValidation, action)
	}
	if idCol == "" {
		return Filter{}, fmt.Errorf("%w: id column required", ErrValidation)
	}

	if user.IsAdmin() {
		return Filter{Clause: "TRUE"}, nil
	}

	actions := satisfyingActions(action)

	if user == nil {
		clause := fmt.Sprintf(`EXISTS (
			SELECT 1 FROM access_policies p
			WHERE p.resource_id = %s AND p.public AND p.action = ANY($1)
		)`, idCol)
		return Filter{Clause: clause, Args: []any{actions}}, nil
	}

	identities, err := e.identityClosure(ctx, user)
	if err != nil {
		return Filter{}, err
	}
	identityIDs := make([]string, 0, len(identities))
	for id := range identities {
		identityIDs = append(identityIDs, id)
	}

	clause := fmt.Sprintf(`EXISTS (
		SELECT 1 FROM access_policies p
		WHERE p.action = ANY($1)
		  AND (p.public OR p.identity_id = ANY($2))
		  AND p.resource_id IN (
			WITH RECURSIVE lineage (id, depth) AS (
				SELECT %s, 0
				UNION ALL
				SELECT h.parent_id, lineage.depth + 1
				FROM resource_hierarchy h
				JOIN lineage ON h.child_id = lineage.id
				WHERE h.inherit AND lineage.depth < $3
			)
			SELECT id FROM lineage
		  )
	)`, idCol)
	return Filter{
		Clause: strings.TrimSpace(clause),
		Args:   []any{actions, identityIDs, e.resolver.Depth()},
	}, nil
}
