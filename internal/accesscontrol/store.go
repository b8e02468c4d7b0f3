package accesscontrol

import (
	"context"
	"time"
)

// PolicyStore is a pure keyed store of grants. No decision logic lives
// behind these methods.
type PolicyStore interface {
	// InsertPolicy persists a new policy atomically, failing with
	// ErrConflict when an equivalent grant already exists.
	InsertPolicy(ctx context.Context, p Policy) (Policy, error)
	// PoliciesByResource returns policies attached to one resource,
	// optionally filtered by exact action (no privilege expansion).
	PoliciesByResource(ctx context.Context, resourceID string, action *Action) ([]Policy, error)
	// PoliciesByResources returns policies attached to any of the given
	// resources. Used by the engine after hierarchy expansion.
	PoliciesByResources(ctx context.Context, resourceIDs []string) ([]Policy, error)
	PoliciesByIdentity(ctx context.Context, identityID string) ([]Policy, error)
	GetPolicy(ctx context.Context, policyID string) (Policy, error)
	DeletePolicy(ctx context.Context, policyID string) error
}

// HierarchyStore persists the two self-referential hierarchies.
type HierarchyStore interface {
	ParentsOfResource(ctx context.Context, childID string) ([]Edge, error)
	ChildrenOfResource(ctx context.Context, parentID string) ([]Edge, error)
	AttachResource(ctx context.Context, e Edge) error
	DetachResource(ctx context.Context, parentID, childID string) error
	SetResourceInherit(ctx context.Context, parentID, childID string, inherit bool) error

	ParentsOfIdentity(ctx context.Context, childID string) ([]Edge, error)
	ChildrenOfIdentity(ctx context.Context, parentID string) ([]Edge, error)
	AttachIdentity(ctx context.Context, e Edge) error
	DetachIdentity(ctx context.Context, parentID, childID string) error
}

// RegistryStore persists the identifier-type registry.
type RegistryStore interface {
	// InsertEntity is an insert-or-noop on id. Returns the row that is in
	// the store afterwards, whether freshly inserted or pre-existing.
	InsertEntity(ctx context.Context, e Entity) (Entity, error)
	GetEntity(ctx context.Context, id string) (Entity, error)
	DeleteEntity(ctx context.Context, id string) error
}

// LogStore persists access-log entries. Append-only in normal operation;
// the retention sweep is the only deleter.
type LogStore interface {
	InsertLog(ctx context.Context, entry LogEntry) error
	Logs(ctx context.Context, filters LogFilters) ([]LogEntry, error)
	PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
