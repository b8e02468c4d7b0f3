// Package accesscontrol implements the fine-grained authorization engine:
// a policy store of (identity, resource, action) grants, transitive
// resource/identity hierarchies, and a single decision function over both.
package accesscontrol

import (
	"errors"
	"sync"
	"time"
)

// Action is the privilege requested or granted by a policy. Actions form a
// strict total order: own > write > read. Holding a higher action grants
// everything below it on the same resource.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionOwn   Action = "own"
)

var actionRank = map[Action]int{
	ActionRead:  1,
	ActionWrite: 2,
	ActionOwn:   3,
}

// Valid reports whether the action is one of read/write/own.
func (a Action) Valid() bool {
	_, ok := actionRank[a]
	return ok
}

// Satisfies reports whether holding action a is sufficient for a request of
// action req.
func (a Action) Satisfies(req Action) bool {
	return actionRank[a] >= actionRank[req] && req.Valid()
}

// EntityType tags a registered entity with its concrete kind.
type EntityType string

// Built-in entity types. Application packages register their own resource
// types at startup via RegisterEntityType.
const (
	TypeUser  EntityType = "User"
	TypeGroup EntityType = "Group"
)

var (
	entityTypesMu sync.RWMutex
	entityTypes   = map[EntityType]struct{}{
		TypeUser:  {},
		TypeGroup: {},
	}
)

// RegisterEntityType adds a type to the closed set of known entity kinds.
// Intended to be called from package init of the owning module, before any
// entities of that type are registered.
func RegisterEntityType(t EntityType) {
	entityTypesMu.Lock()
	defer entityTypesMu.Unlock()
	entityTypes[t] = struct{}{}
}

// KnownEntityType reports whether t has been registered.
func KnownEntityType(t EntityType) bool {
	entityTypesMu.RLock()
	defer entityTypesMu.RUnlock()
	_, ok := entityTypes[t]
	return ok
}

// Entity is a row in the global identifier-type registry. Every resource or
// identity is registered exactly once before policies may reference it.
type Entity struct {
	ID        string
	Type      EntityType
	CreatedAt time.Time
}

// Policy is a single grant: identity may perform Action (and everything it
// implies) on the resource. Public policies grant the action to anyone,
// including anonymous callers, and carry no identity.
type Policy struct {
	ID           string
	IdentityID   string
	IdentityType EntityType
	ResourceID   string
	ResourceType EntityType
	Action       Action
	Public       bool
	// Override marks an inheritance-stopping policy. Stored and surfaced,
	// not yet consulted by the decision path.
	Override  bool
	CreatedAt time.Time
}

// Edge is a parent/child relationship in one of the two hierarchies. When
// Inherit is set, policies granted on the parent apply transitively to the
// child.
type Edge struct {
	ParentID   string
	ParentType EntityType
	ChildID    string
	ChildType  EntityType
	Inherit    bool
	CreatedAt  time.Time
}

// RoleAdmin bypasses all policy checks.
const RoleAdmin = "Admin"

// CurrentUser is the authenticated calling context. A nil *CurrentUser is
// an anonymous caller. Supplied by the authentication layer, never
// persisted here.
type CurrentUser struct {
	ID     string
	Roles  []string
	Groups []string
}

// IsAdmin reports whether the caller holds the admin role.
func (u *CurrentUser) IsAdmin() bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// Decision status codes recorded in the access log.
const (
	StatusAllowed = 200
	StatusDenied  = 403
	StatusFault   = 500
)

// LogEntry is one append-only access-log record. IdentityID is empty for
// anonymous callers.
type LogEntry struct {
	ID           int64
	IdentityID   string
	ResourceID   string
	ResourceType EntityType
	Action       Action
	Status       int
	At           time.Time
}

// LogFilters narrows an audit-log read.
type LogFilters struct {
	IdentityID string
	ResourceID string
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

// Error taxonomy. Denial is an expected outcome and is never conflated
// with a fault; a resolver fault indicates corrupted hierarchy data and is
// surfaced as an internal error, not a deny.
var (
	ErrDenied           = errors.New("accesscontrol: access denied")
	ErrValidation       = errors.New("accesscontrol: validation failed")
	ErrConflict         = errors.New("accesscontrol: conflict")
	ErrNotFound         = errors.New("accesscontrol: not found")
	ErrResolverFault    = errors.New("accesscontrol: hierarchy resolver fault")
	ErrStoreUnavailable = errors.New("accesscontrol: store unavailable")
)
