package accesscontrol

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	engine := New(Params{
		Policies:  store,
		Hierarchy: store,
		Registry:  store,
		Logs:      store,
		Logger:    logger,
	})
	return engine, store
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func register(t *testing.T, store *MemoryStore, id string, typ EntityType) {
	t.Helper()
	if err := NewRegistry(store).Register(context.Background(), id, typ); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func grant(t *testing.T, engine *Engine, p Policy) Policy {
	t.Helper()
	created, err := engine.Grant(context.Background(), p)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	return created
}

func TestOwnerGetsAllActions(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "doc", TypeGroup)

	grant(t, engine, Policy{
		IdentityID: "alice", IdentityType: TypeUser,
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionOwn,
	})

	alice := &CurrentUser{ID: "alice"}
	for _, action := range []Action{ActionRead, ActionWrite, ActionOwn} {
		if err := engine.Allows(ctx, alice, "doc", TypeGroup, action); err != nil {
			t.Fatalf("own should satisfy %s: %v", action, err)
		}
	}

	other := &CurrentUser{ID: "bob"}
	err := engine.Allows(ctx, other, "doc", TypeGroup, ActionRead)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied for other user, got %v", err)
	}
}

func TestWriteDoesNotImplyOwn(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "doc", TypeGroup)
	grant(t, engine, Policy{
		IdentityID: "alice", IdentityType: TypeUser,
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionWrite,
	})

	alice := &CurrentUser{ID: "alice"}
	if err := engine.Allows(ctx, alice, "doc", TypeGroup, ActionRead); err != nil {
		t.Fatalf("write should satisfy read: %v", err)
	}
	if err := engine.Allows(ctx, alice, "doc", TypeGroup, ActionOwn); !errors.Is(err, ErrDenied) {
		t.Fatalf("write must not satisfy own, got %v", err)
	}
}

func TestAdminBypass(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "doc", TypeGroup)

	admin := &CurrentUser{ID: "root", Roles: []string{RoleAdmin}}
	// No policies exist at all on this resource.
	for _, action := range []Action{ActionRead, ActionWrite, ActionOwn} {
		if err := engine.Allows(ctx, admin, "doc", TypeGroup, action); err != nil {
			t.Fatalf("admin bypass failed for %s: %v", action, err)
		}
	}
}

func TestAnonymousRequiresPublic(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "doc", TypeGroup)

	grant(t, engine, Policy{
		IdentityID: "alice", IdentityType: TypeUser,
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionOwn,
	})

	// A non-public policy alone never admits anonymous callers.
	if err := engine.Allows(ctx, nil, "doc", TypeGroup, ActionRead); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied for anonymous, got %v", err)
	}

	grant(t, engine, Policy{
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionRead, Public: true,
	})
	if err := engine.Allows(ctx, nil, "doc", TypeGroup, ActionRead); err != nil {
		t.Fatalf("public read should admit anonymous: %v", err)
	}
	// A public read grant does not imply write.
	if err := engine.Allows(ctx, nil, "doc", TypeGroup, ActionWrite); !errors.Is(err, ErrDenied) {
		t.Fatalf("public read must not grant write, got %v", err)
	}
}

func TestAnonymousNeverInherits(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "parent", TypeGroup)
	register(t, store, "child", TypeGroup)
	if err := engine.AttachResourceEdge(ctx, Edge{
		ParentID: "parent", ParentType: TypeGroup,
		ChildID: "child", ChildType: TypeGroup,
		Inherit: true,
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	grant(t, engine, Policy{ResourceID: "parent", ResourceType: TypeGroup, Action: ActionRead, Public: true})

	// Public policies must be attached to the exact resource for anonymous
	// callers; the hierarchy is not walked.
	if err := engine.Allows(ctx, nil, "child", TypeGroup, ActionRead); !errors.Is(err, ErrDenied) {
		t.Fatalf("anonymous must not inherit, got %v", err)
	}
}

func TestResourceInheritance(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "parent", TypeGroup)
	register(t, store, "child", TypeGroup)

	if err := engine.AttachResourceEdge(ctx, Edge{
		ParentID: "parent", ParentType: TypeGroup,
		ChildID: "child", ChildType: TypeGroup,
		Inherit: true,
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	grant(t, engine, Policy{
		IdentityID: "alice", IdentityType: TypeUser,
		ResourceID: "parent", ResourceType: TypeGroup,
		Action: ActionRead,
	})

	alice := &CurrentUser{ID: "alice"}
	if err := engine.Allows(ctx, alice, "child", TypeGroup, ActionRead); err != nil {
		t.Fatalf("grant on parent should reach child: %v", err)
	}

	// Breaking the inherit chain removes the inherited grant.
	if err := engine.SetResourceInherit(ctx, "parent", "child", false); err != nil {
		t.Fatalf("set inherit: %v", err)
	}
	if err := engine.Allows(ctx, alice, "child", TypeGroup, ActionRead); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied after inherit=false, got %v", err)
	}
}

func TestGroupMembershipGrants(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "staff", TypeGroup)
	register(t, store, "doc", TypeGroup)

	if err := engine.AttachIdentityEdge(ctx, Edge{
		ParentID: "staff", ParentType: TypeGroup,
		ChildID: "alice", ChildType: TypeUser,
		Inherit: true,
	}); err != nil {
		t.Fatalf("attach identity: %v", err)
	}
	grant(t, engine, Policy{
		IdentityID: "staff", IdentityType: TypeGroup,
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionWrite,
	})

	alice := &CurrentUser{ID: "alice"}
	if err := engine.Allows(ctx, alice, "doc", TypeGroup, ActionWrite); err != nil {
		t.Fatalf("group grant should reach member: %v", err)
	}

	stranger := &CurrentUser{ID: "mallory"}
	if err := engine.Allows(ctx, stranger, "doc", TypeGroup, ActionWrite); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied for non-member, got %v", err)
	}
}

func TestSuppliedGroupsAreExpanded(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "org", TypeGroup)
	register(t, store, "team", TypeGroup)
	register(t, store, "doc", TypeGroup)

	// team is nested in org; the caller arrives with team membership from
	// the authentication layer but no direct identity edge of its own.
	if err := engine.AttachIdentityEdge(ctx, Edge{
		ParentID: "org", ParentType: TypeGroup,
		ChildID: "team", ChildType: TypeGroup,
		Inherit: true,
	}); err != nil {
		t.Fatalf("attach identity: %v", err)
	}
	grant(t, engine, Policy{
		IdentityID: "org", IdentityType: TypeGroup,
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionRead,
	})

	user := &CurrentUser{ID: "ext-user", Groups: []string{"team"}}
	if err := engine.Allows(ctx, user, "doc", TypeGroup, ActionRead); err != nil {
		t.Fatalf("transitive group grant should apply: %v", err)
	}
}

func TestRevokeRemovesAccess(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "doc", TypeGroup)
	policy := grant(t, engine, Policy{
		IdentityID: "alice", IdentityType: TypeUser,
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionRead,
	})

	alice := &CurrentUser{ID: "alice"}
	if err := engine.Allows(ctx, alice, "doc", TypeGroup, ActionRead); err != nil {
		t.Fatalf("allows before revoke: %v", err)
	}
	if err := engine.Revoke(ctx, policy.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := engine.Allows(ctx, alice, "doc", TypeGroup, ActionRead); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied after revoke, got %v", err)
	}
}

func TestDecisionsAreLogged(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "doc", TypeGroup)
	grant(t, engine, Policy{
		IdentityID: "alice", IdentityType: TypeUser,
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionRead,
	})

	alice := &CurrentUser{ID: "alice"}
	bob := &CurrentUser{ID: "bob"}
	_ = engine.Allows(ctx, alice, "doc", TypeGroup, ActionRead)
	_ = engine.Allows(ctx, bob, "doc", TypeGroup, ActionRead)

	entries, err := engine.AuditLog(ctx, LogFilters{ResourceID: "doc"})
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	statuses := map[string]int{}
	for _, entry := range entries {
		statuses[entry.IdentityID] = entry.Status
	}
	if statuses["alice"] != StatusAllowed {
		t.Fatalf("alice status = %d, want %d", statuses["alice"], StatusAllowed)
	}
	if statuses["bob"] != StatusDenied {
		t.Fatalf("bob status = %d, want %d", statuses["bob"], StatusDenied)
	}
}

func TestLogWriteFailureDoesNotBlockDecision(t *testing.T) {
	store := NewMemoryStore()
	engine := New(Params{
		Policies:  store,
		Hierarchy: store,
		Registry:  store,
		Logs:      store,
		Recorder:  NewRecorder(failingLogStore{}, nil, slog.New(slog.NewTextHandler(testWriter{t}, nil))),
	})
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "doc", TypeGroup)
	if _, err := engine.Grant(ctx, Policy{
		IdentityID: "alice", IdentityType: TypeUser,
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionRead,
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// The decision must succeed even though every log write fails.
	if err := engine.Allows(ctx, &CurrentUser{ID: "alice"}, "doc", TypeGroup, ActionRead); err != nil {
		t.Fatalf("allows: %v", err)
	}
}

type failingLogStore struct{}

func (failingLogStore) InsertLog(ctx context.Context, entry LogEntry) error {
	return errors.New("disk on fire")
}

func (failingLogStore) Logs(ctx context.Context, filters LogFilters) ([]LogEntry, error) {
	return nil, errors.New("disk on fire")
}

func (failingLogStore) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, errors.New("disk on fire")
}

func TestGrantValidation(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "doc", TypeGroup)

	cases := []struct {
		name   string
		policy Policy
		want   error
	}{
		{"bad action", Policy{IdentityID: "alice", IdentityType: TypeUser, ResourceID: "doc", ResourceType: TypeGroup, Action: "delete"}, ErrValidation},
		{"unregistered resource", Policy{IdentityID: "alice", IdentityType: TypeUser, ResourceID: "ghost", ResourceType: TypeGroup, Action: ActionRead}, ErrValidation},
		{"unregistered identity", Policy{IdentityID: "ghost", IdentityType: TypeUser, ResourceID: "doc", ResourceType: TypeGroup, Action: ActionRead}, ErrValidation},
		{"missing identity", Policy{ResourceID: "doc", ResourceType: TypeGroup, Action: ActionRead}, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Grant(ctx, tc.policy); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	// Public grants need no identity.
	if _, err := engine.Grant(ctx, Policy{ResourceID: "doc", ResourceType: TypeGroup, Action: ActionRead, Public: true}); err != nil {
		t.Fatalf("public grant: %v", err)
	}
}

func TestDuplicateGrantConflicts(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "doc", TypeGroup)

	p := Policy{
		IdentityID: "alice", IdentityType: TypeUser,
		ResourceID: "doc", ResourceType: TypeGroup,
		Action: ActionRead,
	}
	grant(t, engine, p)
	if _, err := engine.Grant(ctx, p); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAllowsValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	user := &CurrentUser{ID: "alice"}

	if err := engine.Allows(ctx, user, "", TypeGroup, ActionRead); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing resource id: got %v", err)
	}
	if err := engine.Allows(ctx, user, "doc", "", ActionRead); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing resource type: got %v", err)
	}
	if err := engine.Allows(ctx, user, "doc", TypeGroup, "peek"); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad action: got %v", err)
	}
}

func TestCyclicHierarchySurfacesFault(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "a", TypeGroup)
	register(t, store, "b", TypeGroup)

	if err := engine.AttachResourceEdge(ctx, Edge{ParentID: "a", ParentType: TypeGroup, ChildID: "b", ChildType: TypeGroup, Inherit: true}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := engine.AttachResourceEdge(ctx, Edge{ParentID: "b", ParentType: TypeGroup, ChildID: "a", ChildType: TypeGroup, Inherit: true}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	err := engine.Allows(ctx, &CurrentUser{ID: "alice"}, "a", TypeGroup, ActionRead)
	if !errors.Is(err, ErrResolverFault) {
		t.Fatalf("expected ErrResolverFault, got %v", err)
	}
	if errors.Is(err, ErrDenied) {
		t.Fatal("a fault must not masquerade as a deny")
	}

	entries, logErr := engine.AuditLog(ctx, LogFilters{ResourceID: "a"})
	if logErr != nil {
		t.Fatalf("audit log: %v", logErr)
	}
	if len(entries) != 1 || entries[0].Status != StatusFault {
		t.Fatalf("expected one fault entry, got %+v", entries)
	}
}

// Filter/decision consistency: the bulk path must admit exactly the rows
// the per-row path admits.
func TestAllowedResourcesMatchesAllows(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	register(t, store, "alice", TypeUser)
	register(t, store, "staff", TypeGroup)

	resources := []string{"r1", "r2", "r3", "r4", "r5"}
	for _, id := range resources {
		register(t, store, id, TypeGroup)
	}
	if err := engine.AttachIdentityEdge(ctx, Edge{ParentID: "staff", ParentType: TypeGroup, ChildID: "alice", ChildType: TypeUser, Inherit: true}); err != nil {
		t.Fatalf("attach identity: %v", err)
	}
	if err := engine.AttachResourceEdge(ctx, Edge{ParentID: "r1", ParentType: TypeGroup, ChildID: "r2", ChildType: TypeGroup, Inherit: true}); err != nil {
		t.Fatalf("attach resource: %v", err)
	}

	grant(t, engine, Policy{IdentityID: "alice", IdentityType: TypeUser, ResourceID: "r1", ResourceType: TypeGroup, Action: ActionRead})
	grant(t, engine, Policy{IdentityID: "staff", IdentityType: TypeGroup, ResourceID: "r3", ResourceType: TypeGroup, Action: ActionOwn})
	grant(t, engine, Policy{ResourceID: "r4", ResourceType: TypeGroup, Action: ActionRead, Public: true})

	for _, user := range []*CurrentUser{nil, {ID: "alice"}, {ID: "bob"}, {ID: "root", Roles: []string{RoleAdmin}}} {
		for _, action := range []Action{ActionRead, ActionWrite, ActionOwn} {
			bulk, err := engine.AllowedResources(ctx, user, action, resources)
			if err != nil {
				t.Fatalf("allowed resources: %v", err)
			}
			bulkSet := map[string]bool{}
			for _, id := range bulk {
				bulkSet[id] = true
			}
			for _, id := range resources {
				single := engine.Allows(ctx, user, id, TypeGroup, action) == nil
				if single != bulkSet[id] {
					t.Errorf("user=%v action=%s resource=%s: allows=%v bulk=%v", user, action, id, single, bulkSet[id])
				}
			}
		}
	}
}
