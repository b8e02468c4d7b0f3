package accesscontrol

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterIdempotent(t *testing.T) {
	registry := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	if err := registry.Register(ctx, "u1", TypeUser); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Same id, same type: no-op.
	if err := registry.Register(ctx, "u1", TypeUser); err != nil {
		t.Fatalf("re-register same type: %v", err)
	}
	entity, err := registry.Lookup(ctx, "u1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entity.Type != TypeUser {
		t.Fatalf("expected User, got %s", entity.Type)
	}
}

func TestRegisterTypeConflict(t *testing.T) {
	registry := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	if err := registry.Register(ctx, "x", TypeUser); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := registry.Register(ctx, "x", TypeGroup)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	registry := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	if err := registry.Register(ctx, "", TypeUser); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty id, got %v", err)
	}
	if err := registry.Register(ctx, "y", EntityType("Martian")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown type, got %v", err)
	}
}

func TestDeregisterCascades(t *testing.T) {
	store := NewMemoryStore()
	registry := NewRegistry(store)
	ctx := context.Background()

	if err := registry.Register(ctx, "r1", TypeGroup); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.InsertPolicy(ctx, Policy{ID: "p1", ResourceID: "r1", ResourceType: TypeGroup, Action: ActionRead, Public: true}); err != nil {
		t.Fatalf("insert policy: %v", err)
	}
	if err := registry.Deregister(ctx, "r1"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := registry.Lookup(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	policies, err := store.PoliciesByResource(ctx, "r1", nil)
	if err != nil {
		t.Fatalf("policies: %v", err)
	}
	if len(policies) != 0 {
		t.Fatalf("expected cascade delete, got %d policies", len(policies))
	}
}
