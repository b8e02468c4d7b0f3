package accesscontrol

import (
	"context"
	"fmt"
	"time"
)

// Registry assigns every resource and identity a stable (id, type) entry
// that the policy store and hierarchy key against. Entries are created by
// the owning entity's creation path, never mutated, and removed only when
// the owning entity is deleted.
type Registry struct {
	store RegistryStore
}

// NewRegistry constructs a Registry.
func NewRegistry(store RegistryStore) *Registry {
	return &Registry{store: store}
}

// Register records (id, type) in the registry. Registering the same id
// with the same type again is a no-op; registering it under a different
// type is ErrConflict — an id maps to exactly one type for its lifetime.
func (r *Registry) Register(ctx context.Context, id string, typ EntityType) error {
	if id == "" {
		return fmt.Errorf("%w: entity id required", ErrValidation)
	}
	if !KnownEntityType(typ) {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, typ)
	}
	existing, err := r.store.InsertEntity(ctx, Entity{ID: id, Type: typ, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if existing.Type != typ {
		return fmt.Errorf("%w: id %q already registered as %q", ErrConflict, id, existing.Type)
	}
	return nil
}

// Lookup returns the registry entry for id, or ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, id string) (Entity, error) {
	return r.store.GetEntity(ctx, id)
}

// Deregister removes the entry. Policies and hierarchy edges referencing
// the id cascade away with it.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	return r.store.DeleteEntity(ctx, id)
}
