package accesscontrol

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process implementation of every store interface.
// Used by tests and by the development mode of the service shell; the
// production stores live in repo.sql.go.
type MemoryStore struct {
	mu            sync.RWMutex
	entities      map[string]Entity
	policies      map[string]Policy
	resourceEdges map[string]map[string]*Edge // parent -> child
	identityEdges map[string]map[string]*Edge
	logs          []LogEntry
	nextLogID     int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:      make(map[string]Entity),
		policies:      make(map[string]Policy),
		resourceEdges: make(map[string]map[string]*Edge),
		identityEdges: make(map[string]map[string]*Edge),
	}
}

// --- RegistryStore ---

func (m *MemoryStore) InsertEntity(ctx context.Context, e Entity) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entities[e.ID]; ok {
		return existing, nil
	}
	m.entities[e.ID] = e
	return e, nil
}

func (m *MemoryStore) GetEntity(ctx context.Context, id string) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return Entity{}, fmt.Errorf("%w: entity %q", ErrNotFound, id)
	}
	return e, nil
}

func (m *MemoryStore) DeleteEntity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		return fmt.Errorf("%w: entity %q", ErrNotFound, id)
	}
	delete(m.entities, id)
	// Cascade: policies and edges referencing the id go with it.
	for pid, p := range m.policies {
		if p.ResourceID == id || (!p.Public && p.IdentityID == id) {
			delete(m.policies, pid)
		}
	}
	for _, edges := range []map[string]map[string]*Edge{m.resourceEdges, m.identityEdges} {
		delete(edges, id)
		for _, children := range edges {
			delete(children, id)
		}
	}
	return nil
}

// --- PolicyStore ---

func (m *MemoryStore) InsertPolicy(ctx context.Context, p Policy) (Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.policies {
		if existing.ResourceID != p.ResourceID || existing.Action != p.Action {
			continue
		}
		if p.Public && existing.Public {
			return Policy{}, fmt.Errorf("%w: duplicate public policy", ErrConflict)
		}
		if !p.Public && !existing.Public && existing.IdentityID == p.IdentityID {
			return Policy{}, fmt.Errorf("%w: duplicate policy", ErrConflict)
		}
	}
	m.policies[p.ID] = p
	return p, nil
}

func (m *MemoryStore) PoliciesByResource(ctx context.Context, resourceID string, action *Action) ([]Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Policy
	for _, p := range m.policies {
		if p.ResourceID != resourceID {
			continue
		}
		if action != nil && p.Action != *action {
			continue
		}
		out = append(out, p)
	}
	sortPolicies(out)
	return out, nil
}

func (m *MemoryStore) PoliciesByResources(ctx context.Context, resourceIDs []string) ([]Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]struct{}, len(resourceIDs))
	for _, id := range resourceIDs {
		want[id] = struct{}{}
	}
	var out []Policy
	for _, p := range m.policies {
		if _, ok := want[p.ResourceID]; ok {
			out = append(out, p)
		}
	}
	sortPolicies(out)
	return out, nil
}

func (m *MemoryStore) PoliciesByIdentity(ctx context.Context, identityID string) ([]Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Policy
	for _, p := range m.policies {
		if !p.Public && p.IdentityID == identityID {
			out = append(out, p)
		}
	}
	sortPolicies(out)
	return out, nil
}

func (m *MemoryStore) GetPolicy(ctx context.Context, policyID string) (Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[policyID]
	if !ok {
		return Policy{}, fmt.Errorf("%w: policy %q", ErrNotFound, policyID)
	}
	return p, nil
}

func (m *MemoryStore) DeletePolicy(ctx context.Context, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[policyID]; !ok {
		return fmt.Errorf("%w: policy %q", ErrNotFound, policyID)
	}
	delete(m.policies, policyID)
	return nil
}

// --- HierarchyStore ---

func (m *MemoryStore) AttachResource(ctx context.Context, e Edge) error {
	return m.attach(m.resourceEdges, e)
}

func (m *MemoryStore) DetachResource(ctx context.Context, parentID, childID string) error {
	return m.detach(m.resourceEdges, parentID, childID)
}

func (m *MemoryStore) SetResourceInherit(ctx context.Context, parentID, childID string, inherit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	children, ok := m.resourceEdges[parentID]
	if !ok {
		return fmt.Errorf("%w: edge %q->%q", ErrNotFound, parentID, childID)
	}
	edge, ok := children[childID]
	if !ok {
		return fmt.Errorf("%w: edge %q->%q", ErrNotFound, parentID, childID)
	}
	edge.Inherit = inherit
	return nil
}

func (m *MemoryStore) ParentsOfResource(ctx context.Context, childID string) ([]Edge, error) {
	return m.parents(m.resourceEdges, childID), nil
}

func (m *MemoryStore) ChildrenOfResource(ctx context.Context, parentID string) ([]Edge, error) {
	return m.children(m.resourceEdges, parentID), nil
}

func (m *MemoryStore) AttachIdentity(ctx context.Context, e Edge) error {
	return m.attach(m.identityEdges, e)
}

func (m *MemoryStore) DetachIdentity(ctx context.Context, parentID, childID string) error {
	return m.detach(m.identityEdges, parentID, childID)
}

func (m *MemoryStore) ParentsOfIdentity(ctx context.Context, childID string) ([]Edge, error) {
	return m.parents(m.identityEdges, childID), nil
}

func (m *MemoryStore) ChildrenOfIdentity(ctx context.Context, parentID string) ([]Edge, error) {
	return m.children(m.identityEdges, parentID), nil
}

func (m *MemoryStore) attach(edges map[string]map[string]*Edge, e Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	children, ok := edges[e.ParentID]
	if !ok {
		children = make(map[string]*Edge)
		edges[e.ParentID] = children
	}
	if _, exists := children[e.ChildID]; exists {
		return fmt.Errorf("%w: edge %q->%q", ErrConflict, e.ParentID, e.ChildID)
	}
	copied := e
	children[e.ChildID] = &copied
	return nil
}

func (m *MemoryStore) detach(edges map[string]map[string]*Edge, parentID, childID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	children, ok := edges[parentID]
	if !ok {
		return fmt.Errorf("%w: edge %q->%q", ErrNotFound, parentID, childID)
	}
	if _, exists := children[childID]; !exists {
		return fmt.Errorf("%w: edge %q->%q", ErrNotFound, parentID, childID)
	}
	delete(children, childID)
	return nil
}

func (m *MemoryStore) parents(edges map[string]map[string]*Edge, childID string) []Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Edge
	for _, children := range edges {
		if edge, ok := children[childID]; ok {
			out = append(out, *edge)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParentID < out[j].ParentID })
	return out
}

func (m *MemoryStore) children(edges map[string]map[string]*Edge, parentID string) []Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Edge
	for _, edge := range edges[parentID] {
		out = append(out, *edge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChildID < out[j].ChildID })
	return out
}

// --- LogStore ---

func (m *MemoryStore) InsertLog(ctx context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogID++
	entry.ID = m.nextLogID
	m.logs = append(m.logs, entry)
	return nil
}

func (m *MemoryStore) Logs(ctx context.Context, filters LogFilters) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LogEntry
	for _, entry := range m.logs {
		if filters.IdentityID != "" && entry.IdentityID != filters.IdentityID {
			continue
		}
		if filters.ResourceID != "" && entry.ResourceID != filters.ResourceID {
			continue
		}
		if !filters.From.IsZero() && entry.At.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && entry.At.After(filters.To) {
			continue
		}
		out = append(out, entry)
	}
	// Newest first, then page.
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if filters.PageSize > 0 {
		offset := (filters.Page - 1) * filters.PageSize
		if offset < 0 {
			offset = 0
		}
		if offset >= len(out) {
			return nil, nil
		}
		end := offset + filters.PageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[offset:end]
	}
	return out, nil
}

func (m *MemoryStore) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var purged int64
	for _, entry := range m.logs {
		if entry.At.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	m.logs = kept
	return purged, nil
}

func sortPolicies(policies []Policy) {
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })
}
