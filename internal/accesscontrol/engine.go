package accesscontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DecisionMetrics receives decision outcomes. Implemented by the
// observability package; nil disables instrumentation.
type DecisionMetrics interface {
	Decision(outcome string)
}

// Metric outcome labels.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeFault   = "fault"
)

// Engine is the single authoritative decision point. It combines policy
// store lookups with hierarchy expansion and the admin/public override
// rules, records every decision, and exposes grant/revoke mutation paths.
//
// The engine is stateless between calls; every operation runs against the
// backing store under its read-committed snapshot.
type Engine struct {
	policies  PolicyStore
	hierarchy HierarchyStore
	registry  RegistryStore
	logs      LogStore
	resolver  *Resolver
	recorder  *Recorder
	cache     *DecisionCache
	metrics   DecisionMetrics
	logger    *slog.Logger
}

// Params collects Engine dependencies. Cache and Metrics are optional.
type Params struct {
	Policies  PolicyStore
	Hierarchy HierarchyStore
	Registry  RegistryStore
	Logs      LogStore
	Resolver  *Resolver
	Recorder  *Recorder
	Cache     *DecisionCache
	Metrics   DecisionMetrics
	Logger    *slog.Logger
}

// New constructs an Engine.
func New(p Params) *Engine {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Resolver == nil {
		p.Resolver = NewResolver(p.Hierarchy, DefaultMaxDepth)
	}
	if p.Recorder == nil {
		p.Recorder = NewRecorder(p.Logs, nil, p.Logger)
	}
	return &Engine{
		policies:  p.Policies,
		hierarchy: p.Hierarchy,
		registry:  p.Registry,
		logs:      p.Logs,
		resolver:  p.Resolver,
		recorder:  p.Recorder,
		cache:     p.Cache,
		metrics:   p.Metrics,
		logger:    p.Logger,
	}
}

// Resolver exposes the hierarchy resolver for callers that need raw
// ancestor/descendant walks.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// Allows decides whether user (nil for anonymous) may perform action on
// the given resource. A nil return is an allow. Denial is returned as
// ErrDenied so callers must handle it explicitly; absence of a satisfying
// policy is always denial, never access.
func (e *Engine) Allows(ctx context.Context, user *CurrentUser, resourceID string, resourceType EntityType, action Action) error {
	if err := validateTarget(resourceID, resourceType, action); err != nil {
		return err
	}

	allowed, err := e.decide(ctx, user, resourceID, action, true)
	if err != nil {
		e.record(ctx, user, resourceID, resourceType, action, StatusFault)
		e.count(OutcomeFault)
		return err
	}
	if !allowed {
		e.record(ctx, user, resourceID, resourceType, action, StatusDenied)
		e.count(OutcomeDenied)
		return fmt.Errorf("%w: %s on %s %q", ErrDenied, action, resourceType, resourceID)
	}
	e.record(ctx, user, resourceID, resourceType, action, StatusAllowed)
	e.count(OutcomeAllowed)
	return nil
}

// AllowedResources filters resourceIDs down to those the user may perform
// action on, using the same decision path as Allows but without logging
// each row. This is the in-process equivalent of FilterAllowed; the two
// must never disagree.
func (e *Engine) AllowedResources(ctx context.Context, user *CurrentUser, action Action, resourceIDs []string) ([]string, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: invalid action %q", ErrValidation, action)
	}
	verdicts := make([]bool, len(resourceIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range resourceIDs {
		i, id := i, id
		g.Go(func() error {
			allowed, err := e.decide(gctx, user, id, action, false)
			if err != nil {
				return err
			}
			verdicts[i] = allowed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resourceIDs))
	for i, id := range resourceIDs {
		if verdicts[i] {
			out = append(out, id)
		}
	}
	return out, nil
}

// decide implements the ordered decision algorithm: anonymous-public,
// admin bypass, then hierarchy-expanded policy matching under the
// privilege total order.
func (e *Engine) decide(ctx context.Context, user *CurrentUser, resourceID string, action Action, useCache bool) (bool, error) {
	// Anonymous callers match public policies on the exact resource only;
	// they never receive inherited or group-expanded grants.
	if user == nil {
		if useCache {
			if allowed, ok := e.cacheGet(ctx, "", resourceID, action); ok {
				return allowed, nil
			}
		}
		policies, err := e.policies.PoliciesByResource(ctx, resourceID, nil)
		if err != nil {
			return false, err
		}
		allowed := false
		for _, p := range policies {
			if p.Public && p.Action.Satisfies(action) {
				allowed = true
				break
			}
		}
		if useCache {
			e.cachePut(ctx, "", resourceID, action, allowed)
		}
		return allowed, nil
	}

	if user.IsAdmin() {
		return true, nil
	}

	if useCache {
		if allowed, ok := e.cacheGet(ctx, user.ID, resourceID, action); ok {
			return allowed, nil
		}
	}

	resources, err := e.resourceClosure(ctx, resourceID)
	if err != nil {
		return false, err
	}
	identities, err := e.identityClosure(ctx, user)
	if err != nil {
		return false, err
	}

	policies, err := e.policies.PoliciesByResources(ctx, resources)
	if err != nil {
		return false, err
	}

	allowed := false
	for _, p := range policies {
		if !p.Action.Satisfies(action) {
			continue
		}
		if p.Public {
			allowed = true
			break
		}
		if _, ok := identities[p.IdentityID]; ok {
			allowed = true
			break
		}
	}
	if useCache {
		e.cachePut(ctx, user.ID, resourceID, action, allowed)
	}
	return allowed, nil
}

// resourceClosure is the resource plus its inherit-reachable ancestors.
// Any satisfying policy at any depth is sufficient; no closer-wins rule is
// applied.
func (e *Engine) resourceClosure(ctx context.Context, resourceID string) ([]string, error) {
	ancestors, err := e.resolver.AncestorsOfResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return append([]string{resourceID}, ancestors...), nil
}

// identityClosure is the user plus every group it belongs to, directly
// (as supplied by the authentication layer) or transitively via the
// identity hierarchy.
func (e *Engine) identityClosure(ctx context.Context, user *CurrentUser) (map[string]struct{}, error) {
	set := map[string]struct{}{user.ID: {}}
	expand := func(id string) error {
		ancestors, err := e.resolver.AncestorsOfIdentity(ctx, id)
		if err != nil {
			return err
		}
		for _, a := range ancestors {
			set[a] = struct{}{}
		}
		return nil
	}
	if err := expand(user.ID); err != nil {
		return nil, err
	}
	for _, g := range user.Groups {
		if _, ok := set[g]; ok {
			continue
		}
		set[g] = struct{}{}
		if err := expand(g); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Grant creates a policy. Non-public grants require both endpoints to be
// pre-registered; public grants carry no identity. The policy id is
// assigned here.
func (e *Engine) Grant(ctx context.Context, p Policy) (Policy, error) {
	if !p.Action.Valid() {
		return Policy{}, fmt.Errorf("%w: invalid action %q", ErrValidation, p.Action)
	}
	if err := validateTarget(p.ResourceID, p.ResourceType, p.Action); err != nil {
		return Policy{}, err
	}
	if err := e.requireRegistered(ctx, p.ResourceID, p.ResourceType); err != nil {
		return Policy{}, err
	}
	if p.Public {
		p.IdentityID = ""
		p.IdentityType = ""
	} else {
		if p.IdentityID == "" || p.IdentityType == "" {
			return Policy{}, fmt.Errorf("%w: identity id and type required for non-public grant", ErrValidation)
		}
		if err := e.requireRegistered(ctx, p.IdentityID, p.IdentityType); err != nil {
			return Policy{}, err
		}
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now().UTC()
	created, err := e.policies.InsertPolicy(ctx, p)
	if err != nil {
		return Policy{}, err
	}
	e.bump(ctx)
	return created, nil
}

// Revoke deletes a policy. Revocation is deletion; policies are never
// updated in place.
func (e *Engine) Revoke(ctx context.Context, policyID string) error {
	if policyID == "" {
		return fmt.Errorf("%w: policy id required", ErrValidation)
	}
	if err := e.policies.DeletePolicy(ctx, policyID); err != nil {
		return err
	}
	e.bump(ctx)
	return nil
}

// Policy fetches a single policy by id.
func (e *Engine) Policy(ctx context.Context, policyID string) (Policy, error) {
	if policyID == "" {
		return Policy{}, fmt.Errorf("%w: policy id required", ErrValidation)
	}
	return e.policies.GetPolicy(ctx, policyID)
}

// PoliciesByResource lists grants attached to a resource, optionally by
// exact action.
func (e *Engine) PoliciesByResource(ctx context.Context, resourceID string, action *Action) ([]Policy, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id required", ErrValidation)
	}
	if action != nil && !action.Valid() {
		return nil, fmt.Errorf("%w: invalid action %q", ErrValidation, *action)
	}
	return e.policies.PoliciesByResource(ctx, resourceID, action)
}

// PoliciesByIdentity lists grants held by an identity.
func (e *Engine) PoliciesByIdentity(ctx context.Context, identityID string) ([]Policy, error) {
	if identityID == "" {
		return nil, fmt.Errorf("%w: identity id required", ErrValidation)
	}
	return e.policies.PoliciesByIdentity(ctx, identityID)
}

// AttachResourceEdge nests child under parent in the resource hierarchy.
func (e *Engine) AttachResourceEdge(ctx context.Context, edge Edge) error {
	if err := e.validateEdge(ctx, edge); err != nil {
		return err
	}
	if err := e.hierarchy.AttachResource(ctx, edge); err != nil {
		return err
	}
	e.bump(ctx)
	return nil
}

// DetachResourceEdge removes a resource edge.
func (e *Engine) DetachResourceEdge(ctx context.Context, parentID, childID string) error {
	if err := e.hierarchy.DetachResource(ctx, parentID, childID); err != nil {
		return err
	}
	e.bump(ctx)
	return nil
}

// SetResourceInherit flips the one mutable flag on a resource edge.
func (e *Engine) SetResourceInherit(ctx context.Context, parentID, childID string, inherit bool) error {
	if err := e.hierarchy.SetResourceInherit(ctx, parentID, childID, inherit); err != nil {
		return err
	}
	e.bump(ctx)
	return nil
}

// AttachIdentityEdge places child (a user or sub-group) inside parent.
func (e *Engine) AttachIdentityEdge(ctx context.Context, edge Edge) error {
	if err := e.validateEdge(ctx, edge); err != nil {
		return err
	}
	if err := e.hierarchy.AttachIdentity(ctx, edge); err != nil {
		return err
	}
	e.bump(ctx)
	return nil
}

// DetachIdentityEdge removes an identity edge.
func (e *Engine) DetachIdentityEdge(ctx context.Context, parentID, childID string) error {
	if err := e.hierarchy.DetachIdentity(ctx, parentID, childID); err != nil {
		return err
	}
	e.bump(ctx)
	return nil
}

// AuditLog reads recorded decisions.
func (e *Engine) AuditLog(ctx context.Context, filters LogFilters) ([]LogEntry, error) {
	if filters.PageSize <= 0 {
		filters.PageSize = 50
	}
	if filters.PageSize > 200 {
		filters.PageSize = 200
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	return e.logs.Logs(ctx, filters)
}

func (e *Engine) validateEdge(ctx context.Context, edge Edge) error {
	if edge.ParentID == "" || edge.ChildID == "" {
		return fmt.Errorf("%w: parent and child ids required", ErrValidation)
	}
	if edge.ParentID == edge.ChildID {
		return fmt.Errorf("%w: edge endpoints must differ", ErrValidation)
	}
	if err := e.requireRegistered(ctx, edge.ParentID, edge.ParentType); err != nil {
		return err
	}
	return e.requireRegistered(ctx, edge.ChildID, edge.ChildType)
}

func (e *Engine) requireRegistered(ctx context.Context, id string, typ EntityType) error {
	entity, err := e.registry.GetEntity(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: entity %q is not registered", ErrValidation, id)
		}
		return err
	}
	if typ != "" && entity.Type != typ {
		return fmt.Errorf("%w: entity %q is registered as %q, not %q", ErrValidation, id, entity.Type, typ)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, user *CurrentUser, resourceID string, resourceType EntityType, action Action, status int) {
	identityID := ""
	if user != nil {
		identityID = user.ID
	}
	e.recorder.Record(ctx, identityID, resourceID, resourceType, action, status)
}

func (e *Engine) count(outcome string) {
	if e.metrics != nil {
		e.metrics.Decision(outcome)
	}
}

func (e *Engine) cacheGet(ctx context.Context, identityID, resourceID string, action Action) (bool, bool) {
	if e.cache == nil {
		return false, false
	}
	allowed, ok, err := e.cache.Get(ctx, identityID, resourceID, action)
	if err != nil {
		e.logger.Debug("decision cache read failed", slog.Any("error", err))
		return false, false
	}
	return allowed, ok
}

func (e *Engine) cachePut(ctx context.Context, identityID, resourceID string, action Action, allowed bool) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Put(ctx, identityID, resourceID, action, allowed); err != nil {
		e.logger.Debug("decision cache write failed", slog.Any("error", err))
	}
}

func (e *Engine) bump(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Bump(ctx); err != nil {
		e.logger.Debug("decision cache bump failed", slog.Any("error", err))
	}
}

func validateTarget(resourceID string, resourceType EntityType, action Action) error {
	if resourceID == "" || resourceType == "" {
		return fmt.Errorf("%w: resource id and type required", ErrValidation)
	}
	if !action.Valid() {
		return fmt.Errorf("%w: invalid action %q", ErrValidation, action)
	}
	return nil
}
