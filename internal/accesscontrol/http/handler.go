// Package achttp exposes the policy engine over JSON endpoints. All
// status-code translation happens here; the engine returns only its typed
// error taxonomy.
package achttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/platform/httpx"
)

// Handler serves the access-control API.
type Handler struct {
	engine   *accesscontrol.Engine
	registry *accesscontrol.Registry
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(engine *accesscontrol.Engine, registry *accesscontrol.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		engine:   engine,
		registry: registry,
		validate: validator.New(),
		logger:   logger,
	}
}

// Mount registers routes. Check and grant listing are open to any
// authenticated caller (grant listing is itself authorized per resource);
// registry, hierarchy, and audit administration require the admin role.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/access", func(r chi.Router) {
		r.Post("/check", h.check)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			r.Post("/grants", h.createGrant)
			r.Get("/grants", h.listGrants)
			r.Delete("/grants/{policyID}", h.revokeGrant)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser, auth.RequireAdmin)
			r.Post("/entities", h.registerEntity)
			r.Delete("/entities/{entityID}", h.deregisterEntity)

			r.Post("/hierarchy/resources", h.attachResource)
			r.Patch("/hierarchy/resources/{parentID}/{childID}", h.setResourceInherit)
			r.Delete("/hierarchy/resources/{parentID}/{childID}", h.detachResource)

			r.Post("/hierarchy/identities", h.attachIdentity)
			r.Delete("/hierarchy/identities/{parentID}/{childID}", h.detachIdentity)

			r.Get("/audit", h.auditLog)
		})
	})
}

type checkRequest struct {
	ResourceID   string `json:"resource_id" validate:"required"`
	ResourceType string `json:"resource_type" validate:"required"`
	Action       string `json:"action" validate:"required,oneof=read write own"`
}

// check runs the decision for the current caller, anonymous included.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := accesscontrol.UserFromContext(r.Context())
	err := h.engine.Allows(r.Context(), user,
		req.ResourceID, accesscontrol.EntityType(req.ResourceType), accesscontrol.Action(req.Action))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": true})
}

type grantRequest struct {
	IdentityID   string `json:"identity_id" validate:"required_unless=Public true"`
	IdentityType string `json:"identity_type" validate:"required_unless=Public true"`
	ResourceID   string `json:"resource_id" validate:"required"`
	ResourceType string `json:"resource_type" validate:"required"`
	Action       string `json:"action" validate:"required,oneof=read write own"`
	Public       bool   `json:"public"`
	Override     bool   `json:"override"`
}

type policyResponse struct {
	ID           string    `json:"id"`
	IdentityID   string    `json:"identity_id,omitempty"`
	IdentityType string    `json:"identity_type,omitempty"`
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	Action       string    `json:"action"`
	Public       bool      `json:"public"`
	Override     bool      `json:"override"`
	CreatedAt    time.Time `json:"created_at"`
}

func toPolicyResponse(p accesscontrol.Policy) policyResponse {
	return policyResponse{
		ID:           p.ID,
		IdentityID:   p.IdentityID,
		IdentityType: string(p.IdentityType),
		ResourceID:   p.ResourceID,
		ResourceType: string(p.ResourceType),
		Action:       string(p.Action),
		Public:       p.Public,
		Override:     p.Override,
		CreatedAt:    p.CreatedAt,
	}
}

// createGrant shares a resource. The caller must hold own on the resource
// (or be admin) to hand out grants on it.
func (h *Handler) createGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := accesscontrol.UserFromContext(r.Context())
	if err := h.engine.Allows(r.Context(), user,
		req.ResourceID, accesscontrol.EntityType(req.ResourceType), accesscontrol.ActionOwn); err != nil {
		httpx.RespondError(w, err)
		return
	}

	policy, err := h.engine.Grant(r.Context(), accesscontrol.Policy{
		IdentityID:   req.IdentityID,
		IdentityType: accesscontrol.EntityType(req.IdentityType),
		ResourceID:   req.ResourceID,
		ResourceType: accesscontrol.EntityType(req.ResourceType),
		Action:       accesscontrol.Action(req.Action),
		Public:       req.Public,
		Override:     req.Override,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPolicyResponse(policy))
}

// listGrants lists policies by resource or by identity.
func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	user := accesscontrol.UserFromContext(r.Context())
	query := r.URL.Query()

	if resourceID := query.Get("resource_id"); resourceID != "" {
		resourceType := accesscontrol.EntityType(query.Get("resource_type"))
		if err := h.engine.Allows(r.Context(), user, resourceID, resourceType, accesscontrol.ActionOwn); err != nil {
			httpx.RespondError(w, err)
			return
		}
		var action *accesscontrol.Action
		if raw := query.Get("action"); raw != "" {
			a := accesscontrol.Action(raw)
			action = &a
		}
		policies, err := h.engine.PoliciesByResource(r.Context(), resourceID, action)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		h.respondPolicies(w, policies)
		return
	}

	if identityID := query.Get("identity_id"); identityID != "" {
		// Callers may inspect their own grants; everything else is admin
		// territory.
		if identityID != user.ID && !user.IsAdmin() {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "cannot list grants of another identity")
			return
		}
		policies, err := h.engine.PoliciesByIdentity(r.Context(), identityID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		h.respondPolicies(w, policies)
		return
	}

	httpx.Problem(w, http.StatusBadRequest, "Bad Request", "resource_id or identity_id required")
}

func (h *Handler) respondPolicies(w http.ResponseWriter, policies []accesscontrol.Policy) {
	out := make([]policyResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, toPolicyResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

// revokeGrant deletes a policy after checking the caller owns the policy's
// resource.
func (h *Handler) revokeGrant(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")
	policy, err := h.engine.Policy(r.Context(), policyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user := accesscontrol.UserFromContext(r.Context())
	if err := h.engine.Allows(r.Context(), user, policy.ResourceID, policy.ResourceType, accesscontrol.ActionOwn); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.engine.Revoke(r.Context(), policyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type entityRequest struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required"`
}

func (h *Handler) registerEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.Register(r.Context(), req.ID, accesscontrol.EntityType(req.Type)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deregisterEntity(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deregister(r.Context(), chi.URLParam(r, "entityID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type edgeRequest struct {
	ParentID   string `json:"parent_id" validate:"required"`
	ParentType string `json:"parent_type" validate:"required"`
	ChildID    string `json:"child_id" validate:"required"`
	ChildType  string `json:"child_type" validate:"required"`
	Inherit    *bool  `json:"inherit"`
}

func (req edgeRequest) toEdge() accesscontrol.Edge {
	inherit := true
	if req.Inherit != nil {
		inherit = *req.Inherit
	}
	return accesscontrol.Edge{
		ParentID:   req.ParentID,
		ParentType: accesscontrol.EntityType(req.ParentType),
		ChildID:    req.ChildID,
		ChildType:  accesscontrol.EntityType(req.ChildType),
		Inherit:    inherit,
		CreatedAt:  time.Now().UTC(),
	}
}

func (h *Handler) attachResource(w http.ResponseWriter, r *http.Request) {
	var req edgeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.AttachResourceEdge(r.Context(), req.toEdge()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type inheritRequest struct {
	Inherit bool `json:"inherit"`
}

func (h *Handler) setResourceInherit(w http.ResponseWriter, r *http.Request) {
	var req inheritRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	err := h.engine.SetResourceInherit(r.Context(), chi.URLParam(r, "parentID"), chi.URLParam(r, "childID"), req.Inherit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) detachResource(w http.ResponseWriter, r *http.Request) {
	err := h.engine.DetachResourceEdge(r.Context(), chi.URLParam(r, "parentID"), chi.URLParam(r, "childID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) attachIdentity(w http.ResponseWriter, r *http.Request) {
	var req edgeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.AttachIdentityEdge(r.Context(), req.toEdge()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) detachIdentity(w http.ResponseWriter, r *http.Request) {
	err := h.engine.DetachIdentityEdge(r.Context(), chi.URLParam(r, "parentID"), chi.URLParam(r, "childID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type logEntryResponse struct {
	ID           int64     `json:"id"`
	IdentityID   string    `json:"identity_id,omitempty"`
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	Action       string    `json:"action"`
	Status       int       `json:"status"`
	At           time.Time `json:"at"`
}

func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := accesscontrol.LogFilters{
		IdentityID: query.Get("identity_id"),
		ResourceID: query.Get("resource_id"),
		Page:       intParam(query.Get("page")),
		PageSize:   intParam(query.Get("page_size")),
	}
	if raw := query.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "from must be RFC3339")
			return
		}
		filters.From = t
	}
	if raw := query.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "to must be RFC3339")
			return
		}
		filters.To = t
	}

	entries, err := h.engine.AuditLog(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]logEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, logEntryResponse{
			ID:           entry.ID,
			IdentityID:   entry.IdentityID,
			ResourceID:   entry.ResourceID,
			ResourceType: string(entry.ResourceType),
			Action:       string(entry.Action),
			Status:       entry.Status,
			At:           entry.At,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

// decode parses and validates a JSON body, replying on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return false
	}
	return true
}

func intParam(raw string) int {
	if raw == "" {
		return 0
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
