package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
	"github.com/gatewarden/gatewarden/internal/platform/httpx"
	"github.com/gatewarden/gatewarden/internal/shared"
)

// Handler exposes the authentication endpoints.
type Handler struct {
	service  *Service
	sessions *shared.SessionManager
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, sessions *shared.SessionManager, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		sessions: sessions,
		validate: validator.New(),
		logger:   logger,
	}
}

// Mount registers routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/auth/login", h.login)
	r.Post("/auth/logout", h.logout)
	r.Get("/auth/me", h.me)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type userResponse struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Roles  []string `json:"roles"`
	Groups []string `json:"groups"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.SetUser(user.ID)

	current, err := h.service.CurrentUser(r.Context(), user.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userResponse{
		ID:     user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Roles:  current.Roles,
		Groups: current.Groups,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	h.sessions.Destroy(sess)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	current := accesscontrol.UserFromContext(r.Context())
	if current == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "not logged in")
		return
	}
	user, err := h.service.repo.FindByID(r.Context(), current.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userResponse{
		ID:     user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Roles:  current.Roles,
		Groups: current.Groups,
	})
}
