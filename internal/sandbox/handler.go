package sandbox

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/platform/httpx"
)

// Handler exposes the item endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, validate: validator.New(), logger: logger}
}

// Mount registers routes. Reads stay open so public grants work for
// anonymous callers; mutations require a login.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{itemID}", h.get)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			r.Post("/", h.create)
			r.Put("/{itemID}", h.update)
			r.Delete("/{itemID}", h.remove)
		})
	})
}

type itemRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Content string `json:"content" validate:"max=65536"`
}

type itemResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toItemResponse(it Item) itemResponse {
	return itemResponse{
		ID:        it.ID,
		Name:      it.Name,
		Content:   it.Content,
		CreatedBy: it.CreatedBy,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := accesscontrol.UserFromContext(r.Context())
	item, err := h.service.Create(r.Context(), user, req.Name, req.Content)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toItemResponse(*item))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	user := accesscontrol.UserFromContext(r.Context())
	item, err := h.service.Get(r.Context(), user, chi.URLParam(r, "itemID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(*item))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := accesscontrol.UserFromContext(r.Context())
	item, err := h.service.Update(r.Context(), user, chi.URLParam(r, "itemID"), req.Name, req.Content)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(*item))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	user := accesscontrol.UserFromContext(r.Context())
	if err := h.service.Delete(r.Context(), user, chi.URLParam(r, "itemID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	user := accesscontrol.UserFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	items, err := h.service.List(r.Context(), user, page, pageSize)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it))
	}
	httpx.JSON(w, http.StatusOK, out)
}

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
