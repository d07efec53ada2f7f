package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/papidb/cls/internal/analytics"
	"github.com/papidb/cls/internal/domain"
	"github.com/papidb/cls/internal/metrics"
	"github.com/papidb/cls/internal/repository"
	"github.com/papidb/cls/internal/service"
	"github.com/papidb/cls/pkg/logger"
)

// recordTimeout bounds the off-request-path analytics write.
const recordTimeout = 5 * time.Second

// LinkService is what the handler needs from the link business layer.
type LinkService interface {
	CreateLink(ctx context.Context, targetURL, slug, description string, expiresAt *time.Time) (*domain.Link, error)
	Resolve(ctx context.Context, slug string) (*domain.Link, error)
	GetLink(ctx context.Context, id string) (*domain.Link, error)
	ListLinks(ctx context.Context, q repository.ListQuery) ([]*domain.Link, error)
	DeleteLink(ctx context.Context, id string) error
}

// AccessService is what the handler needs from the analytics layer.
type AccessService interface {
	RecordAccess(ctx context.Context, link *domain.Link, cr service.ClickRequest) error
	Metrics(ctx context.Context, req *analytics.MetricsRequest) ([]map[string]any, error)
}

// Handler holds the HTTP endpoints and their dependencies.
type Handler struct {
	links   LinkService
	access  AccessService
	logger  *logger.Logger
	baseURL string
}

// NewHandler creates an HTTP handler.
func NewHandler(links LinkService, access AccessService, log *logger.Logger, baseURL string) *Handler {
	return &Handler{
		links:   links,
		access:  access,
		logger:  log,
		baseURL: baseURL,
	}
}

// Routes registers every endpoint on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/links", h.CreateLink)
	mux.HandleFunc("GET /api/v1/links", h.ListLinks)
	mux.HandleFunc("GET /api/v1/links/{id}", h.GetLink)
	mux.HandleFunc("DELETE /api/v1/links/{id}", h.DeleteLink)
	mux.HandleFunc("POST /api/v1/metrics", h.Metrics)
	mux.HandleFunc("GET /health/live", h.HealthCheck)
	mux.HandleFunc("GET /{slug}", h.Redirect)
	mux.HandleFunc("GET /{$}", h.Index)
	return mux
}

// CreateLinkRequest is the POST /api/v1/links body.
type CreateLinkRequest struct {
	URL         string     `json:"url"`
	Slug        string     `json:"slug,omitempty"`
	Description string     `json:"description,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// LinkResponse is the API view of a link.
type LinkResponse struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	ShortURL    string     `json:"short_url"`
	URL         string     `json:"url"`
	Description string     `json:"description,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (h *Handler) linkResponse(link *domain.Link) LinkResponse {
	return LinkResponse{
		ID:          link.ID,
		Slug:        link.Slug,
		ShortURL:    fmt.Sprintf("%s/%s", h.baseURL, link.Slug),
		URL:         link.TargetURL,
		Description: link.Description,
		ExpiresAt:   link.ExpiresAt,
		CreatedAt:   link.CreatedAt,
	}
}

// CreateLink handles POST /api/v1/links.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	defer r.Body.Close()

	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	link, err := h.links.CreateLink(r.Context(), req.URL, req.Slug, req.Description, req.ExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateSlug):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrEmptyURL),
			errors.Is(err, domain.ErrInvalidURL),
			errors.Is(err, domain.ErrInvalidSlug),
			errors.Is(err, domain.ErrExpirationInPast):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.WithContext(r.Context()).Error("failed to create link", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to create link")
		}
		return
	}

	respondSuccess(w, http.StatusCreated, h.linkResponse(link), "link created")
}

// ListLinks handles GET /api/v1/links.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	q := repository.ListQuery{
		Text:  r.URL.Query().Get("text"),
		Order: r.URL.Query().Get("order"),
	}
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "cursor must be a non-negative integer")
			return
		}
		q.Cursor = n
	}
	if size := r.URL.Query().Get("size"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "size must be a positive integer")
			return
		}
		q.Size = n
	}

	links, err := h.links.ListLinks(r.Context(), q)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("failed to list links", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list links")
		return
	}

	out := make([]LinkResponse, 0, len(links))
	for _, link := range links {
		out = append(out, h.linkResponse(link))
	}
	respondSuccess(w, http.StatusOK, out, "")
}

// GetLink handles GET /api/v1/links/{id}.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	link, err := h.links.GetLink(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrLinkNotFound) {
			respondError(w, http.StatusNotFound, "link not found")
			return
		}
		h.logger.WithContext(r.Context()).Error("failed to get link", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get link")
		return
	}

	respondSuccess(w, http.StatusOK, h.linkResponse(link), "")
}

// DeleteLink handles DELETE /api/v1/links/{id}.
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.links.DeleteLink(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrLinkNotFound) {
			respondError(w, http.StatusNotFound, "link not found")
			return
		}
		h.logger.WithContext(r.Context()).Error("failed to delete link", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete link")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Redirect handles GET /{slug}. The access event is recorded off the
// request path so analytics latency never delays the visitor.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	link, err := h.links.Resolve(r.Context(), slug)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLinkExpired):
			respondError(w, http.StatusGone, "link has expired")
		case errors.Is(err, domain.ErrLinkNotFound), errors.Is(err, domain.ErrLinkNotActive):
			respondError(w, http.StatusNotFound, "link not found")
		default:
			h.logger.WithContext(r.Context()).Error("failed to resolve link", "slug", slug, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to resolve link")
		}
		return
	}

	// Snapshot the headers now; the request is gone once the handler
	// returns.
	cr := clickRequestFrom(r)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := h.access.RecordAccess(ctx, link, cr); err != nil {
			h.logger.Error("failed to record access", "slug", link.Slug, "error", err)
		}
	}()

	metrics.RecordRedirect()
	http.Redirect(w, r, link.TargetURL, http.StatusFound)
}

// clickRequestFrom snapshots the request attributes the access event is
// derived from. The geo headers are the ones an edge proxy in front of the
// service injects; absent headers simply leave event fields at their
// defaults.
func clickRequestFrom(r *http.Request) service.ClickRequest {
	return service.ClickRequest{
		UserAgent:      r.UserAgent(),
		Referer:        r.Referer(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		ConnectingIP:   r.Header.Get("CF-Connecting-IP"),
		RealIP:         r.Header.Get("X-Real-IP"),
		ForwardedFor:   r.Header.Get("X-Forwarded-For"),
		Country:        r.Header.Get("CF-IPCountry"),
		Region:         r.Header.Get("CF-Region"),
		City:           r.Header.Get("CF-IPCity"),
		Timezone:       r.Header.Get("CF-Timezone"),
		Latitude:       r.Header.Get("CF-IPLatitude"),
		Longitude:      r.Header.Get("CF-IPLongitude"),
		Ray:            r.Header.Get("CF-Ray"),
	}
}

// Metrics handles POST /api/v1/metrics: decode an aggregate query request,
// run it against the analytics store and return the rows.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	var req analytics.MetricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	defer r.Body.Close()

	rows, err := h.access.Metrics(r.Context(), &req)
	if err != nil {
		var verr *analytics.ValidationError
		var uerr *analytics.UnknownColumnError
		switch {
		case errors.As(err, &verr):
			respondErrorDetails(w, http.StatusBadRequest, "invalid metrics request", verr.Error())
		case errors.As(err, &uerr):
			respondErrorDetails(w, http.StatusBadRequest, "invalid metrics request", uerr.Error())
		default:
			h.logger.WithContext(r.Context()).Error("metrics query failed", "error", err)
			respondError(w, http.StatusInternalServerError, "metrics query failed")
		}
		return
	}

	respondSuccess(w, http.StatusOK, rows, "")
}

// HealthCheck handles GET /health/live.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Index handles GET / for callers poking the service root.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "cls",
		"links":   h.baseURL + "/api/v1/links",
	})
}
