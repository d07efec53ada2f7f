package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/papidb/cls/internal/analytics"
	"github.com/papidb/cls/internal/domain"
	"github.com/papidb/cls/internal/repository"
	"github.com/papidb/cls/internal/service"
	"github.com/papidb/cls/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLinkService struct {
	mock.Mock
}

func (m *mockLinkService) CreateLink(ctx context.Context, targetURL, slug, description string, expiresAt *time.Time) (*domain.Link, error) {
	args := m.Called(ctx, targetURL, slug, description, expiresAt)
	if link := args.Get(0); link != nil {
		return link.(*domain.Link), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLinkService) Resolve(ctx context.Context, slug string) (*domain.Link, error) {
	args := m.Called(ctx, slug)
	if link := args.Get(0); link != nil {
		return link.(*domain.Link), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLinkService) GetLink(ctx context.Context, id string) (*domain.Link, error) {
	args := m.Called(ctx, id)
	if link := args.Get(0); link != nil {
		return link.(*domain.Link), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLinkService) ListLinks(ctx context.Context, q repository.ListQuery) ([]*domain.Link, error) {
	args := m.Called(ctx, q)
	if links := args.Get(0); links != nil {
		return links.([]*domain.Link), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLinkService) DeleteLink(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockAccessService struct {
	mock.Mock
	recorded chan service.ClickRequest
}

func newMockAccessService() *mockAccessService {
	return &mockAccessService{recorded: make(chan service.ClickRequest, 1)}
}

func (m *mockAccessService) RecordAccess(ctx context.Context, link *domain.Link, cr service.ClickRequest) error {
	args := m.Called(ctx, link, cr)
	select {
	case m.recorded <- cr:
	default:
	}
	return args.Error(0)
}

func (m *mockAccessService) Metrics(ctx context.Context, req *analytics.MetricsRequest) ([]map[string]any, error) {
	args := m.Called(ctx, req)
	if rows := args.Get(0); rows != nil {
		return rows.([]map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestHandler(links *mockLinkService, access *mockAccessService) *Handler {
	return NewHandler(links, access, logger.New("error"), "http://sho.rt")
}

func TestCreateLink(t *testing.T) {
	links := new(mockLinkService)
	access := newMockAccessService()
	h := newTestHandler(links, access)

	created := domain.NewLink("id-1", "abc", "https://example.com", "docs")
	links.On("CreateLink", mock.Anything, "https://example.com", "abc", "docs", (*time.Time)(nil)).
		Return(created, nil).Once()

	body := `{"url":"https://example.com","slug":"abc","description":"docs"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/links", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Data LinkResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp.Data.Slug)
	assert.Equal(t, "http://sho.rt/abc", resp.Data.ShortURL)
	links.AssertExpectations(t)
}

func TestCreateLink_InvalidJSON(t *testing.T) {
	h := newTestHandler(new(mockLinkService), newMockAccessService())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/links", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateLink_MissingURL(t *testing.T) {
	h := newTestHandler(new(mockLinkService), newMockAccessService())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/links", strings.NewReader(`{"slug":"abc"}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateLink_DuplicateSlug(t *testing.T) {
	links := new(mockLinkService)
	h := newTestHandler(links, newMockAccessService())

	links.On("CreateLink", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrDuplicateSlug).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/links", strings.NewReader(`{"url":"https://example.com","slug":"taken"}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateLink_InvalidURL(t *testing.T) {
	links := new(mockLinkService)
	h := newTestHandler(links, newMockAccessService())

	links.On("CreateLink", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrInvalidURL).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/links", strings.NewReader(`{"url":"ftp://example.com"}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListLinks(t *testing.T) {
	links := new(mockLinkService)
	h := newTestHandler(links, newMockAccessService())

	stored := []*domain.Link{
		domain.NewLink("id-1", "abc", "https://example.com", ""),
		domain.NewLink("id-2", "def", "https://example.org", ""),
	}
	links.On("ListLinks", mock.Anything, repository.ListQuery{Cursor: 10, Text: "ex", Order: "desc", Size: 2}).
		Return(stored, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/links?cursor=10&text=ex&order=desc&size=2", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []LinkResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "abc", resp.Data[0].Slug)
	links.AssertExpectations(t)
}

func TestListLinks_BadCursor(t *testing.T) {
	h := newTestHandler(new(mockLinkService), newMockAccessService())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/links?cursor=minus-one", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLink_NotFound(t *testing.T) {
	links := new(mockLinkService)
	h := newTestHandler(links, newMockAccessService())

	links.On("GetLink", mock.Anything, "missing").Return(nil, domain.ErrLinkNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/links/missing", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteLink(t *testing.T) {
	links := new(mockLinkService)
	h := newTestHandler(links, newMockAccessService())

	links.On("DeleteLink", mock.Anything, "id-1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/links/id-1", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	links.AssertExpectations(t)
}

func TestRedirect(t *testing.T) {
	links := new(mockLinkService)
	access := newMockAccessService()
	h := newTestHandler(links, access)

	link := domain.NewLink("id-1", "abc", "https://example.com/page", "")
	links.On("Resolve", mock.Anything, "abc").Return(link, nil).Once()
	access.On("RecordAccess", mock.Anything, link, mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/abc", nil)
	req.Header.Set("User-Agent", "curl/8.0")
	req.Header.Set("Referer", "https://news.ycombinator.com/")
	req.Header.Set("CF-Connecting-IP", "203.0.113.7")
	req.Header.Set("CF-IPCountry", "US")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/page", rec.Header().Get("Location"))

	select {
	case cr := <-access.recorded:
		assert.Equal(t, "curl/8.0", cr.UserAgent)
		assert.Equal(t, "203.0.113.7", cr.ConnectingIP)
		assert.Equal(t, "US", cr.Country)
	case <-time.After(2 * time.Second):
		t.Fatal("access event was not recorded")
	}
}

func TestRedirect_NotFound(t *testing.T) {
	links := new(mockLinkService)
	h := newTestHandler(links, newMockAccessService())

	links.On("Resolve", mock.Anything, "nope").Return(nil, domain.ErrLinkNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedirect_Expired(t *testing.T) {
	links := new(mockLinkService)
	h := newTestHandler(links, newMockAccessService())

	links.On("Resolve", mock.Anything, "old").Return(nil, domain.ErrLinkExpired).Once()

	req := httptest.NewRequest(http.MethodGet, "/old", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestMetrics(t *testing.T) {
	access := newMockAccessService()
	h := newTestHandler(new(mockLinkService), access)

	rows := []map[string]any{{"clicks": float64(42)}}
	access.On("Metrics", mock.Anything, mock.Anything).Return(rows, nil).Once()

	body := `{"metrics":[{"kind":"clicks","alias":"clicks"}],"filters":[{"op":"eq","col":"slug","value":"abc"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(42), resp.Data[0]["clicks"])
}

func TestMetrics_ValidationError(t *testing.T) {
	access := newMockAccessService()
	h := newTestHandler(new(mockLinkService), access)

	verr := &analytics.ValidationError{Field: "metrics", Message: "at least one metric is required"}
	access.On("Metrics", mock.Anything, mock.Anything).Return(nil, verr).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", strings.NewReader(`{"metrics":[]}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Details, "metrics")
}

func TestMetrics_StoreError(t *testing.T) {
	access := newMockAccessService()
	h := newTestHandler(new(mockLinkService), access)

	qerr := &analytics.QueryError{SQL: "SELECT 1", Status: 500, Err: errors.New("upstream down")}
	access.On("Metrics", mock.Anything, mock.Anything).Return(nil, qerr).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", strings.NewReader(`{"metrics":[{"kind":"clicks"}]}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := newTestHandler(new(mockLinkService), newMockAccessService())

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &stubLimiter{allowed: false, reset: time.Now().Add(time.Minute)}
	wrapped := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/abc", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	wrapped := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/abc", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

type stubLimiter struct {
	allowed   bool
	remaining int
	reset     time.Time
	err       error
}

func (s *stubLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	return s.allowed, s.remaining, s.reset, s.err
}

func (s *stubLimiter) MaxRequests() int { return 100 }

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", extractIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", extractIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:54321"
	assert.Equal(t, "192.0.2.1", extractIP(req))
}

func TestSimplifyEndpoint(t *testing.T) {
	assert.Equal(t, "/api/v1/links", simplifyEndpoint("/api/v1/links"))
	assert.Equal(t, "/api/v1/links/:id", simplifyEndpoint("/api/v1/links/abc-123"))
	assert.Equal(t, "/api/v1/metrics", simplifyEndpoint("/api/v1/metrics"))
	assert.Equal(t, "/:slug", simplifyEndpoint("/abc"))
	assert.Equal(t, "/", simplifyEndpoint("/"))
}
