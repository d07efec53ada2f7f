package service

import (
	"context"
	"errors"
	"testing"

	"github.com/papidb/cls/internal/analytics"
	"github.com/papidb/cls/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) WriteEvent(ctx context.Context, index string, blobs []string, doubles []float64) error {
	args := m.Called(ctx, index, blobs, doubles)
	return args.Error(0)
}

func (m *mockEventStore) Query(ctx context.Context, sql string) ([]map[string]any, error) {
	args := m.Called(ctx, sql)
	if rows := args.Get(0); rows != nil {
		return rows.([]map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

func newAccessService(t *testing.T, store EventStore) *AccessService {
	t.Helper()
	reg := analytics.DefaultRegistry()
	codec, err := analytics.NewCodec(reg)
	require.NoError(t, err)
	return NewAccessService(store, codec, reg, "test-dataset", testLogger())
}

func TestBuildEvent(t *testing.T) {
	svc := newAccessService(t, new(mockEventStore))
	link := domain.NewLink("id-1", "abc", "https://example.com/page", "")

	event := svc.BuildEvent(link, ClickRequest{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Referer:        "https://news.ycombinator.com/item?id=1",
		AcceptLanguage: "en-US,en;q=0.9",
		ConnectingIP:   "203.0.113.7",
		Country:        "US",
		Region:         "California",
		City:           "San Francisco",
		Timezone:       "America/Los_Angeles",
		Latitude:       "37.7749",
		Longitude:      "-122.4194",
		Ray:            "8c2f3a1b2c3d4e5f-SJC",
	})

	assert.Equal(t, "abc", event.Slug)
	assert.Equal(t, "https://example.com/page", event.URL)
	assert.Equal(t, "203.0.113.7", event.IP)
	assert.Equal(t, "news.ycombinator.com", event.Referer)
	assert.Equal(t, "en-US", event.Language)
	assert.Equal(t, "US", event.Country)
	assert.Equal(t, "\U0001F1FA\U0001F1F8 California,United States", event.Region)
	assert.Equal(t, "\U0001F1FA\U0001F1F8 San Francisco,United States", event.City)
	assert.Equal(t, "America/Los_Angeles", event.Timezone)
	assert.Equal(t, "Windows", event.OS)
	assert.Equal(t, "Chrome", event.Browser)
	assert.Equal(t, "desktop", event.DeviceType)
	assert.Equal(t, "SJC", event.Colo)
	assert.InDelta(t, 37.7749, event.Latitude, 0.0001)
	assert.InDelta(t, -122.4194, event.Longitude, 0.0001)
}

func TestBuildEvent_EmptyRequest(t *testing.T) {
	svc := newAccessService(t, new(mockEventStore))
	link := domain.NewLink("id-1", "abc", "https://example.com", "")

	event := svc.BuildEvent(link, ClickRequest{})

	assert.Equal(t, "abc", event.Slug)
	assert.Equal(t, "", event.IP)
	assert.Equal(t, "", event.Country)
	assert.Equal(t, "Worldwide", event.Region)
	assert.Equal(t, "", event.Browser)
	assert.Zero(t, event.Latitude)
}

func TestBuildEvent_CountryKeepsRawCode(t *testing.T) {
	svc := newAccessService(t, new(mockEventStore))
	link := domain.NewLink("id-1", "abc", "https://example.com", "")

	event := svc.BuildEvent(link, ClickRequest{Country: "DE", Region: "Bavaria"})

	// Equality filters and grouping match on the stored code, so the
	// country column must stay undecorated.
	assert.Equal(t, "DE", event.Country)
	assert.Equal(t, "\U0001F1E9\U0001F1EA Bavaria,Germany", event.Region)
}

func TestRecordAccess(t *testing.T) {
	store := new(mockEventStore)
	svc := newAccessService(t, store)
	link := domain.NewLink("id-1", "abc", "https://example.com", "")

	var blobs []string
	store.On("WriteEvent", mock.Anything, "id-1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			blobs = args.Get(2).([]string)
		}).Return(nil).Once()

	err := svc.RecordAccess(context.Background(), link, ClickRequest{UserAgent: "curl/8.0"})

	require.NoError(t, err)
	require.NotEmpty(t, blobs)
	assert.Equal(t, "abc", blobs[0])
	store.AssertExpectations(t)
}

func TestRecordAccess_WriteFailure(t *testing.T) {
	store := new(mockEventStore)
	svc := newAccessService(t, store)
	link := domain.NewLink("id-1", "abc", "https://example.com", "")

	store.On("WriteEvent", mock.Anything, "id-1", mock.Anything, mock.Anything).
		Return(errors.New("boom")).Once()

	err := svc.RecordAccess(context.Background(), link, ClickRequest{})

	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	store := new(mockEventStore)
	svc := newAccessService(t, store)

	rows := []map[string]any{{"clicks": float64(42)}}
	var query string
	store.On("Query", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			query = args.Get(1).(string)
		}).Return(rows, nil).Once()

	req := &analytics.MetricsRequest{
		Metrics: []analytics.Metric{{Kind: analytics.MetricClicks, Alias: "clicks"}},
		Filters: []analytics.Filter{{Op: analytics.FilterEq, Col: "slug", Value: "abc"}},
	}
	got, err := svc.Metrics(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, rows, got)
	assert.Contains(t, query, "FROM 'test-dataset'")
	assert.Contains(t, query, "blob1 = 'abc'")
}

func TestMetrics_InvalidRequest(t *testing.T) {
	store := new(mockEventStore)
	svc := newAccessService(t, store)

	req := &analytics.MetricsRequest{
		Metrics: []analytics.Metric{{Kind: "median", Alias: "m"}},
	}
	_, err := svc.Metrics(context.Background(), req)

	var verr *analytics.ValidationError
	assert.ErrorAs(t, err, &verr)
	store.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestMetrics_UnknownColumn(t *testing.T) {
	store := new(mockEventStore)
	svc := newAccessService(t, store)

	req := &analytics.MetricsRequest{
		Dimensions: []analytics.Dimension{{Col: "nonexistent", Alias: "d"}},
		Metrics:    []analytics.Metric{{Kind: analytics.MetricClicks, Alias: "clicks"}},
	}
	_, err := svc.Metrics(context.Background(), req)

	var verr *analytics.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "dimensions[0].col", verr.Field)
	store.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestMetrics_StoreError(t *testing.T) {
	store := new(mockEventStore)
	svc := newAccessService(t, store)

	store.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("upstream down")).Once()

	req := &analytics.MetricsRequest{
		Metrics: []analytics.Metric{{Kind: analytics.MetricClicks, Alias: "clicks"}},
	}
	_, err := svc.Metrics(context.Background(), req)

	assert.Error(t, err)
}
