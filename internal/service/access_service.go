package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/papidb/cls/internal/analytics"
	"github.com/papidb/cls/internal/domain"
	"github.com/papidb/cls/internal/metrics"
)

// EventStore is the analytical store the access service talks to. It is
// satisfied by analytics.Client.
type EventStore interface {
	WriteEvent(ctx context.Context, index string, blobs []string, doubles []float64) error
	Query(ctx context.Context, sql string) ([]map[string]any, error)
}

// ClickRequest carries the raw request attributes a redirect arrives with.
// The handler fills it from headers; the service derives the stored event
// from it.
type ClickRequest struct {
	UserAgent      string
	Referer        string
	AcceptLanguage string
	ConnectingIP   string
	RealIP         string
	ForwardedFor   string
	Country        string
	Region         string
	City           string
	Timezone       string
	Latitude       string
	Longitude      string
	Ray            string
}

// AccessService records link accesses in the analytical store and runs
// aggregate queries over them.
type AccessService struct {
	store   EventStore
	codec   *analytics.Codec
	reg     *analytics.Registry
	dataset string
	logger  *slog.Logger
}

// NewAccessService creates an access service writing to and querying the
// given dataset.
func NewAccessService(store EventStore, codec *analytics.Codec, reg *analytics.Registry, dataset string, logger *slog.Logger) *AccessService {
	if dataset == "" {
		dataset = analytics.DefaultDataset
	}
	return &AccessService{
		store:   store,
		codec:   codec,
		reg:     reg,
		dataset: dataset,
		logger:  logger,
	}
}

// BuildEvent derives the access event stored for a click from the link and
// the raw request attributes. Every derivation is best effort: a field that
// cannot be determined stays at its zero value.
func (s *AccessService) BuildEvent(link *domain.Link, cr ClickRequest) *analytics.AccessEvent {
	agent := parseUserAgent(cr.UserAgent)

	flag := countryFlag(cr.Country)
	name := countryName(cr.Country)

	// The country column keeps the raw 2-letter code so filters and
	// grouping match on it; only region and city carry display labels.
	return &analytics.AccessEvent{
		Slug:        link.Slug,
		URL:         link.TargetURL,
		UserAgent:   cr.UserAgent,
		IP:          clientIP(cr),
		Referer:     refererHost(cr.Referer),
		Country:     cr.Country,
		Region:      labelPlace(flag, cr.Region, name),
		City:        labelPlace(flag, cr.City, name),
		Timezone:    cr.Timezone,
		Language:    primaryLanguage(cr.AcceptLanguage),
		OS:          agent.os,
		Browser:     agent.browser,
		BrowserType: agent.browserType,
		Device:      agent.device,
		DeviceType:  agent.deviceType,
		Colo:        coloFromRay(cr.Ray),
		Latitude:    parseCoord(cr.Latitude),
		Longitude:   parseCoord(cr.Longitude),
	}
}

// RecordAccess writes one access event for a click on link, keyed by the
// link ID. Failures are counted and logged; the caller typically runs this
// off the request path and does not surface the error to the visitor.
func (s *AccessService) RecordAccess(ctx context.Context, link *domain.Link, cr ClickRequest) error {
	event := s.BuildEvent(link, cr)
	blobs, doubles := s.codec.Encode(event)

	if err := s.store.WriteEvent(ctx, link.ID, blobs, doubles); err != nil {
		metrics.AnalyticsEventsDroppedTotal.Inc()
		s.logger.Error("failed to write access event", "link_id", link.ID, "slug", link.Slug, "error", err)
		return fmt.Errorf("failed to write access event: %w", err)
	}

	metrics.AnalyticsEventsWrittenTotal.Inc()
	return nil
}

// Metrics validates an aggregate query request, renders it to SQL and runs
// it against the store. Validation failures come back as
// *analytics.ValidationError or *analytics.UnknownColumnError so the
// handler can map them to a client error.
func (s *AccessService) Metrics(ctx context.Context, req *analytics.MetricsRequest) ([]map[string]any, error) {
	if err := req.Validate(s.reg); err != nil {
		return nil, err
	}

	query, err := analytics.BuildMetricsQuery(s.reg, s.dataset, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.store.Query(ctx, query)
	metrics.AnalyticsQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalyticsQueryErrorsTotal.Inc()
		return nil, err
	}

	return rows, nil
}
