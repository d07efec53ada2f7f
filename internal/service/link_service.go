package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papidb/cls/internal/domain"
	"github.com/papidb/cls/internal/metrics"
	"github.com/papidb/cls/internal/repository"

	"github.com/google/uuid"
)

// Cache is the slug->link cache consumed by the link service. An interface
// keeps the service testable without a Redis instance.
type Cache interface {
	GetLink(ctx context.Context, slug string) (*domain.Link, error)
	SetLink(ctx context.Context, slug string, link *domain.Link) error
	DeleteLink(ctx context.Context, slug string) error
}

// slugAlphabet matches the generated-slug charset: lowercase letters only,
// so generated slugs never collide with the reserved /api and /health
// namespaces by case tricks.
const slugAlphabet = "abcdefghijklmnopqrstuvwxyz"

// maxSlugAttempts bounds retries when a generated slug collides.
const maxSlugAttempts = 10

// LinkService holds the business logic for link management.
type LinkService struct {
	repo       repository.LinkRepository
	cache      Cache
	logger     *slog.Logger
	slugLength int
}

// NewLinkService creates a new link service.
func NewLinkService(repo repository.LinkRepository, cache Cache, logger *slog.Logger, slugLength int) *LinkService {
	if slugLength < 2 {
		slugLength = 6
	}
	return &LinkService{
		repo:       repo,
		cache:      cache,
		logger:     logger,
		slugLength: slugLength,
	}
}

// CreateLink creates a link. With an explicit slug a collision returns
// domain.ErrDuplicateSlug; with a generated slug the service retries with a
// fresh slug. The unique index in the repository is the collision
// authority, so concurrent creates cannot both win.
func (s *LinkService) CreateLink(ctx context.Context, targetURL, slug, description string, expiresAt *time.Time) (*domain.Link, error) {
	customSlug := slug != ""

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		if !customSlug {
			slug = generateSlug(s.slugLength)
		}

		link := domain.NewLink(uuid.NewString(), slug, targetURL, description)
		if expiresAt != nil {
			link.WithExpiration(*expiresAt)
		}
		if err := link.Validate(); err != nil {
			return nil, err
		}

		err := s.repo.Create(ctx, link)
		if errors.Is(err, domain.ErrDuplicateSlug) {
			if customSlug {
				return nil, domain.ErrDuplicateSlug
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create link: %w", err)
		}

		// Cache failures are logged, not returned: the link exists either way.
		if err := s.cache.SetLink(ctx, slug, link); err != nil {
			s.logger.Warn("failed to cache link", "slug", slug, "error", err)
		}

		metrics.RecordLinkCreated()
		return link, nil
	}

	return nil, fmt.Errorf("failed to find a free slug after %d attempts", maxSlugAttempts)
}

// Resolve returns the link a slug redirects to, checking the cache first
// and refusing inactive or expired links.
func (s *LinkService) Resolve(ctx context.Context, slug string) (*domain.Link, error) {
	cached, err := s.cache.GetLink(ctx, slug)
	if err != nil {
		s.logger.Warn("link cache read failed", "slug", slug, "error", err)
	}
	if cached != nil {
		if err := cached.CanBeAccessed(); err != nil {
			return nil, err
		}
		return cached, nil
	}

	link, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := link.CanBeAccessed(); err != nil {
		return nil, err
	}

	if err := s.cache.SetLink(ctx, slug, link); err != nil {
		s.logger.Warn("failed to cache link", "slug", slug, "error", err)
	}

	return link, nil
}

// GetLink returns a link by ID.
func (s *LinkService) GetLink(ctx context.Context, id string) (*domain.Link, error) {
	return s.repo.GetByID(ctx, id)
}

// ListLinks returns links matching the query.
func (s *LinkService) ListLinks(ctx context.Context, q repository.ListQuery) ([]*domain.Link, error) {
	return s.repo.List(ctx, q)
}

// DeleteLink soft-deletes a link and evicts it from cache so the slug
// stops redirecting immediately rather than at TTL expiry.
func (s *LinkService) DeleteLink(ctx context.Context, id string) error {
	link, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.cache.DeleteLink(ctx, link.Slug); err != nil {
		s.logger.Warn("failed to evict link from cache", "slug", link.Slug, "error", err)
	}
	return nil
}

// generateSlug returns a random lowercase slug using crypto/rand.
func generateSlug(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// fall back to a time-derived slug rather than panic.
		now := time.Now().UnixNano()
		for i := range buf {
			buf[i] = slugAlphabet[int(now>>uint(i*5))%len(slugAlphabet)]
		}
		return string(buf)
	}
	for i, b := range buf {
		buf[i] = slugAlphabet[int(b)%len(slugAlphabet)]
	}
	return string(buf)
}
