package domain

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Link is a short slug pointing at a long URL.
type Link struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	TargetURL   string     `json:"url"`
	Description string     `json:"description,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	IsActive    bool       `json:"is_active"`
}

// Sentinel errors callers can match with errors.Is.
var (
	ErrEmptyURL         = errors.New("URL cannot be empty")
	ErrInvalidURL       = errors.New("URL must be a valid http or https URL")
	ErrInvalidSlug      = errors.New("slug must be 2-64 characters of a-z, 0-9, '-' or '_'")
	ErrDuplicateSlug    = errors.New("slug already exists")
	ErrLinkNotFound     = errors.New("link not found")
	ErrLinkExpired      = errors.New("link has expired")
	ErrLinkNotActive    = errors.New("link is not active")
	ErrExpirationInPast = errors.New("expiration must be at least one day in the future")
)

// NewLink creates a link with creation timestamps set. The caller supplies
// the ID and slug; validation happens separately so handlers can report the
// exact failure.
func NewLink(id, slug, targetURL, description string) *Link {
	now := time.Now().UTC()
	return &Link{
		ID:          id,
		Slug:        slug,
		TargetURL:   targetURL,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsActive:    true,
	}
}

// WithExpiration sets an absolute expiry time.
func (l *Link) WithExpiration(at time.Time) *Link {
	l.ExpiresAt = &at
	return l
}

// IsExpired reports whether the link has passed its expiry. Links without
// an expiry never expire.
func (l *Link) IsExpired() bool {
	if l.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*l.ExpiresAt)
}

// CanBeAccessed checks whether the link may serve a redirect.
func (l *Link) CanBeAccessed() error {
	if !l.IsActive {
		return ErrLinkNotActive
	}
	if l.IsExpired() {
		return ErrLinkExpired
	}
	return nil
}

// Validate checks the link fields before persistence.
func (l *Link) Validate() error {
	if strings.TrimSpace(l.TargetURL) == "" {
		return ErrEmptyURL
	}
	parsed, err := url.Parse(l.TargetURL)
	if err != nil {
		return ErrInvalidURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrInvalidURL
	}
	if parsed.Host == "" {
		return ErrInvalidURL
	}

	if err := ValidateSlug(l.Slug); err != nil {
		return err
	}

	if l.ExpiresAt != nil {
		tomorrow := time.Now().AddDate(0, 0, 1).Truncate(24 * time.Hour)
		if l.ExpiresAt.Before(tomorrow) {
			return ErrExpirationInPast
		}
	}

	return nil
}

// ValidateSlug checks the slug charset and length.
func ValidateSlug(slug string) error {
	if len(slug) < 2 || len(slug) > 64 {
		return ErrInvalidSlug
	}
	for _, r := range slug {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !ok {
			return ErrInvalidSlug
		}
	}
	return nil
}
