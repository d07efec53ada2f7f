package repository

import (
	"context"

	"github.com/papidb/cls/internal/domain"
)

// ListQuery narrows a link listing. Size is clamped by the implementation;
// Cursor is the offset of the first row to return.
type ListQuery struct {
	Cursor int
	Text   string
	Order  string // "asc" or "desc" by creation time
	Size   int
}

// LinkRepository abstracts link persistence so the service layer can be
// tested against mocks and the storage backend can be swapped.
type LinkRepository interface {
	// Create inserts a new link. A slug collision returns
	// domain.ErrDuplicateSlug.
	Create(ctx context.Context, link *domain.Link) error

	// GetBySlug returns the active link for a slug, or
	// domain.ErrLinkNotFound.
	GetBySlug(ctx context.Context, slug string) (*domain.Link, error)

	// GetByID returns a link by its ID, or domain.ErrLinkNotFound.
	GetByID(ctx context.Context, id string) (*domain.Link, error)

	// List returns links matching the query, newest or oldest first.
	List(ctx context.Context, q ListQuery) ([]*domain.Link, error)

	// Delete soft-deletes a link (sets is_active = false).
	Delete(ctx context.Context, id string) error
}
