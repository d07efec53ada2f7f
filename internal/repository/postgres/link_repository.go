package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/papidb/cls/internal/domain"
	"github.com/papidb/cls/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// linkRepository is the PostgreSQL implementation of
// repository.LinkRepository.
type linkRepository struct {
	db *pgxpool.Pool
}

// NewLinkRepository creates a new PostgreSQL link repository.
func NewLinkRepository(db *pgxpool.Pool) repository.LinkRepository {
	return &linkRepository{db: db}
}

// Create inserts a new link. The links.slug unique index is the source of
// truth for collisions; a violation maps to domain.ErrDuplicateSlug.
func (r *linkRepository) Create(ctx context.Context, link *domain.Link) error {
	query := `
		INSERT INTO links (
			id, slug, target_url, description, expires_at,
			created_at, updated_at, is_active
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		link.ID,
		link.Slug,
		link.TargetURL,
		nullIfEmpty(link.Description),
		link.ExpiresAt,
		link.CreatedAt,
		link.UpdatedAt,
		link.IsActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateSlug
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

const linkColumns = `id, slug, target_url, COALESCE(description, ''), expires_at,
	       created_at, updated_at, is_active`

// GetBySlug retrieves the active link for a slug.
func (r *linkRepository) GetBySlug(ctx context.Context, slug string) (*domain.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE slug = $1 AND is_active = true
	`
	return r.queryOne(ctx, query, slug)
}

// GetByID retrieves a link by its ID.
func (r *linkRepository) GetByID(ctx context.Context, id string) (*domain.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE id = $1
	`
	return r.queryOne(ctx, query, id)
}

func (r *linkRepository) queryOne(ctx context.Context, query string, arg any) (*domain.Link, error) {
	link := &domain.Link{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&link.ID,
		&link.Slug,
		&link.TargetURL,
		&link.Description,
		&link.ExpiresAt,
		&link.CreatedAt,
		&link.UpdatedAt,
		&link.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, nil
}

// List returns active links ordered by creation time. Text filters on slug,
// target URL and description; Cursor is a plain row offset.
func (r *linkRepository) List(ctx context.Context, q repository.ListQuery) ([]*domain.Link, error) {
	size := q.Size
	if size < 1 || size > 100 {
		size = 100
	}
	dir := "ASC"
	if q.Order == "desc" {
		dir = "DESC"
	}

	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE is_active = true
		  AND ($1 = '' OR slug ILIKE '%' || $1 || '%'
		       OR target_url ILIKE '%' || $1 || '%'
		       OR description ILIKE '%' || $1 || '%')
		ORDER BY created_at ` + dir + `
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, q.Text, size, q.Cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*domain.Link
	for rows.Next() {
		link := &domain.Link{}
		if err := rows.Scan(
			&link.ID,
			&link.Slug,
			&link.TargetURL,
			&link.Description,
			&link.ExpiresAt,
			&link.CreatedAt,
			&link.UpdatedAt,
			&link.IsActive,
		); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read links: %w", err)
	}

	return links, nil
}

// Delete performs a soft delete.
func (r *linkRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `UPDATE links SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrLinkNotFound
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InitDB initializes the database connection pool. Called once at startup.
func InitDB(ctx context.Context, dsn string, maxConns, minConns int, maxLifetime time.Duration) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = int32(maxConns)
	config.MinConns = int32(minConns)
	config.MaxConnLifetime = maxLifetime
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
