package listings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
)

// Connect opens a pgx connection pool.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listings database: %w", err)
	}
	return pool, nil
}

// migration is one idempotent schema step.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "create_admin_job_listings",
		sql: `
			CREATE TABLE IF NOT EXISTS admin_job_listings (
				id              UUID PRIMARY KEY,
				title           TEXT NOT NULL,
				company         TEXT NOT NULL DEFAULT '',
				company_logo    TEXT NOT NULL DEFAULT '',
				location        TEXT NOT NULL DEFAULT '',
				remote          BOOLEAN NOT NULL DEFAULT FALSE,
				employment_type TEXT NOT NULL DEFAULT '',
				description     TEXT NOT NULL DEFAULT '',
				apply_link      TEXT NOT NULL DEFAULT '',
				keywords        TEXT[] NOT NULL DEFAULT '{}',
				featured        BOOLEAN NOT NULL DEFAULT FALSE,
				active          BOOLEAN NOT NULL DEFAULT TRUE,
				posted_at       TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
			);`,
	},
	{
		name: "index_admin_job_listings_active",
		sql: `
			CREATE INDEX IF NOT EXISTS admin_job_listings_active_idx
				ON admin_job_listings (featured DESC, created_at DESC)
				WHERE active;`,
	},
}

// EnsureSchema creates the listings table and indexes when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			logger.Error().Err(err).Str("migration", m.name).Msg("Migration failed")
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		logger.Debug().Str("migration", m.name).Msg("Migration applied")
	}
	return nil
}

// PostgresSource reads listings from the admin_job_listings table.
type PostgresSource struct {
	pool   *pgxpool.Pool
	limit  int
	logger zerolog.Logger
}

// NewPostgresSource creates a Source over pool.
func NewPostgresSource(pool *pgxpool.Pool, limit int, logger zerolog.Logger) *PostgresSource {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &PostgresSource{pool: pool, limit: limit, logger: logger}
}

const selectListings = `
	SELECT id::text, title, company, company_logo, location, remote,
	       employment_type, description, apply_link, featured, posted_at
	FROM admin_job_listings
	WHERE active
	  AND ($1 = '' OR title ILIKE '%' || $1 || '%'
	       OR company ILIKE '%' || $1 || '%'
	       OR EXISTS (SELECT 1 FROM unnest(keywords) AS k WHERE k ILIKE '%' || $1 || '%'))
	  AND ($2 = '' OR remote OR location ILIKE '%' || $2 || '%')
	  AND (NOT $3 OR remote)
	  AND (cardinality($4::text[]) = 0 OR upper(employment_type) = ANY($4::text[]))
	ORDER BY featured DESC, created_at DESC
	LIMIT $5`

// Listings implements Source.
func (s *PostgresSource) Listings(ctx context.Context, p jobs.SearchParams) ([]jobs.Job, error) {
	types := p.EmploymentTypes
	if types == nil {
		types = []string{}
	}

	rows, err := s.pool.Query(ctx, selectListings,
		escapeLike(p.Query), escapeLike(p.Location), p.Remote, types, s.limit)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		var j jobs.Job
		if err := rows.Scan(&j.ID, &j.Title, &j.Company, &j.CompanyLogo, &j.Location, &j.Remote,
			&j.EmploymentType, &j.Description, &j.ApplyLink, &j.Featured, &j.PostedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		j.Source = jobs.SourceAdmin
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}

	s.logger.Debug().
		Str("query", p.Query).
		Int("results", len(out)).
		Msg("Listings loaded")
	return out, nil
}

// Create inserts a listing and returns it with its generated ID.
func (s *PostgresSource) Create(ctx context.Context, l Listing) (Listing, error) {
	id := uuid.New()
	if l.ID != "" {
		parsed, err := uuid.Parse(l.ID)
		if err != nil {
			return Listing{}, fmt.Errorf("parse listing id: %w", err)
		}
		id = parsed
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	keywords := l.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_job_listings
			(id, title, company, company_logo, location, remote, employment_type,
			 description, apply_link, keywords, featured, active, posted_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
		id, l.Title, l.Company, l.CompanyLogo, l.Location, l.Remote, strings.ToUpper(l.EmploymentType),
		l.Description, l.ApplyLink, keywords, l.Featured, l.Active, l.PostedAt, l.CreatedAt)
	if err != nil {
		return Listing{}, fmt.Errorf("insert listing: %w", err)
	}

	l.ID = id.String()
	l.Source = jobs.SourceAdmin
	s.logger.Info().
		Str("listing_id", l.ID).
		Str("title", l.Title).
		Bool("featured", l.Featured).
		Msg("Listing created")
	return l, nil
}

// escapeLike escapes ILIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
