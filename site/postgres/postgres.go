// Package postgres is a site.Store backed by PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ggoodman/sitemcp/site"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ site.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id          BIGSERIAL PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	excerpt     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'draft'
	            CHECK (status IN ('publish', 'draft', 'private', 'pending', 'future')),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS plugins (
	slug    TEXT PRIMARY KEY,
	name    TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	active  BOOLEAN NOT NULL DEFAULT false
);`

const postColumns = `id, title, content, excerpt, status, created_at, modified_at`

// Connect opens and pings a pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Store reads and writes posts and plugins. The site's name, URL and
// description come from configuration, not the database.
type Store struct {
	pool *pgxpool.Pool
	info site.Info
}

// New creates a store over pool.
func New(pool *pgxpool.Pool, info site.Info) *Store {
	return &Store{pool: pool, info: info}
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// InstallPlugin records p, replacing any plugin with the same slug.
func (s *Store) InstallPlugin(ctx context.Context, p site.Plugin) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plugins (slug, name, version, active) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (slug) DO UPDATE SET name = $2, version = $3, active = $4`,
		p.Slug, p.Name, p.Version, p.Active,
	)
	if err != nil {
		return fmt.Errorf("installing plugin: %w", err)
	}
	return nil
}

func (s *Store) Info(ctx context.Context) (*site.Info, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug FROM plugins WHERE active ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("listing active plugins: %w", err)
	}
	active, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning active plugins: %w", err)
	}

	info := s.info
	info.ActivePlugins = active
	return &info, nil
}

func (s *Store) GetPost(ctx context.Context, id int64) (*site.Post, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	return scanPost(row, id)
}

func (s *Store) UpdatePost(ctx context.Context, id int64, patch site.PostPatch) (*site.Post, error) {
	var status *string
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", site.ErrInvalidStatus, *patch.Status)
		}
		v := string(*patch.Status)
		status = &v
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE posts SET
			title       = COALESCE($2, title),
			content     = COALESCE($3, content),
			excerpt     = COALESCE($4, excerpt),
			status      = COALESCE($5, status),
			modified_at = now()
		 WHERE id = $1
		 RETURNING `+postColumns,
		id, patch.Title, patch.Content, patch.Excerpt, status,
	)
	return scanPost(row, id)
}

func (s *Store) CreatePost(ctx context.Context, np site.NewPost) (*site.Post, error) {
	status := np.Status
	if status == "" {
		status = site.StatusDraft
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", site.ErrInvalidStatus, status)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO posts (title, content, excerpt, status) VALUES ($1, $2, $3, $4)
		 RETURNING `+postColumns,
		np.Title, np.Content, np.Excerpt, string(status),
	)
	p, err := scanPost(row, 0)
	if err != nil {
		return nil, fmt.Errorf("creating post: %w", err)
	}
	return p, nil
}

func (s *Store) ActivatePlugin(ctx context.Context, slug string) (*site.Plugin, error) {
	return s.setActive(ctx, slug, true)
}

func (s *Store) DeactivatePlugin(ctx context.Context, slug string) (*site.Plugin, error) {
	return s.setActive(ctx, slug, false)
}

func (s *Store) setActive(ctx context.Context, slug string, active bool) (*site.Plugin, error) {
	var p site.Plugin
	err := s.pool.QueryRow(ctx,
		`UPDATE plugins SET active = $2 WHERE slug = $1 RETURNING slug, name, version, active`,
		slug, active,
	).Scan(&p.Slug, &p.Name, &p.Version, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", site.ErrPluginNotFound, slug)
		}
		return nil, fmt.Errorf("updating plugin: %w", err)
	}
	return &p, nil
}

func scanPost(row pgx.Row, id int64) (*site.Post, error) {
	var (
		p      site.Post
		status string
	)
	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.Excerpt, &status, &p.Created, &p.Modified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", site.ErrPostNotFound, id)
		}
		return nil, fmt.Errorf("reading post: %w", err)
	}
	p.Status = site.Status(status)
	return &p, nil
}
