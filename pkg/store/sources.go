package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SourceRepo persists IoC source registrations
type SourceRepo struct {
	db *sqlx.DB
}

const sourceInsert = `
INSERT INTO ioc_sources (name, description, source_type, url, is_enabled)
VALUES ($1, $2, $3, $4, $5)
RETURNING *`

// Create stores a new IoC source
func (r *SourceRepo) Create(ctx context.Context, s *IoCSource) (*IoCSource, error) {
	if err := validateEntity(s); err != nil {
		return nil, err
	}

	var created IoCSource
	err := r.db.GetContext(ctx, &created, sourceInsert,
		s.Name, s.Description, s.SourceType, s.URL, s.IsEnabled)
	if err != nil {
		return nil, wrapRowErr("insert", "ioc_sources", err)
	}
	return &created, nil
}

// Get fetches a source by id
func (r *SourceRepo) Get(ctx context.Context, id int64) (*IoCSource, error) {
	var s IoCSource
	err := r.db.GetContext(ctx, &s, `SELECT * FROM ioc_sources WHERE id = $1`, id)
	if err != nil {
		return nil, wrapRowErr("select", "ioc_sources", err)
	}
	return &s, nil
}

// List returns sources ordered by name
func (r *SourceRepo) List(ctx context.Context, limit, offset int) ([]IoCSource, error) {
	var sources []IoCSource
	err := r.db.SelectContext(ctx, &sources,
		`SELECT * FROM ioc_sources ORDER BY name LIMIT $1 OFFSET $2`, clampLimit(limit), offset)
	if err != nil {
		return nil, wrapRowErr("select", "ioc_sources", err)
	}
	return sources, nil
}

const sourceUpdate = `
UPDATE ioc_sources
SET name = $2, description = $3, source_type = $4, url = $5, is_enabled = $6, updated_at = now()
WHERE id = $1
RETURNING *`

// Update replaces a source row
func (r *SourceRepo) Update(ctx context.Context, s *IoCSource) (*IoCSource, error) {
	if err := validateEntity(s); err != nil {
		return nil, err
	}

	var updated IoCSource
	err := r.db.GetContext(ctx, &updated, sourceUpdate,
		s.ID, s.Name, s.Description, s.SourceType, s.URL, s.IsEnabled)
	if err != nil {
		return nil, wrapRowErr("update", "ioc_sources", err)
	}
	return &updated, nil
}

// MarkFetched stamps a completed feed fetch
func (r *SourceRepo) MarkFetched(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ioc_sources SET last_fetched = now(), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return wrapRowErr("update", "ioc_sources", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("ioc_sources")
	}
	return nil
}

// Delete removes a source row
func (r *SourceRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ioc_sources WHERE id = $1`, id)
	if err != nil {
		return wrapRowErr("delete", "ioc_sources", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("ioc_sources")
	}
	return nil
}
