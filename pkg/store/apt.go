package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// APTGroupRepo persists threat actor groups
type APTGroupRepo struct {
	db *sqlx.DB
}

const aptInsert = `
INSERT INTO apt_groups (name, aliases, description, sophistication, primary_motivation,
                        target_sectors, country_of_origin, first_observed, last_observed, reference_urls)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING *`

// Create stores a new APT group
func (r *APTGroupRepo) Create(ctx context.Context, g *APTGroup) (*APTGroup, error) {
	if err := validateEntity(g); err != nil {
		return nil, err
	}

	var created APTGroup
	err := r.db.GetContext(ctx, &created, aptInsert,
		g.Name, textArray(g.Aliases), g.Description, g.Sophistication, g.PrimaryMotivation,
		textArray(g.TargetSectors), g.CountryOfOrigin, g.FirstObserved, g.LastObserved,
		textArray(g.ReferenceURLs))
	if err != nil {
		return nil, wrapRowErr("insert", "apt_groups", err)
	}
	return &created, nil
}

// Get fetches an APT group by id
func (r *APTGroupRepo) Get(ctx context.Context, id int64) (*APTGroup, error) {
	var g APTGroup
	err := r.db.GetContext(ctx, &g, `SELECT * FROM apt_groups WHERE id = $1`, id)
	if err != nil {
		return nil, wrapRowErr("select", "apt_groups", err)
	}
	return &g, nil
}

// GetByName fetches an APT group by its unique name
func (r *APTGroupRepo) GetByName(ctx context.Context, name string) (*APTGroup, error) {
	var g APTGroup
	err := r.db.GetContext(ctx, &g, `SELECT * FROM apt_groups WHERE name = $1`, name)
	if err != nil {
		return nil, wrapRowErr("select", "apt_groups", err)
	}
	return &g, nil
}

// List returns APT groups ordered by name
func (r *APTGroupRepo) List(ctx context.Context, limit, offset int) ([]APTGroup, error) {
	var groups []APTGroup
	err := r.db.SelectContext(ctx, &groups,
		`SELECT * FROM apt_groups ORDER BY name LIMIT $1 OFFSET $2`, clampLimit(limit), offset)
	if err != nil {
		return nil, wrapRowErr("select", "apt_groups", err)
	}
	return groups, nil
}

const aptUpdate = `
UPDATE apt_groups
SET name = $2, aliases = $3, description = $4, sophistication = $5, primary_motivation = $6,
    target_sectors = $7, country_of_origin = $8, first_observed = $9, last_observed = $10,
    reference_urls = $11, updated_at = now()
WHERE id = $1
RETURNING *`

// Update replaces an APT group row
func (r *APTGroupRepo) Update(ctx context.Context, g *APTGroup) (*APTGroup, error) {
	if err := validateEntity(g); err != nil {
		return nil, err
	}

	var updated APTGroup
	err := r.db.GetContext(ctx, &updated, aptUpdate,
		g.ID, g.Name, textArray(g.Aliases), g.Description, g.Sophistication, g.PrimaryMotivation,
		textArray(g.TargetSectors), g.CountryOfOrigin, g.FirstObserved, g.LastObserved,
		textArray(g.ReferenceURLs))
	if err != nil {
		return nil, wrapRowErr("update", "apt_groups", err)
	}
	return &updated, nil
}

// Delete removes an APT group row. Callers must scrub the group's id from
// IoC attribution first (indicator.UnlinkAPTEverywhere).
func (r *APTGroupRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM apt_groups WHERE id = $1`, id)
	if err != nil {
		return wrapRowErr("delete", "apt_groups", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("apt_groups")
	}
	return nil
}
