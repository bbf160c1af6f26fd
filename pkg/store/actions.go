package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ActionRepo persists response actions
type ActionRepo struct {
	db *sqlx.DB
}

const actionInsert = `
INSERT INTO response_actions (name, description, type, is_enabled, default_params)
VALUES ($1, $2, $3, $4, $5)
RETURNING *`

// Create stores a new response action
func (r *ActionRepo) Create(ctx context.Context, a *ResponseAction) (*ResponseAction, error) {
	if err := validateEntity(a); err != nil {
		return nil, err
	}

	var created ResponseAction
	err := r.db.GetContext(ctx, &created, actionInsert,
		a.Name, a.Description, a.Type, a.IsEnabled, a.DefaultParams)
	if err != nil {
		return nil, wrapRowErr("insert", "response_actions", err)
	}
	return &created, nil
}

// Get fetches an action by id
func (r *ActionRepo) Get(ctx context.Context, id int64) (*ResponseAction, error) {
	var a ResponseAction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM response_actions WHERE id = $1`, id)
	if err != nil {
		return nil, wrapRowErr("select", "response_actions", err)
	}
	return &a, nil
}

// List returns actions ordered by name
func (r *ActionRepo) List(ctx context.Context, limit, offset int) ([]ResponseAction, error) {
	var actions []ResponseAction
	err := r.db.SelectContext(ctx, &actions,
		`SELECT * FROM response_actions ORDER BY name LIMIT $1 OFFSET $2`, clampLimit(limit), offset)
	if err != nil {
		return nil, wrapRowErr("select", "response_actions", err)
	}
	return actions, nil
}

const actionUpdate = `
UPDATE response_actions
SET name = $2, description = $3, type = $4, is_enabled = $5, default_params = $6, updated_at = now()
WHERE id = $1
RETURNING *`

// Update replaces an action row
func (r *ActionRepo) Update(ctx context.Context, a *ResponseAction) (*ResponseAction, error) {
	if err := validateEntity(a); err != nil {
		return nil, err
	}

	var updated ResponseAction
	err := r.db.GetContext(ctx, &updated, actionUpdate,
		a.ID, a.Name, a.Description, a.Type, a.IsEnabled, a.DefaultParams)
	if err != nil {
		return nil, wrapRowErr("update", "response_actions", err)
	}
	return &updated, nil
}

// Delete removes an action row
func (r *ActionRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM response_actions WHERE id = $1`, id)
	if err != nil {
		return wrapRowErr("delete", "response_actions", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("response_actions")
	}
	return nil
}

// ExistingIDs filters ids down to those present in the table. Pipeline
// validation uses this to reject configs referencing unknown actions.
func (r *ActionRepo) ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	present := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return present, nil
	}

	var found []int64
	err := r.db.SelectContext(ctx, &found,
		`SELECT id FROM response_actions WHERE id = ANY($1)`, pq.Int64Array(ids))
	if err != nil {
		return nil, wrapRowErr("select", "response_actions", err)
	}
	for _, id := range found {
		present[id] = true
	}
	return present, nil
}
