package store

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// PipelineRepo persists response pipelines
type PipelineRepo struct {
	db *sqlx.DB
}

// validateSteps rejects malformed actions_config entries and configs
// referencing actions that do not exist.
func (r *PipelineRepo) validateSteps(ctx context.Context, steps StepList) error {
	v := &util.ValidationBuilder{}

	ids := make([]int64, 0, len(steps))
	for i, step := range steps {
		if step.ActionID <= 0 {
			v.AddErrorf("actions_config[%d]: action_id is required", i)
			continue
		}
		ids = append(ids, step.ActionID)
	}
	if v.HasErrors() {
		return v.Build()
	}

	actions := &ActionRepo{db: r.db}
	present, err := actions.ExistingIDs(ctx, ids)
	if err != nil {
		return err
	}
	for i, step := range steps {
		if !present[step.ActionID] {
			v.AddErrorf("actions_config[%d]: action %d does not exist", i, step.ActionID)
		}
	}

	return v.Build()
}

const pipelineInsert = `
INSERT INTO response_pipelines (name, description, is_enabled, trigger_correlation_rule_id, actions_config)
VALUES ($1, $2, $3, $4, $5)
RETURNING *`

// Create stores a pipeline after validating its action references
func (r *PipelineRepo) Create(ctx context.Context, p *ResponsePipeline) (*ResponsePipeline, error) {
	if err := validateEntity(p); err != nil {
		return nil, err
	}
	if err := r.validateSteps(ctx, p.ActionsConfig); err != nil {
		return nil, err
	}

	var created ResponsePipeline
	err := r.db.GetContext(ctx, &created, pipelineInsert,
		p.Name, p.Description, p.IsEnabled, p.TriggerCorrelationRuleID, p.ActionsConfig)
	if err != nil {
		return nil, wrapRowErr("insert", "response_pipelines", err)
	}
	return &created, nil
}

// Get fetches a pipeline by id
func (r *PipelineRepo) Get(ctx context.Context, id int64) (*ResponsePipeline, error) {
	var p ResponsePipeline
	err := r.db.GetContext(ctx, &p, `SELECT * FROM response_pipelines WHERE id = $1`, id)
	if err != nil {
		return nil, wrapRowErr("select", "response_pipelines", err)
	}
	return &p, nil
}

// List returns pipelines ordered by name
func (r *PipelineRepo) List(ctx context.Context, limit, offset int) ([]ResponsePipeline, error) {
	var pipelines []ResponsePipeline
	err := r.db.SelectContext(ctx, &pipelines,
		`SELECT * FROM response_pipelines ORDER BY name LIMIT $1 OFFSET $2`, clampLimit(limit), offset)
	if err != nil {
		return nil, wrapRowErr("select", "response_pipelines", err)
	}
	return pipelines, nil
}

const pipelineUpdate = `
UPDATE response_pipelines
SET name = $2, description = $3, is_enabled = $4, trigger_correlation_rule_id = $5,
    actions_config = $6, updated_at = now()
WHERE id = $1
RETURNING *`

// Update replaces a pipeline row after re-validating action references
func (r *PipelineRepo) Update(ctx context.Context, p *ResponsePipeline) (*ResponsePipeline, error) {
	if err := validateEntity(p); err != nil {
		return nil, err
	}
	if err := r.validateSteps(ctx, p.ActionsConfig); err != nil {
		return nil, err
	}

	var updated ResponsePipeline
	err := r.db.GetContext(ctx, &updated, pipelineUpdate,
		p.ID, p.Name, p.Description, p.IsEnabled, p.TriggerCorrelationRuleID, p.ActionsConfig)
	if err != nil {
		return nil, wrapRowErr("update", "response_pipelines", err)
	}
	return &updated, nil
}

// Delete removes a pipeline row
func (r *PipelineRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM response_pipelines WHERE id = $1`, id)
	if err != nil {
		return wrapRowErr("delete", "response_pipelines", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("response_pipelines")
	}
	return nil
}

// FindForRule returns the first enabled pipeline triggered by a rule.
// ErrNotFound means the offence gets no automated response.
func (r *PipelineRepo) FindForRule(ctx context.Context, ruleID int64) (*ResponsePipeline, error) {
	var p ResponsePipeline
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM response_pipelines
		 WHERE is_enabled AND trigger_correlation_rule_id = $1
		 ORDER BY id LIMIT 1`, ruleID)
	if err != nil {
		return nil, wrapRowErr("select", "response_pipelines", err)
	}
	return &p, nil
}

// OrderedSteps returns the pipeline's steps sorted by order ascending
func OrderedSteps(p *ResponsePipeline) []PipelineStep {
	steps := make([]PipelineStep, len(p.ActionsConfig))
	copy(steps, p.ActionsConfig)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
	return steps
}
