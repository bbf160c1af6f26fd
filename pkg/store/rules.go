package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// RuleRepo persists correlation rules
type RuleRepo struct {
	db *sqlx.DB
}

// ValidateSemantics checks the per-type field requirements on top of the
// struct tags: IOC_MATCH_IP needs its match fields, threshold rules need
// a count, a window and aggregation fields.
func ValidateSemantics(cr *CorrelationRule) error {
	v := &util.ValidationBuilder{}

	switch cr.RuleType {
	case RuleIOCMatchIP:
		v.Add(cr.EventFieldToMatch != "", "IOC_MATCH_IP requires event_field_to_match")
		v.Add(cr.IoCTypeToMatch != "", "IOC_MATCH_IP requires ioc_type_to_match")
	case RuleThresholdLoginFailures, RuleThresholdDataExfiltration:
		v.Add(cr.ThresholdCount != nil && *cr.ThresholdCount > 0,
			"threshold rules require a positive threshold_count")
		v.Add(cr.ThresholdWindowMinutes != nil && *cr.ThresholdWindowMinutes > 0,
			"threshold rules require a positive threshold_time_window_minutes")
		v.Add(len(cr.AggregationFields) > 0,
			"threshold rules require non-empty aggregation_fields")
	}

	return v.Build()
}

func validateRule(cr *CorrelationRule) error {
	if err := validateEntity(cr); err != nil {
		return err
	}
	return ValidateSemantics(cr)
}

const ruleInsert = `
INSERT INTO correlation_rules (name, description, rule_type, is_enabled, event_source_type,
                               event_field_to_match, ioc_type_to_match, ioc_tags_match, ioc_min_confidence,
                               threshold_count, threshold_time_window_minutes, aggregation_fields,
                               generated_offence_title_template, generated_offence_severity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING *`

// Create stores a validated correlation rule
func (r *RuleRepo) Create(ctx context.Context, cr *CorrelationRule) (*CorrelationRule, error) {
	if err := validateRule(cr); err != nil {
		return nil, err
	}

	var created CorrelationRule
	err := r.db.GetContext(ctx, &created, ruleInsert,
		cr.Name, cr.Description, cr.RuleType, cr.IsEnabled, textArray(cr.EventSourceType),
		cr.EventFieldToMatch, cr.IoCTypeToMatch, textArray(cr.IoCTagsMatch), cr.IoCMinConfidence,
		cr.ThresholdCount, cr.ThresholdWindowMinutes, textArray(cr.AggregationFields),
		cr.OffenceTitleTemplate, cr.OffenceSeverity)
	if err != nil {
		return nil, wrapRowErr("insert", "correlation_rules", err)
	}
	return &created, nil
}

// Get fetches a rule by id
func (r *RuleRepo) Get(ctx context.Context, id int64) (*CorrelationRule, error) {
	var cr CorrelationRule
	err := r.db.GetContext(ctx, &cr, `SELECT * FROM correlation_rules WHERE id = $1`, id)
	if err != nil {
		return nil, wrapRowErr("select", "correlation_rules", err)
	}
	return &cr, nil
}

// List returns rules ordered by id
func (r *RuleRepo) List(ctx context.Context, limit, offset int) ([]CorrelationRule, error) {
	var rules []CorrelationRule
	err := r.db.SelectContext(ctx, &rules,
		`SELECT * FROM correlation_rules ORDER BY id LIMIT $1 OFFSET $2`, clampLimit(limit), offset)
	if err != nil {
		return nil, wrapRowErr("select", "correlation_rules", err)
	}
	return rules, nil
}

// ListEnabled returns the enabled rules a correlation cycle iterates,
// bounded at the maximum page size.
func (r *RuleRepo) ListEnabled(ctx context.Context) ([]CorrelationRule, error) {
	var rules []CorrelationRule
	err := r.db.SelectContext(ctx, &rules,
		`SELECT * FROM correlation_rules WHERE is_enabled ORDER BY id LIMIT $1`, maxListLimit)
	if err != nil {
		return nil, wrapRowErr("select", "correlation_rules", err)
	}
	return rules, nil
}

const ruleUpdate = `
UPDATE correlation_rules
SET name = $2, description = $3, rule_type = $4, is_enabled = $5, event_source_type = $6,
    event_field_to_match = $7, ioc_type_to_match = $8, ioc_tags_match = $9, ioc_min_confidence = $10,
    threshold_count = $11, threshold_time_window_minutes = $12, aggregation_fields = $13,
    generated_offence_title_template = $14, generated_offence_severity = $15, updated_at = now()
WHERE id = $1
RETURNING *`

// Update replaces a rule row after re-validation
func (r *RuleRepo) Update(ctx context.Context, cr *CorrelationRule) (*CorrelationRule, error) {
	if err := validateRule(cr); err != nil {
		return nil, err
	}

	var updated CorrelationRule
	err := r.db.GetContext(ctx, &updated, ruleUpdate,
		cr.ID, cr.Name, cr.Description, cr.RuleType, cr.IsEnabled, textArray(cr.EventSourceType),
		cr.EventFieldToMatch, cr.IoCTypeToMatch, textArray(cr.IoCTagsMatch), cr.IoCMinConfidence,
		cr.ThresholdCount, cr.ThresholdWindowMinutes, textArray(cr.AggregationFields),
		cr.OffenceTitleTemplate, cr.OffenceSeverity)
	if err != nil {
		return nil, wrapRowErr("update", "correlation_rules", err)
	}
	return &updated, nil
}

// SetEnabled flips a rule without touching its definition
func (r *RuleRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE correlation_rules SET is_enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
	if err != nil {
		return wrapRowErr("update", "correlation_rules", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("correlation_rules")
	}
	return nil
}

// Delete removes a rule. Offences keep their history (the FK nulls out).
func (r *RuleRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM correlation_rules WHERE id = $1`, id)
	if err != nil {
		return wrapRowErr("delete", "correlation_rules", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("correlation_rules")
	}
	return nil
}
