package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// OffenceRepo persists correlation hits. Offences are never deleted;
// analysts close them through triage updates.
type OffenceRepo struct {
	db *sqlx.DB
}

// OffenceFilter narrows List results
type OffenceFilter struct {
	Status   string
	Severity string
	RuleID   int64
	Limit    int
	Offset   int
}

// TriagePatch carries the operator-mutable offence fields. Nil fields are
// left untouched.
type TriagePatch struct {
	Status           *string
	Severity         *string
	Notes            *string
	AssignedToUserID *int64
}

// SeverityCount is one row of the severity dashboard
type SeverityCount struct {
	Severity string `db:"severity" json:"severity"`
	Count    int64  `db:"offence_count" json:"count"`
}

// APTOffenceCount is one row of the offences-by-APT dashboard
type APTOffenceCount struct {
	APTGroupID int64  `db:"apt_id" json:"apt_group_id"`
	Name       string `db:"name" json:"name"`
	Count      int64  `db:"offence_count" json:"count"`
}

const offenceInsert = `
INSERT INTO offences (title, description, severity, status, correlation_rule_id,
                      triggering_event_summary, matched_ioc_details, attributed_apt_group_ids,
                      detected_at, notes, assigned_to_user_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()), $10, $11)
RETURNING *`

// Create stores a new offence. Empty status defaults to new.
func (r *OffenceRepo) Create(ctx context.Context, o *Offence) (*Offence, error) {
	if o.Status == "" {
		o.Status = OffenceNew
	}
	if err := validateEntity(o); err != nil {
		return nil, err
	}

	var detectedAt interface{}
	if !o.DetectedAt.IsZero() {
		detectedAt = o.DetectedAt
	}

	var created Offence
	err := r.db.GetContext(ctx, &created, offenceInsert,
		o.Title, o.Description, o.Severity, o.Status, o.CorrelationRuleID,
		o.TriggeringEventSummary, o.MatchedIoCDetails, int64Array(o.AttributedAPTGroupIDs),
		detectedAt, o.Notes, o.AssignedToUserID)
	if err != nil {
		return nil, wrapRowErr("insert", "offences", err)
	}
	return &created, nil
}

// Get fetches an offence by id
func (r *OffenceRepo) Get(ctx context.Context, id int64) (*Offence, error) {
	var o Offence
	err := r.db.GetContext(ctx, &o, `SELECT * FROM offences WHERE id = $1`, id)
	if err != nil {
		return nil, wrapRowErr("select", "offences", err)
	}
	return &o, nil
}

// List returns offences newest first, optionally filtered
func (r *OffenceRepo) List(ctx context.Context, f OffenceFilter) ([]Offence, error) {
	where := []string{}
	args := []interface{}{}

	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		where = append(where, fmt.Sprintf("severity = $%d", len(args)))
	}
	if f.RuleID != 0 {
		args = append(args, f.RuleID)
		where = append(where, fmt.Sprintf("correlation_rule_id = $%d", len(args)))
	}

	query := `SELECT * FROM offences`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(f.Limit))
	query += fmt.Sprintf(" ORDER BY detected_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var offences []Offence
	if err := r.db.SelectContext(ctx, &offences, query, args...); err != nil {
		return nil, wrapRowErr("select", "offences", err)
	}
	return offences, nil
}

// UpdateTriage applies the operator-mutable fields
func (r *OffenceRepo) UpdateTriage(ctx context.Context, id int64, patch TriagePatch) (*Offence, error) {
	set := []string{"updated_at = now()"}
	args := []interface{}{id}

	if patch.Status != nil {
		args = append(args, *patch.Status)
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if patch.Severity != nil {
		args = append(args, *patch.Severity)
		set = append(set, fmt.Sprintf("severity = $%d", len(args)))
	}
	if patch.Notes != nil {
		args = append(args, *patch.Notes)
		set = append(set, fmt.Sprintf("notes = $%d", len(args)))
	}
	if patch.AssignedToUserID != nil {
		args = append(args, *patch.AssignedToUserID)
		set = append(set, fmt.Sprintf("assigned_to_user_id = $%d", len(args)))
	}

	query := fmt.Sprintf("UPDATE offences SET %s WHERE id = $1 RETURNING *", strings.Join(set, ", "))

	var updated Offence
	if err := r.db.GetContext(ctx, &updated, query, args...); err != nil {
		return nil, wrapRowErr("update", "offences", err)
	}
	return &updated, nil
}

// SummaryBySeverity groups offences detected in the last daysBack days
func (r *OffenceRepo) SummaryBySeverity(ctx context.Context, daysBack int) ([]SeverityCount, error) {
	const query = `
SELECT severity, count(*) AS offence_count
FROM offences
WHERE detected_at >= now() - make_interval(days => $1)
GROUP BY severity
ORDER BY offence_count DESC`

	var rows []SeverityCount
	if err := r.db.SelectContext(ctx, &rows, query, daysBack); err != nil {
		return nil, wrapRowErr("select", "offences", err)
	}
	return rows, nil
}

// Recent returns the n most recently detected offences
func (r *OffenceRepo) Recent(ctx context.Context, n int) ([]Offence, error) {
	var offences []Offence
	err := r.db.SelectContext(ctx, &offences,
		`SELECT * FROM offences ORDER BY detected_at DESC LIMIT $1`, clampLimit(n))
	if err != nil {
		return nil, wrapRowErr("select", "offences", err)
	}
	return offences, nil
}

// ByAPT groups recent offences by attributed APT group, joining names
func (r *OffenceRepo) ByAPT(ctx context.Context, daysBack int) ([]APTOffenceCount, error) {
	const query = `
SELECT u.apt_id, COALESCE(a.name, '') AS name, count(*) AS offence_count
FROM offences o
CROSS JOIN LATERAL unnest(o.attributed_apt_group_ids) AS u(apt_id)
LEFT JOIN apt_groups a ON a.id = u.apt_id
WHERE o.detected_at >= now() - make_interval(days => $1)
GROUP BY u.apt_id, a.name
ORDER BY offence_count DESC`

	var rows []APTOffenceCount
	if err := r.db.SelectContext(ctx, &rows, query, daysBack); err != nil {
		return nil, wrapRowErr("select", "offences", err)
	}
	return rows, nil
}

// MatchedIoCSince returns the matched_ioc_details maps of recent offences
// for the top-triggered-IoCs dashboard, which aggregates in process.
func (r *OffenceRepo) MatchedIoCSince(ctx context.Context, daysBack int) ([]JSONMap, error) {
	const query = `
SELECT matched_ioc_details
FROM offences
WHERE matched_ioc_details IS NOT NULL
  AND detected_at >= now() - make_interval(days => $1)`

	rows, err := r.db.QueryxContext(ctx, query, daysBack)
	if err != nil {
		return nil, wrapRowErr("select", "offences", err)
	}
	defer rows.Close()

	var details []JSONMap
	for rows.Next() {
		var m JSONMap
		if err := rows.Scan(&m); err != nil {
			return nil, wrapRowErr("scan", "offences", err)
		}
		details = append(details, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRowErr("select", "offences", err)
	}
	return details, nil
}
