// Package store is the relational side of the server: rules, offences,
// response plans, devices, APT groups and IoC sources live in Postgres.
// Events and IoC documents belong to pkg/eventstore.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// pgUniqueViolation is the Postgres error code for unique constraint hits
const pgUniqueViolation = "23505"

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

var validate = validator.New()

// clampLimit bounds a caller-supplied page size
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// Store bundles the entity repositories over one connection pool
type Store struct {
	db *sqlx.DB

	APTGroups *APTGroupRepo
	Rules     *RuleRepo
	Offences  *OffenceRepo
	Actions   *ActionRepo
	Pipelines *PipelineRepo
	Devices   *DeviceRepo
	Sources   *SourceRepo
}

// Open connects to Postgres and verifies the connection
func Open(databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is not set", util.ErrInvalidConfig)
	}

	db, err := sqlx.Connect("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrNotConnected, err)
	}

	return NewStore(db), nil
}

// NewStore wraps an existing connection pool. Tests use this with sqlmock.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:        db,
		APTGroups: &APTGroupRepo{db: db},
		Rules:     &RuleRepo{db: db},
		Offences:  &OffenceRepo{db: db},
		Actions:   &ActionRepo{db: db},
		Pipelines: &PipelineRepo{db: db},
		Devices:   &DeviceRepo{db: db},
		Sources:   &SourceRepo{db: db},
	}
}

// DB exposes the underlying pool for migrations
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// Ping verifies the pool is alive
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", util.ErrNotConnected, err)
	}
	return nil
}

// Close releases the pool
func (s *Store) Close() error {
	return s.db.Close()
}

// notFound reports a zero-row mutation as the shared sentinel
func notFound(table string) error {
	return fmt.Errorf("%w: %s", util.ErrNotFound, table)
}

// wrapRowErr maps driver errors onto the shared sentinels so callers can
// use errors.Is instead of matching Postgres codes.
func wrapRowErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", util.ErrNotFound, table)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s (%s)", util.ErrAlreadyExists, table, pgErr.ConstraintName)
	}
	return util.NewStoreError(op, table, err)
}

// validateEntity runs struct tag validation and converts failures to the
// shared validation error type.
func validateEntity(entity interface{}) error {
	if err := validate.Struct(entity); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return util.NewStoreError("validate", "", err)
		}
		v := &util.ValidationBuilder{}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				v.AddErrorf("field %s fails %q", fe.Field(), fe.Tag())
			}
		} else {
			v.AddError(err.Error())
		}
		return v.Build()
	}
	return nil
}

// textArray substitutes an empty array for nil so NOT NULL columns accept it
func textArray(a pq.StringArray) pq.StringArray {
	if a == nil {
		return pq.StringArray{}
	}
	return a
}

// int64Array substitutes an empty array for nil so NOT NULL columns accept it
func int64Array(a pq.Int64Array) pq.Int64Array {
	if a == nil {
		return pq.Int64Array{}
	}
	return a
}

// JSONMap stores a free-form JSON object in a jsonb column
type JSONMap map[string]interface{}

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}

// StepList stores a pipeline's ordered actions_config in a jsonb column
type StepList []PipelineStep

// Value implements driver.Valuer
func (l StepList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]PipelineStep{})
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *StepList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StepList", src)
	}
}
