package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/edgewatch/edgewatch/pkg/util"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// gooseLogger routes goose output through the process logger
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	util.WithComponent("migrate").Fatalf(format, v...)
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	util.WithComponent("migrate").Infof(format, v...)
}

func prepareGoose() error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	return nil
}

// Migrate applies all pending schema migrations
func Migrate(db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// MigrationStatus prints the migration table state
func MigrationStatus(db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.Status(db, "migrations"); err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	return nil
}
