package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"restotrack/config"
	"restotrack/core/utils"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// NewDB opens the configured database. SQLite is the default;
// `db_driver: postgres` switches to pgx over database/sql, matching
// the deployment split the config documents.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			path = "data/restotrack.db"
		}
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, err
			}
		}
		db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
		if err != nil {
			return nil, err
		}
		// Single writer keeps the CAS transition path serialized.
		db.SetMaxOpenConns(1)
		return db, nil
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.DBURL) == "" {
			return nil, fmt.Errorf("db_url is required for driver %q", driver)
		}
		return sql.Open("pgx", cfg.DBURL)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

func ApplyMigrations(ctx context.Context, db *sql.DB, cfg *config.AppConfig, logger *utils.Logger) error {
	dialect := "sqlite3"
	if d := strings.ToLower(strings.TrimSpace(cfg.DBDriver)); d == "postgres" || d == "pgx" {
		dialect = "postgres"
	}
	goose.SetBaseFS(embeddedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return err
	}
	if logger != nil {
		logger.Infof("store: migrations applied (%s)", dialect)
	}
	return nil
}
