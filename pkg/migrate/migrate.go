package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/lgulliver/rvcstore/pkg/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one versioned schema change
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies SQL migrations to the acquisition history database
type Migrator struct {
	db            *sql.DB
	migrationsFS  fs.FS
	migrationsDir string
}

// NewMigrator opens a PostgreSQL connection for cfg. SQLite databases are
// migrated by gorm at startup and do not use this tool.
func NewMigrator(ctx context.Context, cfg *config.DatabaseConfig, migrationsFS fs.FS, migrationsDir string) (*Migrator, error) {
	if cfg.Driver != "" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("sql migrations require the postgres driver, got %q", cfg.Driver)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Migrator{db: db, migrationsFS: migrationsFS, migrationsDir: migrationsDir}, nil
}

// LoadMigrations reads every NNN_name.sql file in dir, ordered by version
func LoadMigrations(fsys fs.FS, dir string) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []*Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		migration, err := parseMigrationFile(fsys, dir, entry.Name())
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping invalid migration file")
			continue
		}
		if other, dup := seen[migration.Version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d in %s and %s", migration.Version, other, entry.Name())
		}
		seen[migration.Version] = entry.Name()
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseMigrationFile(fsys fs.FS, dir, filename string) (*Migration, error) {
	prefix, rest, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || rest == "" {
		return nil, fmt.Errorf("invalid migration filename format: %s", filename)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version from filename %s: %w", filename, err)
	}

	content, err := fs.ReadFile(fsys, path.Join(dir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file %s: %w", filename, err)
	}

	upSQL, downSQL := splitMigration(string(content))
	if strings.TrimSpace(upSQL) == "" {
		return nil, fmt.Errorf("migration %s has no up section", filename)
	}

	return &Migration{Version: version, Name: rest, UpSQL: upSQL, DownSQL: downSQL}, nil
}

// splitMigration separates the up and down sections. Lines before the first
// marker belong to the up section.
func splitMigration(content string) (string, string) {
	var upLines, downLines []string
	inDown := false

	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case upMarker:
			inDown = false
			continue
		case downMarker:
			inDown = true
			continue
		}
		if inDown {
			downLines = append(downLines, line)
		} else {
			upLines = append(upLines, line)
		}
	}

	return strings.TrimSpace(strings.Join(upLines, "\n")), strings.TrimSpace(strings.Join(downLines, "\n"))
}

// Pending returns the migrations not listed in applied
func Pending(migrations []*Migration, applied []int) []*Migration {
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	var pending []*Migration
	for _, m := range migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// AppliedVersions returns applied migration versions in ascending order
func (m *Migrator) AppliedVersions(ctx context.Context) ([]int, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// Up runs all pending migrations, each in its own transaction
func (m *Migrator) Up(ctx context.Context) error {
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	migrations, err := LoadMigrations(m.migrationsFS, m.migrationsDir)
	if err != nil {
		return err
	}

	pending := Pending(migrations, applied)
	if len(pending) == 0 {
		log.Info().Msg("No pending migrations")
		return nil
	}

	log.Info().Int("count", len(pending)).Msg("Running pending migrations")
	for _, migration := range pending {
		err := m.inTx(ctx, migration.UpSQL,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", migration.Version, migration.Name)
		if err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applied migration")
	}
	return nil
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down(ctx context.Context) error {
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info().Msg("No migrations to roll back")
		return nil
	}
	last := applied[len(applied)-1]

	migrations, err := LoadMigrations(m.migrationsFS, m.migrationsDir)
	if err != nil {
		return err
	}

	var target *Migration
	for _, migration := range migrations {
		if migration.Version == last {
			target = migration
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration file for version %d not found", last)
	}

	if err := m.inTx(ctx, target.DownSQL, "DELETE FROM schema_migrations WHERE version = $1", target.Version); err != nil {
		return fmt.Errorf("failed to roll back migration %d (%s): %w", target.Version, target.Name, err)
	}

	log.Info().Int("version", target.Version).Str("name", target.Name).Msg("Rolled back migration")
	return nil
}

// inTx executes a migration body and its bookkeeping statement atomically
func (m *Migrator) inTx(ctx context.Context, body, bookkeeping string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if strings.TrimSpace(body) != "" {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("failed to update schema_migrations: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}
