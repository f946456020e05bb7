package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// versionDigits is the width of the numeric prefix in NNNN_description.sql.
const versionDigits = 4

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrate applies every migration in fsys newer than the schema version.
//
// The version is SQLite's user_version. Each migration commits together with
// its version bump, so a failure leaves the schema at the last good step and
// the next Migrate resumes from there. A database at a version newer than
// any migration in fsys is rejected with ErrSchemaMismatch.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	migrations, err := loadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("%w: schema version %d is newer than the %d known migrations",
			ErrSchemaMismatch, current, len(migrations))
	}

	for _, m := range migrations[current:] {
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("applying migration %04d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// SchemaVersion returns the version of the newest applied migration, or 0
// for a fresh database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	// PRAGMA arguments cannot be bound.
	if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(m.Version)); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return tx.Commit()
}

// loadMigrations reads the *.sql files at the root of fsys. Versions must
// run from 1 without gaps so that user_version indexes the slice.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		version, label, ok := parseMigrationFilename(name)
		if !ok {
			return nil, fmt.Errorf("%s: want NNNN_description.sql", name)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: label, SQL: string(body)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	for i, m := range migrations {
		if m.Version != i+1 {
			return nil, fmt.Errorf("migration %04d: expected version %04d", m.Version, i+1)
		}
	}
	return migrations, nil
}

// parseMigrationFilename splits "0001_event_journal.sql" into 1 and
// "event_journal".
func parseMigrationFilename(name string) (version int, label string, ok bool) {
	base, found := strings.CutSuffix(name, ".sql")
	if !found {
		return 0, "", false
	}
	num, label, found := strings.Cut(base, "_")
	if !found || label == "" || len(num) != versionDigits {
		return 0, "", false
	}
	version, err := strconv.Atoi(num)
	if err != nil || version < 1 {
		return 0, "", false
	}
	return version, label, true
}
