// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package storage

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

type MigrationStatus struct {
	ID        string
	Checksum  string
	Applied   bool
	AppliedAt *time.Time
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

func migrationsDir(db *sqlx.DB) (string, error) {
	switch db.DriverName() {
	case "sqlite3":
		return "migrations/sqlite", nil
	case "postgres":
		return "migrations/postgres", nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", db.DriverName())
	}
}

// Migrate applies every pending embedded migration in filename order. The
// checksums of already applied migrations must match the embedded files.
func Migrate(db *sqlx.DB) (int, error) {
	dir, err := migrationsDir(db)
	if err != nil {
		return 0, err
	}
	if err := createMigrationsTable(db); err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}
	migrations, err := parseMigrations(migrationsFS, dir)
	if err != nil {
		return 0, fmt.Errorf("parse migrations: %w", err)
	}
	applied, err := appliedMigrations(db)
	if err != nil {
		return 0, fmt.Errorf("query applied migrations: %w", err)
	}

	byID := map[string]migration{}
	for _, m := range migrations {
		byID[m.ID] = m
	}
	for id, checksum := range applied {
		m, ok := byID[id]
		if !ok {
			return 0, fmt.Errorf("migration %s is applied but unknown to this binary", id)
		}
		if m.Checksum != checksum {
			return 0, fmt.Errorf("checksum mismatch for migration %s", id)
		}
	}

	n := 0
	for _, m := range migrations {
		if _, ok := applied[m.ID]; ok {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return n, fmt.Errorf("migration %s: %w", m.ID, err)
		}
		n++
	}
	return n, nil
}

// MigrationStatuses lists every embedded migration and whether it ran.
func MigrationStatuses(db *sqlx.DB) ([]MigrationStatus, error) {
	dir, err := migrationsDir(db)
	if err != nil {
		return nil, err
	}
	if err := createMigrationsTable(db); err != nil {
		return nil, err
	}
	migrations, err := parseMigrations(migrationsFS, dir)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID        string    `db:"migration_id"`
		AppliedAt time.Time `db:"applied_at"`
	}
	if err := db.Select(&rows, "SELECT migration_id, applied_at FROM schema_migrations"); err != nil {
		return nil, err
	}
	at := map[string]time.Time{}
	for _, r := range rows {
		at[r.ID] = r.AppliedAt
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		s := MigrationStatus{ID: m.ID, Checksum: m.Checksum}
		if t, ok := at[m.ID]; ok {
			s.Applied = true
			s.AppliedAt = &t
		}
		out = append(out, s)
	}
	return out, nil
}

func parseMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		out = append(out, migration{
			ID:       e.Name(),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
			SQL:      string(content),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func createMigrationsTable(db *sqlx.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		migration_id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`)
	return err
}

func appliedMigrations(db *sqlx.DB) (map[string]string, error) {
	var rows []struct {
		ID       string `db:"migration_id"`
		Checksum string `db:"checksum"`
	}
	if err := db.Select(&rows, "SELECT migration_id, checksum FROM schema_migrations"); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Checksum
	}
	return out, nil
}

// applyMigration runs one file statement by statement in a transaction;
// lib/pq does not accept several statements in one Exec.
func applyMigration(db *sqlx.DB, m migration) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement failed: %w", err)
		}
	}
	if _, err := tx.Exec(tx.Rebind("INSERT INTO schema_migrations (migration_id, checksum, applied_at) VALUES (?, ?, ?)"),
		m.ID, m.Checksum, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

func splitStatements(sql string) []string {
	var lines []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
