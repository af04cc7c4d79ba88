// Package sqldb manages the per-profile relational databases that hold
// materialized tables. Each profile is one SQLite file under <dir>/sql/.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kalambet/tabchat/internal/errdefs"
)

var profileRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DB is an open profile database.
type DB struct {
	db      *sql.DB
	profile string
	path    string
}

// ValidateProfile rejects profile names that are not safe file names.
func ValidateProfile(profile string) error {
	if !profileRe.MatchString(profile) {
		return fmt.Errorf("profile %q: must match [A-Za-z0-9_-]+: %w", profile, errdefs.ErrInvalidInput)
	}
	return nil
}

// Path returns the database file of profile under dir.
func Path(dir, profile string) string {
	return filepath.Join(dir, "sql", profile+".db")
}

// Open opens (or creates) the database of profile under dir.
func Open(dir, profile string) (*DB, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}
	p := Path(dir, profile)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("creating sql directory: %w", err)
	}
	return open(p, profile)
}

// OpenExisting opens the database of profile and fails with
// errdefs.ErrResourceNotFound when nothing has been ingested into it yet.
func OpenExisting(dir, profile string) (*DB, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}
	p := Path(dir, profile)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("profile %q has no database, run ingestion first: %w", profile, errdefs.ErrResourceNotFound)
		}
		return nil, fmt.Errorf("checking profile database: %w", err)
	}
	return open(p, profile)
}

func open(path, profile string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	return &DB{db: db, profile: profile, path: path}, nil
}

// Profiles lists the profiles that have a database under dir.
func Profiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "sql"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".db" {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".db"))
	}
	sort.Strings(out)
	return out, nil
}

// Profile returns the profile name.
func (d *DB) Profile() string { return d.profile }

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// Tables lists the user tables in name order.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Column is a declared table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableSchema is a table with its columns in declaration order.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Schema describes every user table.
func (d *DB) Schema(ctx context.Context) ([]TableSchema, error) {
	names, err := d.Tables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TableSchema, 0, len(names))
	for _, n := range names {
		cols, err := d.columns(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, TableSchema{Name: n, Columns: cols})
	}
	return out, nil
}

func (d *DB) columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %q: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// DescribeSchema renders the schema as CREATE TABLE-like lines for prompts.
func DescribeSchema(schema []TableSchema) string {
	var b strings.Builder
	for _, t := range schema {
		b.WriteString("TABLE ")
		b.WriteString(quoteIdent(t.Name))
		b.WriteString(" (")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdent(c.Name))
			b.WriteByte(' ')
			b.WriteString(c.Type)
		}
		b.WriteString(")\n")
	}
	return b.String()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
