package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/tabular"
)

// Mode decides what Materialize does when the table already exists.
type Mode string

const (
	ModeFail    Mode = "fail"
	ModeReplace Mode = "replace"
)

// ParseMode accepts "fail", "replace" or "" (fail).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFail:
		return ModeFail, nil
	case ModeReplace:
		return ModeReplace, nil
	}
	return "", fmt.Errorf("write mode %q: want fail or replace: %w", s, errdefs.ErrInvalidInput)
}

func sqlType(k tabular.Kind) string {
	switch k {
	case tabular.KindInteger:
		return "INTEGER"
	case tabular.KindReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Materialize writes t as a table named t.Name in a single transaction.
// With ModeFail an existing table yields errdefs.ErrDuplicateResource and
// is left untouched; with ModeReplace it is dropped and recreated.
func (d *DB) Materialize(ctx context.Context, t *tabular.Table, mode Mode) error {
	if t.Name == "" {
		return fmt.Errorf("table has no name: %w", errdefs.ErrInvalidInput)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q has no columns: %w", t.Name, errdefs.ErrInvalidInput)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning materialize transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := tableExists(ctx, tx, t.Name)
	if err != nil {
		return err
	}
	if exists {
		if mode != ModeReplace {
			return fmt.Errorf("table %q in profile %q: %w", t.Name, d.profile, errdefs.ErrDuplicateResource)
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+quoteIdent(t.Name)); err != nil {
			return fmt.Errorf("dropping table %q: %w", t.Name, err)
		}
	}

	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = quoteIdent(c) + " " + sqlType(t.Kinds[i])
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.Name), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("creating table %q: %w", t.Name, err)
	}

	if t.Len() > 0 {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = quoteIdent(c)
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?%s)",
			quoteIdent(t.Name), strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)-1))
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("preparing insert into %q: %w", t.Name, err)
		}
		defer stmt.Close()

		for i, row := range t.Rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("inserting row %d into %q: %w", i, t.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing table %q: %w", t.Name, err)
	}
	return nil
}

func tableExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %q: %w", name, err)
	}
	return n > 0, nil
}
