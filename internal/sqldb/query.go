package sqldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// Result is the output of a read-only query.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

// Query runs a single SELECT or WITH statement on a connection switched to
// query_only, so a statement that slips past the keyword check still cannot
// write. At most limit rows are returned; limit <= 0 means 100.
func (d *DB) Query(ctx context.Context, query string, limit int) (*Result, error) {
	stmt, err := readOnlyStatement(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("enabling query_only: %w", err)
	}
	defer conn.ExecContext(context.Background(), "PRAGMA query_only = OFF")

	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("executing query: %v: %w", err, errdefs.ErrInvalidInput)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return res, nil
}

// readOnlyStatement trims a trailing semicolon and rejects anything that is
// not exactly one SELECT or WITH statement.
func readOnlyStatement(query string) (string, error) {
	s := strings.TrimSpace(query)
	s = strings.TrimSpace(strings.TrimRight(s, "; \t\n"))
	if s == "" {
		return "", fmt.Errorf("empty sql statement: %w", errdefs.ErrInvalidInput)
	}
	if hasStatementBreak(s) {
		return "", fmt.Errorf("only one statement is allowed: %w", errdefs.ErrInvalidInput)
	}
	first := strings.ToUpper(strings.Fields(s)[0])
	if first != "SELECT" && first != "WITH" {
		return "", fmt.Errorf("only SELECT or WITH statements are allowed, got %s: %w", first, errdefs.ErrInvalidInput)
	}
	return s, nil
}

// hasStatementBreak reports a semicolon outside quoted text.
func hasStatementBreak(s string) bool {
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == ';':
			return true
		}
	}
	return false
}

// StripFences removes a markdown code fence around a generated statement.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
