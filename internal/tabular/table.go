// Package tabular reads CSV and XLSX files into row-oriented in-memory tables.
// A Table is the shared input of the relational and vector materializers.
package tabular

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// Kind is the inferred type of a column.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindReal
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	default:
		return "text"
	}
}

// Table is an ingested file. Every row has exactly len(Columns) cells; a
// cell is int64, float64, string or nil (empty).
type Table struct {
	Name       string // file base name without extension
	SourceFile string
	Columns    []string
	Kinds      []Kind
	Rows       [][]any
}

// Row returns row i as a column name to value mapping.
func (t *Table) Row(i int) map[string]any {
	m := make(map[string]any, len(t.Columns))
	for j, c := range t.Columns {
		m[c] = t.Rows[i][j]
	}
	return m
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

const (
	extCSV  = ".csv"
	extXLSX = ".xlsx"
)

// Supported reports whether path has an extension Load can read.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case extCSV, extXLSX:
		return true
	}
	return false
}

// BaseName returns the file name of path without directory or extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Load reads a single .csv or .xlsx file. Any other extension fails with
// errdefs.ErrUnsupportedFileType without touching the file.
func Load(path string) (*Table, error) {
	var (
		header  []string
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case extCSV:
		header, records, err = readCSV(path)
	case extXLSX:
		header, records, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), errdefs.ErrUnsupportedFileType)
	}
	if err != nil {
		return nil, err
	}
	return build(BaseName(path), path, header, records)
}

// build converts raw string records into a typed Table.
func build(name, source string, header []string, records [][]string) (*Table, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("%s: no header row: %w", filepath.Base(source), errdefs.ErrInvalidInput)
	}
	cols := normalizeHeader(header)

	raw := make([][]string, 0, len(records))
	for i, rec := range records {
		if blank(rec) {
			continue
		}
		if len(rec) > len(cols) {
			return nil, fmt.Errorf("%s: row %d has %d fields, header has %d: %w",
				filepath.Base(source), i+1, len(rec), len(cols), errdefs.ErrInvalidInput)
		}
		if len(rec) < len(cols) {
			padded := make([]string, len(cols))
			copy(padded, rec)
			rec = padded
		}
		raw = append(raw, rec)
	}

	kinds := make([]Kind, len(cols))
	for j := range cols {
		kinds[j] = inferKind(raw, j)
	}

	rows := make([][]any, len(raw))
	for i, rec := range raw {
		row := make([]any, len(cols))
		for j, s := range rec {
			row[j] = convert(s, kinds[j])
		}
		rows[i] = row
	}

	return &Table{
		Name:       name,
		SourceFile: source,
		Columns:    cols,
		Kinds:      kinds,
		Rows:       rows,
	}, nil
}

// normalizeHeader names empty headers "Unnamed: <i>" and disambiguates
// duplicates as "a", "a.1", "a.2".
func normalizeHeader(header []string) []string {
	cols := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if strings.TrimSpace(h) == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		name := h
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		used[name] = true
		cols[i] = name
	}
	return cols
}

func blank(rec []string) bool {
	for _, s := range rec {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

func readFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, errdefs.ErrResourceNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}
