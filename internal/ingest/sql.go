// Package ingest turns tabular files into queryable stores: tables in a
// relational profile database, and embedded row documents in a vector
// collection. Uploads are processed in the background by Worker.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/sqldb"
	"github.com/kalambet/tabchat/internal/tabular"
)

// SQLOptions controls one relational ingestion run.
type SQLOptions struct {
	Profile         string
	Mode            sqldb.Mode
	SkipUnsupported bool
}

// SQLReport describes what a relational run did. On failure it still lists
// the tables created before the failing one.
type SQLReport struct {
	Profile string   `json:"profile"`
	Created []string `json:"created"`
	Skipped []string `json:"skipped,omitempty"`
	Tables  []string `json:"tables"`
}

// SQLPipeline materializes files into profile databases under dataDir.
type SQLPipeline struct {
	dataDir          string
	parseConcurrency int
	logger           *slog.Logger
}

// NewSQLPipeline creates a pipeline writing under dataDir/sql.
func NewSQLPipeline(dataDir string, parseConcurrency int) *SQLPipeline {
	return &SQLPipeline{
		dataDir:          dataDir,
		parseConcurrency: parseConcurrency,
		logger:           slog.Default().With("component", "sql-ingest"),
	}
}

// Run loads path (a file or a directory), writes every table into the
// profile database and then lists the tables the profile holds.
func (p *SQLPipeline) Run(ctx context.Context, path string, opts SQLOptions) (*SQLReport, error) {
	if err := sqldb.ValidateProfile(opts.Profile); err != nil {
		return nil, err
	}
	report := &SQLReport{Profile: opts.Profile, Created: []string{}}

	tables, skipped, err := p.load(ctx, path, opts.SkipUnsupported)
	if err != nil {
		return report, err
	}
	report.Skipped = skipped

	db, err := sqldb.Open(p.dataDir, opts.Profile)
	if err != nil {
		return report, err
	}
	defer db.Close()

	for _, t := range tables {
		if err := db.Materialize(ctx, t, opts.Mode); err != nil {
			return report, fmt.Errorf("materializing %s: %w", t.SourceFile, err)
		}
		p.logger.Info("table materialized", "profile", opts.Profile, "table", t.Name, "rows", t.Len())
		report.Created = append(report.Created, t.Name)
	}

	if report.Tables, err = db.Tables(ctx); err != nil {
		return report, err
	}
	return report, nil
}

func (p *SQLPipeline) load(ctx context.Context, path string, skipUnsupported bool) ([]*tabular.Table, []string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%s: %w", path, errdefs.ErrResourceNotFound)
		}
		return nil, nil, err
	}
	if !info.IsDir() {
		t, err := tabular.Load(path)
		if err != nil {
			return nil, nil, err
		}
		return []*tabular.Table{t}, nil, nil
	}

	dr, err := tabular.LoadDir(ctx, path, tabular.DirOptions{
		SkipUnsupported: skipUnsupported,
		Concurrency:     p.parseConcurrency,
	})
	if err != nil {
		return nil, nil, err
	}
	return dr.Tables, dr.Skipped, nil
}
