package tabular

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// DirOptions controls batch loading of a directory.
type DirOptions struct {
	// SkipUnsupported skips files Load cannot read instead of failing the
	// whole batch.
	SkipUnsupported bool

	// Concurrency bounds how many files are parsed at once. Defaults to 4.
	Concurrency int
}

// DirReport is the outcome of LoadDir. Tables are in directory order.
type DirReport struct {
	Tables  []*Table
	Skipped []string
}

// LoadDir loads every regular file in dir. Extensions are checked before
// anything is parsed, so an unsupported file fails the batch with
// errdefs.ErrUnsupportedFileType and no table is returned. Any parse error
// also fails the batch.
func LoadDir(ctx context.Context, dir string, opts DirOptions) (*DirReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", dir, errdefs.ErrResourceNotFound)
		}
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	report := &DirReport{}
	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if !Supported(p) {
			if !opts.SkipUnsupported {
				return nil, fmt.Errorf("%s: %w", e.Name(), errdefs.ErrUnsupportedFileType)
			}
			slog.Warn("skipping unsupported file", "file", e.Name())
			report.Skipped = append(report.Skipped, e.Name())
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return report, nil
	}

	size := opts.Concurrency
	if size <= 0 {
		size = 4
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("creating parse pool: %w", err)
	}
	defer pool.Release()

	tables := make([]*Table, len(paths))
	errs := make([]error, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		i, p := i, p
		if err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return
			}
			tables[i], errs[i] = Load(p)
		}); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("scheduling %s: %w", filepath.Base(p), err)
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	report.Tables = tables
	return report, nil
}
