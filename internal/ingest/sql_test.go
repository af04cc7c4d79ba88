package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/sqldb"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return p
}

func TestSQLPipeline_Directory(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	data := t.TempDir()
	writeFile(t, src, "people.csv", "name,age\nAlice,30\nBob,25\nCarol,41\n")
	writeFile(t, src, "orders.csv", "id,total\n1,9.5\n2,12\n")

	p := NewSQLPipeline(data, 2)
	report, err := p.Run(ctx, src, SQLOptions{Profile: "stored"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Created) != 2 || len(report.Tables) != 2 {
		t.Fatalf("report = %+v", report)
	}

	db, err := sqldb.OpenExisting(data, "stored")
	if err != nil {
		t.Fatalf("OpenExisting: %v", err)
	}
	defer db.Close()
	res, err := db.Query(ctx, "SELECT name FROM people WHERE age = 30", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "Alice" {
		t.Errorf("rows = %v", res.Rows)
	}
}

func TestSQLPipeline_UnsupportedFileWritesNothing(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	data := t.TempDir()
	writeFile(t, src, "people.csv", "name,age\nAlice,30\n")
	writeFile(t, src, "notes.txt", "not a table")

	p := NewSQLPipeline(data, 2)
	report, err := p.Run(ctx, src, SQLOptions{Profile: "stored"})
	if !errors.Is(err, errdefs.ErrUnsupportedFileType) {
		t.Fatalf("err = %v, want ErrUnsupportedFileType", err)
	}
	if len(report.Created) != 0 {
		t.Errorf("Created = %v, want none", report.Created)
	}
	if _, err := os.Stat(sqldb.Path(data, "stored")); !os.IsNotExist(err) {
		t.Errorf("profile database exists after failed batch: %v", err)
	}
}

func TestSQLPipeline_SkipUnsupported(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "people.csv", "name,age\nAlice,30\n")
	writeFile(t, src, "notes.txt", "not a table")

	report, err := NewSQLPipeline(t.TempDir(), 1).Run(context.Background(), src,
		SQLOptions{Profile: "stored", SkipUnsupported: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "notes.txt" {
		t.Errorf("Skipped = %v", report.Skipped)
	}
}

func TestSQLPipeline_ExistingTable(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	data := t.TempDir()
	file := writeFile(t, src, "people.csv", "name,age\nAlice,30\n")

	p := NewSQLPipeline(data, 1)
	if _, err := p.Run(ctx, file, SQLOptions{Profile: "uploads"}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	_, err := p.Run(ctx, file, SQLOptions{Profile: "uploads", Mode: sqldb.ModeFail})
	if !errors.Is(err, errdefs.ErrDuplicateResource) {
		t.Fatalf("err = %v, want ErrDuplicateResource", err)
	}
	if _, err := p.Run(ctx, file, SQLOptions{Profile: "uploads", Mode: sqldb.ModeReplace}); err != nil {
		t.Fatalf("replace Run: %v", err)
	}
}

func TestSQLPipeline_BadProfile(t *testing.T) {
	_, err := NewSQLPipeline(t.TempDir(), 1).Run(context.Background(), "x.csv", SQLOptions{Profile: "../x"})
	if !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
