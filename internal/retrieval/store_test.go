package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// openTestDB creates an in-memory SQLite database with the vector tables.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`
		CREATE TABLE vector_collections (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE vectors (
			collection TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			id TEXT NOT NULL,
			document TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			embedding BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (collection, source, id)
		)`)
	if err != nil {
		t.Fatalf("creating tables: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func makeRecords(n, dim int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			ID:        fmt.Sprintf("id%d", i),
			Document:  fmt.Sprintf("name: row%d,\n", i),
			Metadata:  map[string]string{"source": "people"},
			Embedding: makeTestVector(dim, float32(i+1)),
		}
	}
	return recs
}

func TestAddAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	if _, err := s.CreateCollection(ctx, "tabular", 8); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	vec := makeTestVector(8, 0.1)
	err := s.Add(ctx, "tabular", []Record{{
		ID:        "id0",
		Document:  "name: Alice,\nage: 30,\n",
		Metadata:  map[string]string{"source": "people"},
		Embedding: vec,
	}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.Query(ctx, "tabular", vec, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %f, want > 0.99", results[0].Score)
	}
	if results[0].ID != "id0" || results[0].Metadata["source"] != "people" {
		t.Errorf("result = %+v", results[0].Record)
	}
	if results[0].Document != "name: Alice,\nage: 30,\n" {
		t.Errorf("Document = %q", results[0].Document)
	}
}

func TestQuery_TopKOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))
	if _, err := s.CreateCollection(ctx, "c", 2); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	recs := []Record{
		{ID: "far", Embedding: []float32{0, 1}},
		{ID: "near", Embedding: []float32{1, 0.1}},
		{ID: "mid", Embedding: []float32{1, 1}},
	}
	if err := s.Add(ctx, "c", recs); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.Query(ctx, "c", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "near" || results[1].ID != "mid" {
		t.Errorf("order = %s, %s; want near, mid", results[0].ID, results[1].ID)
	}
}

func TestQuery_CollectionIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))
	for _, name := range []string{"a", "b"} {
		if _, err := s.CreateCollection(ctx, name, 4); err != nil {
			t.Fatalf("CreateCollection: %v", err)
		}
	}
	if err := s.Add(ctx, "a", makeRecords(3, 4)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.Query(ctx, "b", makeTestVector(4, 1), 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty collection", len(results))
	}
}

func TestCreateCollection_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))
	if _, err := s.CreateCollection(ctx, "tabular", 4); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := s.Add(ctx, "tabular", makeRecords(2, 4)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err := s.CreateCollection(ctx, "tabular", 4)
	if !errors.Is(err, errdefs.ErrDuplicateResource) {
		t.Fatalf("err = %v, want ErrDuplicateResource", err)
	}
	n, err := s.Count(ctx, "tabular")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2 (unchanged)", n)
	}
}

func TestAdd_DuplicateIDRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))
	if _, err := s.CreateCollection(ctx, "c", 4); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := s.Add(ctx, "c", makeRecords(2, 4)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// id0 and id1 already exist; id2 must not be written either.
	err := s.Add(ctx, "c", makeRecords(3, 4))
	if !errors.Is(err, errdefs.ErrDuplicateResource) {
		t.Fatalf("err = %v, want ErrDuplicateResource", err)
	}
	n, _ := s.Count(ctx, "c")
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestAdd_SameIDOtherSource(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))
	if _, err := s.CreateCollection(ctx, "c", 4); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	unit := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}
	var people, orders []Record
	for i, v := range unit {
		id := fmt.Sprintf("id%d", i)
		people = append(people, Record{ID: id, Source: "people", Embedding: v})
		orders = append(orders, Record{ID: id, Source: "orders", Embedding: v})
	}
	if err := s.Add(ctx, "c", people); err != nil {
		t.Fatalf("Add people: %v", err)
	}
	if err := s.Add(ctx, "c", orders); err != nil {
		t.Fatalf("Add orders: %v", err)
	}
	if n, _ := s.Count(ctx, "c"); n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}

	results, err := s.Query(ctx, "c", []float32{1, 0, 0, 0}, 4)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	// Equal embeddings tie on score and break on source, then id.
	if results[0].Source != "orders" || results[0].ID != "id0" || results[1].Source != "people" || results[1].ID != "id0" {
		t.Errorf("top two = %s/%s, %s/%s", results[0].Source, results[0].ID, results[1].Source, results[1].ID)
	}
}

func TestAdd_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	if err := s.Add(ctx, "missing", makeRecords(1, 4)); !errors.Is(err, errdefs.ErrResourceNotFound) {
		t.Errorf("missing collection err = %v", err)
	}

	if _, err := s.CreateCollection(ctx, "c", 4); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := s.Add(ctx, "c", makeRecords(1, 8)); !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Errorf("dimension mismatch err = %v", err)
	}
	recs := makeRecords(1, 4)
	recs = append(recs, recs[0])
	if err := s.Add(ctx, "c", recs); !errors.Is(err, errdefs.ErrDuplicateResource) {
		t.Errorf("duplicate within batch err = %v", err)
	}
}

func TestQuery_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	if _, err := s.Query(ctx, "missing", makeTestVector(4, 1), 2); !errors.Is(err, errdefs.ErrResourceNotFound) {
		t.Errorf("missing collection err = %v", err)
	}
	if _, err := s.Query(ctx, "missing", makeTestVector(4, 1), 0); !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Errorf("zero top_k err = %v", err)
	}
}

func TestListAndDeleteCollections(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))
	for _, name := range []string{"zeta", "alpha"} {
		if _, err := s.CreateCollection(ctx, name, 4); err != nil {
			t.Fatalf("CreateCollection: %v", err)
		}
	}
	if err := s.Add(ctx, "zeta", makeRecords(3, 4)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	cols, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(cols) != 2 || cols[0].Name != "alpha" || cols[1].Count != 3 {
		t.Errorf("ListCollections = %+v", cols)
	}

	if err := s.DeleteCollection(ctx, "zeta"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	if _, err := s.GetCollection(ctx, "zeta"); !errors.Is(err, errdefs.ErrResourceNotFound) {
		t.Errorf("GetCollection after delete err = %v", err)
	}
	if err := s.DeleteCollection(ctx, "zeta"); !errors.Is(err, errdefs.ErrResourceNotFound) {
		t.Errorf("second delete err = %v", err)
	}

	// Recreating after delete starts empty.
	if _, err := s.CreateCollection(ctx, "zeta", 4); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if n, _ := s.Count(ctx, "zeta"); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func BenchmarkQuery(b *testing.B) {
	ctx := context.Background()
	db, _ := sql.Open("sqlite", ":memory:")
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.Exec(`CREATE TABLE vector_collections (name TEXT PRIMARY KEY, dimension INTEGER NOT NULL, created_at TEXT NOT NULL);
		CREATE TABLE vectors (collection TEXT NOT NULL, id TEXT NOT NULL, document TEXT NOT NULL, metadata TEXT NOT NULL DEFAULT '{}', embedding BLOB NOT NULL, created_at TEXT NOT NULL, PRIMARY KEY (collection, source, id))`)
	s := NewSQLiteStore(db)
	s.CreateCollection(ctx, "bench", 384)
	s.Add(ctx, "bench", makeRecords(2000, 384))
	q := makeTestVector(384, 0.5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Query(ctx, "bench", q, 5); err != nil {
			b.Fatal(err)
		}
	}
}
