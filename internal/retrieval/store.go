package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps collections in the application database and answers
// queries with a brute-force cosine scan.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB. The vector_collections and
// vectors tables must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) CreateCollection(ctx context.Context, name string, dimension int) (Collection, error) {
	if strings.TrimSpace(name) == "" {
		return Collection{}, fmt.Errorf("collection name is empty: %w", errdefs.ErrInvalidInput)
	}
	if dimension <= 0 {
		return Collection{}, fmt.Errorf("collection %q: dimension must be positive: %w", name, errdefs.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Collection{}, fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_collections WHERE name = ?`, name).Scan(&n); err != nil {
		return Collection{}, fmt.Errorf("checking collection %q: %w", name, err)
	}
	if n > 0 {
		return Collection{}, fmt.Errorf("collection %q: %w", name, errdefs.ErrDuplicateResource)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vector_collections (name, dimension, created_at) VALUES (?, ?, ?)`,
		name, dimension, now.Format(time.RFC3339)); err != nil {
		return Collection{}, fmt.Errorf("creating collection %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return Collection{}, fmt.Errorf("committing collection %q: %w", name, err)
	}
	return Collection{Name: name, Dimension: dimension, CreatedAt: now.Truncate(time.Second)}, nil
}

func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	var c Collection
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT c.name, c.dimension, c.created_at,
			(SELECT COUNT(*) FROM vectors v WHERE v.collection = c.name)
		FROM vector_collections c WHERE c.name = ?`, name,
	).Scan(&c.Name, &c.Dimension, &createdAt, &c.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, fmt.Errorf("collection %q: %w", name, errdefs.ErrResourceNotFound)
	}
	if err != nil {
		return Collection{}, fmt.Errorf("reading collection %q: %w", name, err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Collection{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, c.dimension, c.created_at,
			(SELECT COUNT(*) FROM vectors v WHERE v.collection = c.name)
		FROM vector_collections c ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var createdAt string
		if err := rows.Scan(&c.Name, &c.Dimension, &createdAt, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM vector_collections WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting collection %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("collection %q: %w", name, errdefs.ErrResourceNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("deleting vectors of %q: %w", name, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Add(ctx context.Context, collection string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	var dim int
	err = tx.QueryRowContext(ctx, `SELECT dimension FROM vector_collections WHERE name = ?`, collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("collection %q: %w", collection, errdefs.ErrResourceNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading collection %q: %w", collection, err)
	}

	exists, err := tx.PrepareContext(ctx, `SELECT COUNT(*) FROM vectors WHERE collection = ? AND source = ? AND id = ?`)
	if err != nil {
		return fmt.Errorf("preparing id check: %w", err)
	}
	defer exists.Close()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (collection, source, id, document, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	type recordKey struct{ source, id string }
	seen := make(map[recordKey]bool, len(records))
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record with empty id: %w", errdefs.ErrInvalidInput)
		}
		if len(r.Embedding) != dim {
			return fmt.Errorf("record %s has dimension %d, collection %q has %d: %w",
				r.ID, len(r.Embedding), collection, dim, errdefs.ErrInvalidInput)
		}
		var n int
		if err := exists.QueryRowContext(ctx, collection, r.Source, r.ID).Scan(&n); err != nil {
			return fmt.Errorf("checking id %s: %w", r.ID, err)
		}
		key := recordKey{r.Source, r.ID}
		if n > 0 || seen[key] {
			return fmt.Errorf("id %s from %q in collection %q: %w", r.ID, r.Source, collection, errdefs.ErrDuplicateResource)
		}
		seen[key] = true

		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, collection, r.Source, r.ID, r.Document, string(meta),
			encodeFloat32s(r.Embedding), createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the rowid and score during the scan phase of Query.
// Full record details are fetched only for top-K winners.
type idScore struct {
	RowID int64
	Score float32
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d: %w", topK, errdefs.ErrInvalidInput)
	}
	c, err := s.GetCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.Dimension {
		return nil, fmt.Errorf("query has dimension %d, collection %q has %d: %w",
			len(vector), collection, c.Dimension, errdefs.ErrInvalidInput)
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only rowid + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT rowid, embedding FROM vectors WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var rowID int64
		var blob []byte
		if err := rows.Scan(&rowID, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for row %d: %w", rowID, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{RowID: rowID, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{RowID: rowID, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K rows.
	topRows := make([]int64, h.Len())
	scores := make(map[int64]float32, h.Len())
	for i := len(topRows) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topRows[i] = item.RowID
		scores[item.RowID] = item.Score
	}

	records, err := s.getByRowIDs(ctx, topRows)
	if err != nil {
		return nil, err
	}
	results := make([]ScoredRecord, 0, len(records))
	for rowID, r := range records {
		results = append(results, ScoredRecord{Record: r, Score: scores[rowID]})
	}

	// IN query doesn't preserve order.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	c, err := s.GetCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	return c.Count, nil
}

func (s *SQLiteStore) getByRowIDs(ctx context.Context, rowIDs []int64) (map[int64]Record, error) {
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = id
	}
	query := `SELECT rowid, source, id, document, metadata, embedding, created_at
		FROM vectors WHERE rowid IN (?` + strings.Repeat(",?", len(rowIDs)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer rows.Close()

	records := make(map[int64]Record, len(rowIDs))
	for rows.Next() {
		var r Record
		var rowID int64
		var meta string
		var blob []byte
		var createdAt string
		if err := rows.Scan(&rowID, &r.Source, &r.ID, &r.Document, &meta, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
		if r.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for id %s: %w", r.ID, err)
		}
		records[rowID] = r
	}
	return records, rows.Err()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it when
// needed. A length that is not a multiple of 4 means corruption.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
