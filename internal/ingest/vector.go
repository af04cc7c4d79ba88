package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/retrieval"
	"github.com/kalambet/tabchat/internal/tabular"
)

// BatchEmbedder embeds many texts at once, index aligned.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Batch holds the parallel arrays written to a collection. All four slices
// have the same length and IDs[i] == "id"+i.
type Batch struct {
	Source     string
	Documents  []string
	Metadatas  []map[string]string
	IDs        []string
	Embeddings [][]float32
}

// Len returns the number of entries.
func (b *Batch) Len() int { return len(b.IDs) }

func (b *Batch) check() error {
	n := len(b.IDs)
	if len(b.Documents) != n || len(b.Metadatas) != n || len(b.Embeddings) != n {
		return fmt.Errorf("batch arrays differ in length: %d documents, %d metadatas, %d ids, %d embeddings: %w",
			len(b.Documents), len(b.Metadatas), n, len(b.Embeddings), errdefs.ErrInvalidInput)
	}
	return nil
}

func (b *Batch) records() []retrieval.Record {
	now := time.Now().UTC()
	recs := make([]retrieval.Record, b.Len())
	for i := range recs {
		recs[i] = retrieval.Record{
			ID:        b.IDs[i],
			Source:    b.Source,
			Document:  b.Documents[i],
			Metadata:  b.Metadatas[i],
			Embedding: b.Embeddings[i],
			CreatedAt: now,
		}
	}
	return recs
}

// Document renders row i as "column: value,\n" lines in column order.
func Document(t *tabular.Table, i int) string {
	var b strings.Builder
	for j, c := range t.Columns {
		b.WriteString(c)
		b.WriteString(": ")
		b.WriteString(tabular.FormatValue(t.Rows[i][j]))
		b.WriteString(",\n")
	}
	return b.String()
}

// VectorReport describes a vector ingestion run.
type VectorReport struct {
	Collection string `json:"collection"`
	Source     string `json:"source"`
	Inserted   int    `json:"inserted"`
	Count      int    `json:"count"`
}

// VectorPipeline embeds table rows and stores them in a collection.
type VectorPipeline struct {
	embedder BatchEmbedder
	store    retrieval.VectorStore
	logger   *slog.Logger
}

// NewVectorPipeline creates a pipeline over the given embedder and store.
func NewVectorPipeline(embedder BatchEmbedder, store retrieval.VectorStore) *VectorPipeline {
	return &VectorPipeline{
		embedder: embedder,
		store:    store,
		logger:   slog.Default().With("component", "vector-ingest"),
	}
}

// Load reads a single file.
func (p *VectorPipeline) Load(path string) (*tabular.Table, error) {
	return tabular.Load(path)
}

// Prepare builds one document per row and embeds them all. A table without
// rows cannot be embedded and is rejected.
func (p *VectorPipeline) Prepare(ctx context.Context, t *tabular.Table) (*Batch, error) {
	n := t.Len()
	if n == 0 {
		return nil, fmt.Errorf("%s has no rows to embed: %w", t.Name, errdefs.ErrInvalidInput)
	}
	b := &Batch{
		Source:    t.Name,
		Documents: make([]string, n),
		Metadatas: make([]map[string]string, n),
		IDs:       make([]string, n),
	}
	for i := 0; i < n; i++ {
		b.Documents[i] = Document(t, i)
		b.Metadatas[i] = map[string]string{"source": t.Name}
		b.IDs[i] = "id" + strconv.Itoa(i)
	}

	vecs, err := p.embedder.EmbedBatch(ctx, b.Documents)
	if err != nil {
		return nil, err
	}
	b.Embeddings = vecs
	if err := b.check(); err != nil {
		return nil, errdefs.External("embedding batch", err)
	}
	return b, nil
}

// Inject creates collection and writes the batch into it. An existing
// collection yields errdefs.ErrDuplicateResource and is left unchanged.
func (p *VectorPipeline) Inject(ctx context.Context, b *Batch, collection string) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return fmt.Errorf("empty batch: %w", errdefs.ErrInvalidInput)
	}
	if _, err := p.store.CreateCollection(ctx, collection, len(b.Embeddings[0])); err != nil {
		return err
	}
	if err := p.store.Add(ctx, collection, b.records()); err != nil {
		if delErr := p.store.DeleteCollection(context.WithoutCancel(ctx), collection); delErr != nil {
			p.logger.Error("removing collection after failed insert", "collection", collection, "error", delErr)
		}
		return err
	}
	return nil
}

// Append writes the batch into an existing collection. Ids are scoped to the
// batch source, so batches from different files coexist; re-appending the
// same source fails the whole batch with errdefs.ErrDuplicateResource.
func (p *VectorPipeline) Append(ctx context.Context, b *Batch, collection string) error {
	if err := b.check(); err != nil {
		return err
	}
	return p.store.Add(ctx, collection, b.records())
}

// Validate returns the number of vectors stored in collection.
func (p *VectorPipeline) Validate(ctx context.Context, collection string) (int, error) {
	return p.store.Count(ctx, collection)
}

// Run loads path, prepares it and stores it in collection. With appendMode
// an existing collection is extended instead of rejected.
func (p *VectorPipeline) Run(ctx context.Context, path, collection string, appendMode bool) (*VectorReport, error) {
	t, err := p.Load(path)
	if err != nil {
		return nil, err
	}
	b, err := p.Prepare(ctx, t)
	if err != nil {
		return nil, err
	}

	if appendMode {
		err = p.Append(ctx, b, collection)
		if errors.Is(err, errdefs.ErrResourceNotFound) {
			err = p.Inject(ctx, b, collection)
		}
	} else {
		err = p.Inject(ctx, b, collection)
	}
	if err != nil {
		return nil, err
	}

	count, err := p.Validate(ctx, collection)
	if err != nil {
		return nil, err
	}
	p.logger.Info("vectors stored", "collection", collection, "source", t.Name, "inserted", b.Len(), "count", count)
	return &VectorReport{Collection: collection, Source: t.Name, Inserted: b.Len(), Count: count}, nil
}
