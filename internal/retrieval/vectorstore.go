package retrieval

import (
	"context"
	"time"
)

// VectorStore holds named collections of embedded documents.
//
// Collections are created explicitly: CreateCollection fails with
// errdefs.ErrDuplicateResource when the name is taken, and Add only writes
// into a collection that already exists.
type VectorStore interface {
	// CreateCollection creates an empty collection of the given dimension.
	CreateCollection(ctx context.Context, name string, dimension int) (Collection, error)

	// GetCollection returns the collection with its current record count.
	GetCollection(ctx context.Context, name string) (Collection, error)

	// ListCollections returns all collections ordered by name.
	ListCollections(ctx context.Context) ([]Collection, error)

	// DeleteCollection removes a collection and all of its records.
	DeleteCollection(ctx context.Context, name string) error

	// Add inserts records in a single transaction. Ids are scoped to their
	// Source: nothing is written if any (Source, ID) pair already exists in
	// the collection.
	Add(ctx context.Context, collection string, records []Record) error

	// Query returns the topK records most similar to vector.
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)
}

// Collection describes a named set of vectors sharing one dimension.
type Collection struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
	Count     int       `json:"count"`
}

// Record is one embedded document. ID is unique within Source.
type Record struct {
	ID        string
	Source    string
	Document  string
	Metadata  map[string]string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
