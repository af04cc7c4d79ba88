package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kalambet/tabchat/internal/errdefs"
)

func TestRetrieve(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))
	if _, err := s.CreateCollection(ctx, "tabular", 2); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	err := s.Add(ctx, "tabular", []Record{
		{ID: "id0", Document: "name: Alice,\n", Metadata: map[string]string{"source": "people"}, Embedding: []float32{1, 0}},
		{ID: "id1", Document: "name: Bob,\n", Metadata: map[string]string{"source": "people"}, Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return []float32{0.9, 0.1}, nil
		},
	}
	r := NewRetriever(NewEmbedder(mock, "nomic-embed-text", 1), s)

	matches, err := r.Retrieve(ctx, "tabular", "who is alice", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "id0" {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].Metadata["source"] != "people" {
		t.Errorf("metadata = %v", matches[0].Metadata)
	}
}

func TestRetrieve_MissingCollectionSkipsEmbedding(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("embedder called for a missing collection")
			return nil, nil
		},
	}
	r := NewRetriever(NewEmbedder(mock, "m", 1), NewSQLiteStore(openTestDB(t)))

	_, err := r.Retrieve(context.Background(), "nope", "anything", 2)
	if !errors.Is(err, errdefs.ErrResourceNotFound) {
		t.Fatalf("err = %v, want ErrResourceNotFound", err)
	}
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))
	if _, err := s.CreateCollection(ctx, "tabular", 2); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}
	r := NewRetriever(NewEmbedder(mock, "m", 1), s)

	_, err := r.Retrieve(ctx, "tabular", "q", 2)
	if !errors.Is(err, errdefs.ErrExternalCapability) {
		t.Fatalf("err = %v, want ErrExternalCapability", err)
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	r := NewRetriever(NewEmbedder(&mockEngine{}, "m", 1), NewSQLiteStore(openTestDB(t)))
	if _, err := r.Retrieve(context.Background(), "tabular", "  ", 2); !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
