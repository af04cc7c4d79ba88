package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/tabchat/internal/errdefs"
)

func TestSearch(t *testing.T) {
	var gotAuth string
	var gotReq searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{
			"query": gotReq.Query,
			"results": []map[string]any{
				{"title": "LangGraph", "url": "https://example.com/a", "content": "a node is a function", "score": 0.9},
				{"title": "Graphs", "url": "https://example.com/b", "content": "nodes and edges", "score": 0.8},
				{"title": "Extra", "url": "https://example.com/c", "content": "extra", "score": 0.1},
			},
		})
	}))
	defer srv.Close()

	c := New(Options{APIKey: "tvly-test", BaseURL: srv.URL, MaxResults: 2})
	results, err := c.Search(context.Background(), "What's a node in LangGraph?")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].URL != "https://example.com/a" || results[0].Content != "a node is a function" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if gotAuth != "Bearer tvly-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.MaxResults != 2 {
		t.Errorf("max_results = %d, want 2", gotReq.MaxResults)
	}
}

func TestSearch_RemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":{"error":"Unauthorized: missing or invalid API key."}}`))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "bad", BaseURL: srv.URL})
	_, err := c.Search(context.Background(), "anything")
	if !errors.Is(err, errdefs.ErrExternalCapability) {
		t.Fatalf("err = %v, want ErrExternalCapability", err)
	}
	if !strings.Contains(err.Error(), "invalid API key") {
		t.Errorf("err = %v, want remote detail", err)
	}
}

func TestSearch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Options{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Search(context.Background(), "slow")
	if !errors.Is(err, errdefs.ErrExternalCapability) {
		t.Fatalf("err = %v, want ErrExternalCapability", err)
	}
	if errdefs.Code(err) != "timeout" {
		t.Errorf("Code = %q, want timeout", errdefs.Code(err))
	}
}

func TestSearch_MissingKey(t *testing.T) {
	c := New(Options{})
	if _, err := c.Search(context.Background(), "q"); !errors.Is(err, errdefs.ErrExternalCapability) {
		t.Fatalf("err = %v, want ErrExternalCapability", err)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	c := New(Options{APIKey: "k"})
	if _, err := c.Search(context.Background(), "   "); !errors.Is(err, errdefs.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
