package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/tabchat/internal/config"
	"github.com/kalambet/tabchat/internal/memory"
	"github.com/kalambet/tabchat/internal/sqldb"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"resource_not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

// isolateConfig points config loading at an empty file and a fresh data dir.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TABCHAT_CONFIG", filepath.Join(dir, "config.json"))
	t.Setenv("TABCHAT_STORAGE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("TABCHAT_MEMORY_DIR", "")
	t.Setenv("TABCHAT_API_TOKEN", "")
	return filepath.Join(dir, "data")
}

func TestRemoteChat(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chat": `{"thread_id":"sales","response":"42 rows","history":[]}`,
	})

	var out bytes.Buffer
	if err := remoteChat(ctx, ts.client(), &out, "sales", "how many rows?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "42 rows\n" {
		t.Errorf("output = %q, want %q", out.String(), "42 rows\n")
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/chat" {
		t.Errorf("request = %s %s, want POST /chat", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["message"] != "how many rows?" || body["thread_id"] != "sales" {
		t.Errorf("body = %v", body)
	}
}

func TestRemoteChat_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	err := remoteChat(ctx, ts.client(), io.Discard, "", "hi")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want a 404 error", err)
	}
}

func TestUpload(t *testing.T) {
	var gotName, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, h, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(400)
			return
		}
		data, _ := io.ReadAll(f)
		gotName, gotContent = h.Filename, string(data)
		w.Write([]byte(`{"status":"queued","id":"job-1","file":"people.csv"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(path, []byte("name,age\nAlice,30\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}
	resp, err := client.upload(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["id"] != "job-1" {
		t.Errorf("id = %q, want job-1", result["id"])
	}
	if gotName != "people.csv" || gotContent != "name,age\nAlice,30\n" {
		t.Errorf("server received %q with %q", gotName, gotContent)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	if _, err := ts.client().upload(ctx, filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no request, got %d", len(ts.requests))
	}
}

func TestWaitForJob(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 2 {
			w.Write([]byte(`{"id":"job-1","status":"running"}`))
			return
		}
		w.Write([]byte(`{"id":"job-1","status":"failed","last_error":"table exists"}`))
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}
	status, lastErr, err := waitForJob(ctx, client, "job-1", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "failed" || lastErr != "table exists" {
		t.Errorf("status = %q, lastErr = %q", status, lastErr)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/tables")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPrintTurns(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var out bytes.Buffer
	printTurns(&out, nil)
	if out.String() != "No turns found.\n" {
		t.Errorf("empty output = %q", out.String())
	}

	out.Reset()
	printTurns(&out, []memory.Turn{{UserMessage: "hi", AgentResponse: "hello"}})
	if out.String() != "you: hi\ntabchat: hello\n\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestChatCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"chat"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestIngestSQLCommand(t *testing.T) {
	dataDir := isolateConfig(t)
	src := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(src, []byte("name,age\nAlice,30\nBob,25\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest", "sql", src, "--profile", "cli", "--mode", "fail"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("ingest sql: %v", err)
	}

	db, err := sqldb.OpenExisting(dataDir, "cli")
	if err != nil {
		t.Fatalf("OpenExisting: %v", err)
	}
	defer db.Close()
	res, err := db.Query(ctx, "SELECT name FROM people ORDER BY age", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(res.Rows))
	}

	// A second run in fail mode keeps the table and reports the conflict.
	rootCmd.SetArgs([]string{"ingest", "sql", src, "--profile", "cli", "--mode", "fail"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error re-ingesting an existing table in fail mode")
	}
}

func TestIngestSQLCommand_BadMode(t *testing.T) {
	isolateConfig(t)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest", "sql", t.TempDir(), "--profile", "cli", "--mode", "append"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestConfigSetCommand(t *testing.T) {
	isolateConfig(t)
	t.Setenv("TABCHAT_VECTOR_COLLECTION", "")
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"config", "set", "vector.collection", "sales"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vector.Collection != "sales" {
		t.Errorf("Vector.Collection = %q, want sales", cfg.Vector.Collection)
	}

	rootCmd.SetArgs([]string{"config", "set", "api.token", "x"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error setting a secret")
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Vector.Collection = "tabular"

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "vector.collection" && k.Value == "tabular" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find vector.collection=tabular in ShowAll output")
	}
}

func TestStatusLines(t *testing.T) {
	oldOut, oldColor := statusOut, noColor
	defer func() { statusOut, noColor = oldOut, oldColor }()

	var buf bytes.Buffer
	statusOut, noColor = &buf, true

	printSuccess("Created table %s", "people")
	printWarning("Skipped %s", "notes.txt")
	printStatus("Profile", "%s", "stored")

	want := "✓ Created table people\n⚠ Skipped notes.txt\n  Profile: stored\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}
