package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/retrieval"
	"github.com/kalambet/tabchat/internal/search"
	"github.com/kalambet/tabchat/internal/sqldb"
	"github.com/kalambet/tabchat/internal/tabular"
)

// chatEngine answers every Chat call with reply and records the messages.
type chatEngine struct {
	reply    string
	err      error
	messages [][]engine.Message
}

func (e *chatEngine) Chat(_ context.Context, _ string, msgs []engine.Message, _ *engine.Schema) (string, error) {
	e.messages = append(e.messages, msgs)
	return e.reply, e.err
}
func (e *chatEngine) Embed(context.Context, string, string) ([]float32, error) { return nil, nil }
func (e *chatEngine) IsRunning(context.Context) bool                          { return true }
func (e *chatEngine) ListModels(context.Context) ([]string, error)            { return nil, nil }
func (e *chatEngine) HasModel(context.Context, string) bool                   { return true }
func (e *chatEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

type fixedWriter struct {
	sql    string
	schema string
}

func (w *fixedWriter) WriteQuery(_ context.Context, _ string, schema string) (string, error) {
	w.schema = schema
	return w.sql, nil
}

func seedProfile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db, err := sqldb.Open(dir, "stored")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	tbl := &tabular.Table{
		Name:    "people",
		Columns: []string{"name", "age"},
		Kinds:   []tabular.Kind{tabular.KindText, tabular.KindInteger},
		Rows:    [][]any{{"Alice", int64(30)}, {"Bob", int64(25)}, {"Carol", int64(41)}},
	}
	if err := db.Materialize(context.Background(), tbl, sqldb.ModeFail); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	return dir
}

func TestSQLTool_DirectSQL(t *testing.T) {
	dir := seedProfile(t)
	tool := NewSQLTool(SQLOptions{DataDir: dir})

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"sql":"SELECT name FROM people WHERE age > 28 ORDER BY name"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	res := out.(*SQLOutput)
	if res.Profile != "stored" {
		t.Errorf("Profile = %q", res.Profile)
	}
	if len(res.Rows) != 2 || res.Rows[0][0] != "Alice" || res.Rows[1][0] != "Carol" {
		t.Errorf("Rows = %v", res.Rows)
	}
	if res.Answer != "" {
		t.Errorf("Answer = %q, want empty without an answerer", res.Answer)
	}
}

func TestSQLTool_NaturalLanguage(t *testing.T) {
	dir := seedProfile(t)
	writer := &fixedWriter{sql: "```sql\nSELECT COUNT(*) AS n FROM \"people\";\n```"}
	answerer := &chatEngine{reply: " There are 3 people. "}
	tool := NewSQLTool(SQLOptions{
		DataDir:  dir,
		Writer:   writer,
		Answerer: NewLLMAnswerer(answerer, "llama3.2", 0),
	})

	out, err := tool.Invoke(context.Background(), QueryInput("how many people are there?"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	res := out.(*SQLOutput)
	if !strings.Contains(writer.schema, `TABLE "people"`) {
		t.Errorf("writer schema = %q", writer.schema)
	}
	if strings.Contains(res.SQL, "```") {
		t.Errorf("SQL not stripped: %q", res.SQL)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != int64(3) {
		t.Errorf("Rows = %v", res.Rows)
	}
	if res.Answer != "There are 3 people." {
		t.Errorf("Answer = %q", res.Answer)
	}
	prompt := answerer.messages[0][1].Content
	if !strings.Contains(prompt, "how many people are there?") || !strings.Contains(prompt, "n\n3\n") {
		t.Errorf("answer prompt = %q", prompt)
	}
}

func TestSQLTool_Errors(t *testing.T) {
	dir := seedProfile(t)
	tool := NewSQLTool(SQLOptions{DataDir: dir})
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"missing profile", `{"sql":"SELECT 1","profile":"uploads"}`, errdefs.ErrResourceNotFound},
		{"no query", `{}`, errdefs.ErrInvalidInput},
		{"write statement", `{"sql":"DELETE FROM people"}`, errdefs.ErrInvalidInput},
		{"no writer", `{"query":"how many?"}`, errdefs.ErrInvalidInput},
		{"bad profile", `{"sql":"SELECT 1","profile":"../x"}`, errdefs.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Invoke(context.Background(), json.RawMessage(tt.input))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLLMQueryWriter(t *testing.T) {
	e := &chatEngine{reply: "SELECT 1\n"}
	w := NewLLMQueryWriter(e, "llama3.2")
	got, err := w.WriteQuery(context.Background(), "q", `TABLE "t" ("a" TEXT)`)
	if err != nil {
		t.Fatal(err)
	}
	if got != "SELECT 1" {
		t.Errorf("WriteQuery = %q", got)
	}
	if !strings.Contains(e.messages[0][0].Content, `TABLE "t"`) {
		t.Error("system prompt missing schema")
	}

	e.err = errors.New("connection refused")
	if _, err := w.WriteQuery(context.Background(), "q", ""); !errors.Is(err, errdefs.ErrExternalCapability) {
		t.Errorf("err = %v, want ErrExternalCapability", err)
	}
}

func TestFormatRows(t *testing.T) {
	res := &sqldb.Result{Columns: []string{"a", "b"}, Rows: [][]any{{int64(1), nil}, {int64(2), "x"}, {int64(3), "y"}}}
	got := FormatRows(res, 2)
	want := "a | b\n1 | NULL\n2 | x\n... (1 more rows)\n"
	if got != want {
		t.Errorf("FormatRows = %q, want %q", got, want)
	}
}

type stubRetriever struct {
	collection string
	query      string
	topK       int
	err        error
}

func (s *stubRetriever) Retrieve(_ context.Context, collection, query string, topK int) ([]retrieval.Match, error) {
	s.collection, s.query, s.topK = collection, query, topK
	if s.err != nil {
		return nil, s.err
	}
	return []retrieval.Match{{ID: "id0", Document: "name: Alice,\nage: 30,\n", Score: 0.9}}, nil
}

func TestVectorTool_Defaults(t *testing.T) {
	r := &stubRetriever{}
	tool := NewVectorTool(r, "tabular", 0)
	out, err := tool.Invoke(context.Background(), QueryInput("Alice"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if r.collection != "tabular" || r.topK != 2 || r.query != "Alice" {
		t.Errorf("retrieve called with %q %q %d", r.collection, r.query, r.topK)
	}
	if m := out.([]retrieval.Match); len(m) != 1 || m[0].ID != "id0" {
		t.Errorf("matches = %v", m)
	}
}

func TestVectorTool_Overrides(t *testing.T) {
	r := &stubRetriever{}
	tool := NewVectorTool(r, "tabular", 2)
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"q","collection":"other","top_k":5}`)); err != nil {
		t.Fatal(err)
	}
	if r.collection != "other" || r.topK != 5 {
		t.Errorf("retrieve called with %q %d", r.collection, r.topK)
	}
}

func TestVectorTool_MissingCollection(t *testing.T) {
	reg := NewRegistry(0)
	reg.Register(NewVectorTool(&stubRetriever{err: errdefs.ErrResourceNotFound}, "tabular", 2))
	res := reg.Invoke(context.Background(), VectorToolName, QueryInput("q"))
	if res.Code != "resource_not_found" {
		t.Errorf("Code = %q, want resource_not_found", res.Code)
	}
}

type stubSearcher struct {
	results []search.Result
	err     error
}

func (s *stubSearcher) Search(context.Context, string) ([]search.Result, error) {
	return s.results, s.err
}

func TestWebTool_RemoteFailure(t *testing.T) {
	reg := NewRegistry(0)
	reg.Register(NewWebTool(&stubSearcher{err: errdefs.External("web search", errors.New("status 432: usage limit exceeded"))}))

	res := reg.Invoke(context.Background(), WebToolName, QueryInput("latest news"))
	if res.Status != StatusError {
		t.Fatalf("Status = %q, want error", res.Status)
	}
	if !strings.Contains(res.Message, "usage limit exceeded") {
		t.Errorf("Message = %q", res.Message)
	}
	b, _ := json.Marshal(res)
	var m map[string]any
	json.Unmarshal(b, &m)
	if _, ok := m["data"]; ok {
		t.Errorf("error result carries data: %s", b)
	}
}

func TestWebTool_Success(t *testing.T) {
	reg := NewRegistry(0)
	reg.Register(NewWebTool(&stubSearcher{results: []search.Result{{URL: "https://example.com", Content: "c"}}}))
	res := reg.Invoke(context.Background(), WebToolName, QueryInput("q"))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if r := res.Data.([]search.Result); len(r) != 1 || r[0].URL != "https://example.com" {
		t.Errorf("Data = %v", res.Data)
	}
}
