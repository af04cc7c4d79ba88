package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/sqldb"
)

const SQLToolName = "sql_query"

// QueryWriter translates a natural-language question into one SQLite
// SELECT statement over the given schema.
type QueryWriter interface {
	WriteQuery(ctx context.Context, question, schema string) (string, error)
}

// Answerer phrases a query result as an answer to the question.
type Answerer interface {
	Answer(ctx context.Context, question, query string, result *sqldb.Result) (string, error)
}

// SQLOptions configures the sql_query tool.
type SQLOptions struct {
	DataDir        string
	DefaultProfile string
	MaxRows        int
	Writer         QueryWriter
	// Answerer is optional. When nil the output carries no answer.
	Answerer Answerer
}

// SQLTool queries a relational profile database.
type SQLTool struct {
	opts SQLOptions
}

// NewSQLTool creates the sql_query tool.
func NewSQLTool(opts SQLOptions) *SQLTool {
	if opts.DefaultProfile == "" {
		opts.DefaultProfile = "stored"
	}
	return &SQLTool{opts: opts}
}

type sqlInput struct {
	Query   string `json:"query"`
	SQL     string `json:"sql"`
	Profile string `json:"profile"`
}

// SQLOutput is the data of a successful sql_query invocation.
type SQLOutput struct {
	Profile   string   `json:"profile"`
	SQL       string   `json:"sql"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
	Answer    string   `json:"answer,omitempty"`
}

func (t *SQLTool) Name() string { return SQLToolName }

func (t *SQLTool) Description() string {
	return "Answer questions about the uploaded or stored tables by running a read-only SQLite query. " +
		"Use for counts, filters, aggregates and exact lookups."
}

func (t *SQLTool) Schema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"query":   {Type: "string", Description: "Natural-language question to translate into SQL"},
			"sql":     {Type: "string", Description: "A SQLite SELECT statement to run as-is"},
			"profile": {Type: "string", Description: "Relational profile to query, e.g. stored or uploads"},
		},
	}
}

func (t *SQLTool) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	var in sqlInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(in.Query)
	stmt := strings.TrimSpace(in.SQL)
	if question == "" && stmt == "" {
		return nil, fmt.Errorf("one of query or sql is required: %w", errdefs.ErrInvalidInput)
	}
	profile := in.Profile
	if profile == "" {
		profile = t.opts.DefaultProfile
	}

	db, err := sqldb.OpenExisting(t.opts.DataDir, profile)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if stmt == "" {
		if stmt, err = t.writeQuery(ctx, db, question); err != nil {
			return nil, err
		}
	}

	res, err := db.Query(ctx, stmt, t.opts.MaxRows)
	if err != nil {
		return nil, err
	}

	out := &SQLOutput{
		Profile:   profile,
		SQL:       stmt,
		Columns:   res.Columns,
		Rows:      res.Rows,
		Truncated: res.Truncated,
	}
	if t.opts.Answerer != nil && question != "" {
		answer, err := t.opts.Answerer.Answer(ctx, question, stmt, res)
		if err != nil {
			return nil, err
		}
		out.Answer = answer
	}
	return out, nil
}

func (t *SQLTool) writeQuery(ctx context.Context, db *sqldb.DB, question string) (string, error) {
	if t.opts.Writer == nil {
		return "", fmt.Errorf("natural-language queries need a query writer: %w", errdefs.ErrInvalidInput)
	}
	schema, err := db.Schema(ctx)
	if err != nil {
		return "", err
	}
	if len(schema) == 0 {
		return "", fmt.Errorf("profile %q has no tables: %w", db.Profile(), errdefs.ErrResourceNotFound)
	}
	stmt, err := t.opts.Writer.WriteQuery(ctx, question, sqldb.DescribeSchema(schema))
	if err != nil {
		return "", err
	}
	return sqldb.StripFences(stmt), nil
}
