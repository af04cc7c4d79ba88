package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/sqldb"
)

const writerPrompt = `You are a SQLite expert. Given the database schema below, write exactly one syntactically correct SQLite SELECT statement that answers the user's question.
Quote every table and column name with double quotes exactly as they appear in the schema.
Return only the SQL statement, with no explanation and no markdown.

Schema:
%s`

const answerPrompt = `Given the user's question, the SQL query that was run and its result, answer the question in plain language. If the result is empty, say that no matching rows were found.`

// LLMQueryWriter writes SQL with a chat model.
type LLMQueryWriter struct {
	engine engine.Engine
	model  string
}

// NewLLMQueryWriter creates a QueryWriter backed by the given engine and model.
func NewLLMQueryWriter(e engine.Engine, model string) *LLMQueryWriter {
	return &LLMQueryWriter{engine: e, model: model}
}

func (w *LLMQueryWriter) WriteQuery(ctx context.Context, question, schema string) (string, error) {
	msgs := []engine.Message{
		{Role: engine.RoleSystem, Content: fmt.Sprintf(writerPrompt, schema)},
		{Role: engine.RoleUser, Content: question},
	}
	out, err := w.engine.Chat(ctx, w.model, msgs, nil)
	if err != nil {
		return "", errdefs.External("writing sql", err)
	}
	return strings.TrimSpace(out), nil
}

// LLMAnswerer summarizes query results with a chat model.
type LLMAnswerer struct {
	engine  engine.Engine
	model   string
	maxRows int
}

// NewLLMAnswerer creates an Answerer that shows the model at most maxRows
// result rows.
func NewLLMAnswerer(e engine.Engine, model string, maxRows int) *LLMAnswerer {
	if maxRows <= 0 {
		maxRows = 20
	}
	return &LLMAnswerer{engine: e, model: model, maxRows: maxRows}
}

func (a *LLMAnswerer) Answer(ctx context.Context, question, query string, res *sqldb.Result) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\nSQL query: %s\nSQL result:\n", question, query)
	sb.WriteString(FormatRows(res, a.maxRows))

	msgs := []engine.Message{
		{Role: engine.RoleSystem, Content: answerPrompt},
		{Role: engine.RoleUser, Content: sb.String()},
	}
	out, err := a.engine.Chat(ctx, a.model, msgs, nil)
	if err != nil {
		return "", errdefs.External("answering sql result", err)
	}
	return strings.TrimSpace(out), nil
}

// FormatRows renders a result as a pipe-separated table of at most limit rows.
func FormatRows(res *sqldb.Result, limit int) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(res.Columns, " | "))
	sb.WriteByte('\n')
	for i, row := range res.Rows {
		if limit > 0 && i == limit {
			fmt.Fprintf(&sb, "... (%d more rows)\n", len(res.Rows)-limit)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteByte('\n')
	}
	return sb.String()
}
