package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/tabchat/internal/agent"
	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/memory"
	"github.com/kalambet/tabchat/internal/tools"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func newMCPDeps(t *testing.T, vector *stubTool) MCPDeps {
	t.Helper()
	reg := tools.NewRegistry(0)
	reg.Register(vector)
	mem, err := memory.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := &countingEngine{reply: "answer"}
	return MCPDeps{
		Registry: reg,
		Chat:     agent.New(agent.FixedPlanner{Tool: vector.name}, agent.NewLLMSynthesizer(e, "m", "", 0), reg, mem, ""),
	}
}

func TestMCPTool_VectorSearch(t *testing.T) {
	vector := &stubTool{name: tools.VectorToolName, data: []map[string]any{{"id": "id0", "score": 0.9}}}
	deps := newMCPDeps(t, vector)
	handler := mcpInvoke(deps, tools.VectorToolName, func(req mcp.CallToolRequest) map[string]any {
		return map[string]any{"query": req.GetString("query", ""), "top_k": req.GetInt("top_k", 0)}
	})

	result, err := handler(context.Background(), makeCallToolRequest(tools.VectorToolName, map[string]any{"query": "Alice", "top_k": float64(3)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), `"id":"id0"`) {
		t.Errorf("text = %s", toolText(t, result))
	}
	var in map[string]any
	json.Unmarshal(vector.last, &in)
	if in["query"] != "Alice" || in["top_k"] != float64(3) {
		t.Errorf("tool input = %s", vector.last)
	}
}

func TestMCPTool_Error(t *testing.T) {
	vector := &stubTool{name: tools.VectorToolName, err: errors.Join(errdefs.ErrResourceNotFound, errors.New("collection tabular"))}
	deps := newMCPDeps(t, vector)
	handler := mcpInvoke(deps, tools.VectorToolName, func(req mcp.CallToolRequest) map[string]any {
		return map[string]any{"query": req.GetString("query", "")}
	})
	result, _ := handler(context.Background(), makeCallToolRequest(tools.VectorToolName, map[string]any{"query": "x"}))
	if !result.IsError {
		t.Fatal("expected IsError")
	}
	if !strings.Contains(toolText(t, result), "resource_not_found") {
		t.Errorf("text = %s", toolText(t, result))
	}
}

func TestMCPTool_Chat(t *testing.T) {
	deps := newMCPDeps(t, &stubTool{name: tools.VectorToolName})
	handler := mcpChat(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("chat", map[string]any{"message": "hi", "thread_id": "mcp"}))
	if result.IsError || toolText(t, result) != "answer" {
		t.Errorf("result = %+v", result)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("chat", map[string]any{}))
	if !result.IsError {
		t.Error("missing message should be an error")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("chat", map[string]any{"message": "  "}))
	if !result.IsError || toolText(t, result) != "Message cannot be empty." {
		t.Errorf("empty message result = %+v", result)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps := newMCPDeps(t, &stubTool{name: tools.VectorToolName})
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
