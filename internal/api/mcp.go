package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tabchat/internal/tools"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Registry *tools.Registry
	// Chat is optional; without it the chat tool is not registered.
	Chat    Conversation
	Version string
}

// NewMCPServer creates an MCP server exposing the query tools and, when a
// conversation is configured, the chat tool.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"tabchat",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("tabchat answers questions about uploaded CSV and XLSX tables using SQL, vector search and web search."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool(tools.SQLToolName,
			mcp.WithDescription("Query the ingested tables. Pass a natural-language question in query, or a SQLite SELECT in sql."),
			mcp.WithString("query", mcp.Description("Natural-language question")),
			mcp.WithString("sql", mcp.Description("SQLite SELECT statement to run as-is")),
			mcp.WithString("profile", mcp.Description("Relational profile, e.g. stored or uploads")),
		),
		mcpInvoke(deps, tools.SQLToolName, func(req mcp.CallToolRequest) map[string]any {
			return map[string]any{
				"query":   req.GetString("query", ""),
				"sql":     req.GetString("sql", ""),
				"profile": req.GetString("profile", ""),
			}
		}),
	)

	s.AddTool(
		mcp.NewTool(tools.VectorToolName,
			mcp.WithDescription("Find table rows semantically similar to a query."),
			mcp.WithString("query", mcp.Description("Text to search for"), mcp.Required()),
			mcp.WithString("collection", mcp.Description("Collection to search")),
			mcp.WithNumber("top_k", mcp.Description("Number of rows to return (default 2)")),
		),
		mcpInvoke(deps, tools.VectorToolName, func(req mcp.CallToolRequest) map[string]any {
			return map[string]any{
				"query":      req.GetString("query", ""),
				"collection": req.GetString("collection", ""),
				"top_k":      req.GetInt("top_k", 0),
			}
		}),
	)

	s.AddTool(
		mcp.NewTool(tools.WebToolName,
			mcp.WithDescription("Search the web for information that is not in the tables."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpInvoke(deps, tools.WebToolName, func(req mcp.CallToolRequest) map[string]any {
			return map[string]any{"query": req.GetString("query", "")}
		}),
	)

	if deps.Chat != nil {
		s.AddTool(
			mcp.NewTool("chat",
				mcp.WithDescription("Ask the tabchat assistant a question. Turns on the same thread share history."),
				mcp.WithString("message", mcp.Description("The user message"), mcp.Required()),
				mcp.WithString("thread_id", mcp.Description("Conversation thread id")),
			),
			mcpChat(deps),
		)
	}

	return s
}

// mcpInvoke adapts a registry tool to an MCP handler. args builds the tool
// input from the request arguments.
func mcpInvoke(deps MCPDeps, name string, args func(mcp.CallToolRequest) map[string]any) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := json.Marshal(args(req))
		if err != nil {
			return mcpError(fmt.Sprintf("encoding input: %v", err)), nil
		}
		res := deps.Registry.Invoke(ctx, name, input)
		if !res.OK() {
			return mcpError(fmt.Sprintf("%s failed (%s): %s", name, res.Code, res.Message)), nil
		}
		b, err := json.Marshal(res.Data)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		reply, err := deps.Chat.Respond(ctx, req.GetString("thread_id", ""), message)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(reply.Response), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
