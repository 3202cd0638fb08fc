package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/lumabot/lumabot/provider"
)

// NewMemorySearchTool exposes long-term memory retrieval as a regular tool.
// Registering it gives the model agentic-RAG: it decides when to query the
// knowledge base. The classic-RAG pipeline stage queries the same store
// unconditionally, so both modes share one mechanism.
func NewMemorySearchTool() *FunctionTool {
	return MustFunctionTool(
		"memory_search",
		"Search the long-term conversation memory for facts relevant to a query. Use when the answer may depend on earlier conversations.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of snippets to return",
				},
			},
			"required": []any{"query"},
		},
		func(_ context.Context, tctx *Context, args map[string]any) (any, error) {
			if tctx.Memory == nil {
				return nil, fmt.Errorf("memory store not configured")
			}
			query, _ := args["query"].(string)
			limit := 5
			if l, ok := args["limit"].(float64); ok && l > 0 {
				limit = int(l)
			}
			hits, err := tctx.Memory.Search(tctx.SessionKey, query, limit)
			if err != nil {
				return nil, err
			}
			if len(hits) == 0 {
				return "no relevant memories found", nil
			}
			var sb strings.Builder
			for i, h := range hits {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, h.Content)
			}
			return sb.String(), nil
		},
	)
}

// NewWebSearchTool exposes the bound web search capability as a tool. The
// backend is resolved per call so provider hot-swaps apply immediately.
func NewWebSearchTool(registry *provider.Registry) *FunctionTool {
	return MustFunctionTool(
		"web_search",
		"Search the web for current information. Use for questions about recent events or facts outside the conversation.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query",
				},
			},
			"required": []any{"query"},
		},
		func(ctx context.Context, tctx *Context, args map[string]any) (any, error) {
			searcher, _, err := registry.WebSearcher()
			if err != nil {
				return nil, err
			}
			query, _ := args["query"].(string)
			hits, err := searcher.Search(ctx, query, 5)
			if err != nil {
				return nil, err
			}
			if len(hits) == 0 {
				return "no results", nil
			}
			var sb strings.Builder
			for i, h := range hits {
				fmt.Fprintf(&sb, "%d. %s (%s)\n%s\n", i+1, h.Title, h.URL, h.Snippet)
			}
			return sb.String(), nil
		},
	)
}
