package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/crew/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

// ToolName is the capability name agents list to get web search.
const ToolName = "web_search"

// ToolDefinition exposes inv as a tool the language model can call.
func ToolDefinition(inv Invoker, maxResults int) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolName,
		Description: "Search the web and return ranked results with title, snippet and URL.",
		Parameters: []toolexecutor.ToolParameter{
			{
				Name:        "query",
				Type:        "string",
				Description: "Search query",
				Required:    true,
			},
			{
				Name:        "max_results",
				Type:        "integer",
				Description: fmt.Sprintf("Number of results to return (1-%d)", Clamp(maxResults, HardMaxResults)),
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			if query == "" {
				return nil, errors.New("query is required")
			}

			count := maxResults
			switch n := params["max_results"].(type) {
			case float64:
				count = int(n)
			case int:
				count = n
			}

			if execCtx := toolexecutor.ExecContextFromContext(ctx); execCtx != nil {
				log.Debug().
					Str("run_id", execCtx.RunID).
					Str("task", execCtx.TaskID).
					Str("agent", execCtx.AgentName).
					Str("query", query).
					Msg("Web search")
			}

			results, err := inv.Invoke(ctx, query, Clamp(count, maxResults))
			if err != nil {
				return nil, err
			}
			return FormatResults(query, results), nil
		},
	}
}

// Register adds the web_search tool backed by inv to executor.
func Register(executor *toolexecutor.ToolExecutor, inv Invoker, maxResults int) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if inv == nil {
		return errors.New("search invoker is required")
	}
	return executor.RegisterTool(ToolDefinition(inv, maxResults))
}
