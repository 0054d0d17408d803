// Package search provides the web-search capability agents call during a task.
package search

import (
	"context"
	"fmt"
	"strings"
)

const (
	// DefaultMaxResults is used when the caller asks for zero results.
	DefaultMaxResults = 5
	// HardMaxResults is the ceiling no configuration can raise.
	HardMaxResults = 20
)

// Result is one ranked hit returned by a search provider.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Invoker runs a single search. Implementations issue exactly one outbound
// call per Invoke and never retry internally.
type Invoker interface {
	Invoke(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Clamp bounds n to [1, limit], with limit itself bounded by HardMaxResults.
func Clamp(n, limit int) int {
	if limit <= 0 || limit > HardMaxResults {
		limit = HardMaxResults
	}
	if n <= 0 {
		n = DefaultMaxResults
	}
	if n > limit {
		n = limit
	}
	return n
}

// FormatResults renders results as the plain text handed back to the model.
func FormatResults(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results for: %s", query)
	}

	lines := []string{fmt.Sprintf("Results for: %s", query)}
	for i, item := range results {
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, item.Title, item.URL))
		if item.Snippet != "" {
			lines = append(lines, fmt.Sprintf("   %s", item.Snippet))
		}
	}
	return strings.Join(lines, "\n")
}
