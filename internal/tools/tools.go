// Package tools implements the adapters the orchestrator executes on behalf
// of the model: project file reads, project search, web search and browse,
// project intelligence operations, and the background terminal registry.
// Every adapter returns text suitable for feeding back to the LLM.
package tools

import "strings"

// truncate cuts text at a rune limit, marking the cut.
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "\n... (truncated)"
}

// firstLine returns the first non-empty line of text.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
