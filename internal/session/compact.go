package session

import (
	"fmt"
	"strings"
)

// CompactedMarker prefixes the synthetic summary entry produced by Compact.
const CompactedMarker = "### SESSION COMPACTED"

const summaryLineLimit = 180

// ShouldCompact reports whether the transcript's estimated tokens meet
// thresholdPct of the provider context window.
func ShouldCompact(file *File, contextWindow, thresholdPct int) bool {
	if contextWindow <= 0 || thresholdPct <= 0 {
		return false
	}
	return file.EstimatedTokens()*100 >= contextWindow*thresholdPct
}

// Compact replaces everything but the last keepRecent entries with a single
// synthetic assistant summary enumerating up to maxSummaryEntries of the
// replaced turns. Recent entries are preserved bit-exact. Compacting a
// freshly-compacted session is a no-op.
func Compact(file *File, keepRecent, maxSummaryEntries int) {
	if keepRecent <= 0 || len(file.Session) <= keepRecent {
		return
	}
	replaced := file.Session[:len(file.Session)-keepRecent]
	// Idempotence: the only entry left to replace is a previous summary.
	if len(replaced) == 1 && strings.HasPrefix(replaced[0].Content, CompactedMarker) {
		return
	}
	recent := file.Session[len(file.Session)-keepRecent:]

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%d earlier turns were summarized to free context.\n", CompactedMarker, len(replaced))
	limit := maxSummaryEntries
	if limit <= 0 || limit > len(replaced) {
		limit = len(replaced)
	}
	for i := 0; i < limit; i++ {
		entry := replaced[i]
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, entry.Role, truncateSummary(entry.Content))
	}
	if limit < len(replaced) {
		fmt.Fprintf(&b, "... and %d more turns omitted.\n", len(replaced)-limit)
	}

	summary := Entry{
		Role:      RoleAssistant,
		Content:   b.String(),
		Timestamp: replaced[len(replaced)-1].Timestamp,
	}
	compacted := make([]Entry, 0, keepRecent+1)
	compacted = append(compacted, summary)
	compacted = append(compacted, recent...)
	file.Session = compacted
}

func truncateSummary(content string) string {
	flattened := strings.Join(strings.Fields(content), " ")
	runes := []rune(flattened)
	if len(runes) <= summaryLineLimit {
		return flattened
	}
	return string(runes[:summaryLineLimit]) + "..."
}
