package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"milo/internal/config"
)

// WritePlanArtifact persists one planning pass as a markdown file under the
// plans directory and returns its path.
func WritePlanArtifact(request, plan, reasoning string, runPolicy config.RunPolicy) (string, error) {
	dir := config.PlansDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create plans dir: %w", err)
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	path := filepath.Join(dir, "plan-"+stamp+".md")

	var b strings.Builder
	b.WriteString("# Plan\n\n## Request\n\n")
	b.WriteString(strings.TrimSpace(request))
	b.WriteString("\n\n## Plan\n\n")
	b.WriteString(strings.TrimSpace(plan))
	if reasoning != "" {
		b.WriteString("\n\n## Reasoning Notes\n\n")
		b.WriteString(strings.TrimSpace(reasoning))
	}
	fmt.Fprintf(&b, "\n\n## Execution Policy\n\nrun_policy: %s\n", runPolicy)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write plan artifact: %w", err)
	}
	return path, nil
}
