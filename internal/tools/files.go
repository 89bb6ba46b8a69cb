package tools

import (
	"fmt"
	"os"
	"strings"
)

// FileContext is one attached project file, or the error that prevented
// attaching it.
type FileContext struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DefaultFileByteLimit caps each attached file's contribution to the prompt.
const DefaultFileByteLimit = 64 * 1024

// RequestFiles reads each path for feeding back to the model. Directories and
// missing paths become per-entry errors rather than failing the batch.
func RequestFiles(paths []string, maxBytes int) []FileContext {
	if maxBytes <= 0 {
		maxBytes = DefaultFileByteLimit
	}
	out := make([]FileContext, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			out = append(out, FileContext{Path: path, Error: "file not found"})
		case info.IsDir():
			out = append(out, FileContext{Path: path, Error: "path is a directory, not a file"})
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				out = append(out, FileContext{Path: path, Error: fmt.Sprintf("read failed: %v", err)})
				continue
			}
			content := string(data)
			if len(content) > maxBytes {
				content = content[:maxBytes] + "\n... (truncated)"
			}
			out = append(out, FileContext{Path: path, Content: content})
		}
	}
	return out
}

// FormatFileContexts renders attached files as a prompt block.
func FormatFileContexts(files []FileContext) string {
	var b strings.Builder
	for _, file := range files {
		if file.Error != "" {
			fmt.Fprintf(&b, "=== %s ===\nERROR: %s\n\n", file.Path, file.Error)
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", file.Path, file.Content)
	}
	return b.String()
}
