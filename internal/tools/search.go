package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	searchResultCap   = 50
	searchMaxFileSize = 2 * 1024 * 1024
	binarySniffBytes  = 1024
)

var ignoredDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, "vendor": {}, "dist": {}, "build": {},
	"target": {}, ".venv": {}, "venv": {}, "__pycache__": {}, ".idea": {},
	".vscode": {}, ".cache": {},
}

// SearchMatch is one project search hit.
type SearchMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// SearchProject greps root for pattern, preferring ripgrep when installed and
// falling back to an in-process recursive scan. Matching is case-insensitive;
// pattern is tried as a regex first and degraded to a literal on compile
// failure. Results are capped at 50 with a truncation marker.
func SearchProject(ctx context.Context, root, pattern string) (string, error) {
	if strings.TrimSpace(pattern) == "" {
		return "", fmt.Errorf("empty search pattern")
	}
	if rgPath, err := exec.LookPath("rg"); err == nil {
		if out, err := searchWithRipgrep(ctx, rgPath, root, pattern); err == nil {
			return out, nil
		}
		// Fall through to the in-process scan on ripgrep failure.
	}
	matches, err := searchInProcess(root, pattern)
	if err != nil {
		return "", err
	}
	return formatMatches(matches), nil
}

func searchWithRipgrep(ctx context.Context, rgPath, root, pattern string) (string, error) {
	cmd := exec.CommandContext(ctx, rgPath, "--line-number", "--no-heading",
		"--ignore-case", "--max-count", fmt.Sprint(searchResultCap), pattern, root)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return "No matches found.", nil
		}
		return "", fmt.Errorf("ripgrep failed: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) > searchResultCap {
		lines = append(lines[:searchResultCap], "... (results truncated)")
	}
	return strings.Join(lines, "\n"), nil
}

func searchInProcess(root, pattern string) ([]SearchMatch, error) {
	matcher := buildMatcher(pattern)
	var matches []SearchMatch
	capped := false

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := ignoredDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if capped {
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil || info.Size() > searchMaxFileSize {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer func() { _ = file.Close() }()

		sniff := make([]byte, binarySniffBytes)
		n, _ := file.Read(sniff)
		if bytes.IndexByte(sniff[:n], 0) >= 0 {
			return nil
		}
		if _, err := file.Seek(0, 0); err != nil {
			return nil
		}

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), searchMaxFileSize)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if matcher(line) {
				matches = append(matches, SearchMatch{File: path, Line: lineNo, Text: strings.TrimSpace(line)})
				if len(matches) >= searchResultCap {
					capped = true
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func buildMatcher(pattern string) func(string) bool {
	if re, err := regexp.Compile("(?i)" + pattern); err == nil {
		return re.MatchString
	}
	lowered := strings.ToLower(pattern)
	return func(line string) bool {
		return strings.Contains(strings.ToLower(line), lowered)
	}
}

func formatMatches(matches []SearchMatch) string {
	if len(matches) == 0 {
		return "No matches found."
	}
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s:%d: %s\n", m.File, m.Line, m.Text)
	}
	if len(matches) >= searchResultCap {
		b.WriteString("... (results truncated)\n")
	}
	return b.String()
}
