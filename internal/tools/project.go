package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
)

const (
	mapMaxEntries    = 400
	symbolResultCap  = 30
	indexSummaryCap  = 25
	lintOutputLimit  = 12000
	projectByteLimit = 2 * 1024 * 1024
)

// DetailedMap renders a directory tree of the project, skipping ignored
// directories, capped at mapMaxEntries entries.
func DetailedMap(root string) (string, error) {
	var b strings.Builder
	count := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := ignoredDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if count >= mapMaxEntries {
			return filepath.SkipAll
		}
		count++
		depth := strings.Count(rel, string(filepath.Separator))
		indent := strings.Repeat("  ", depth)
		name := d.Name()
		if d.IsDir() {
			fmt.Fprintf(&b, "%s%s/\n", indent, name)
		} else {
			fmt.Fprintf(&b, "%s%s\n", indent, name)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if count >= mapMaxEntries {
		b.WriteString("... (map truncated)\n")
	}
	return b.String(), nil
}

// ProjectListing renders a flat list of project-relative file paths, skipping
// ignored directories, capped at mapMaxEntries entries.
func ProjectListing(root string) (string, error) {
	var b strings.Builder
	count := 0
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
		if count >= mapMaxEntries {
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		count++
		b.WriteString(rel + "\n")
		return nil
	})
	if err != nil {
		return "", err
	}
	if count >= mapMaxEntries {
		b.WriteString("... (listing truncated)\n")
	}
	return b.String(), nil
}

// symbolDefPatterns match definition sites across common languages.
var symbolDefPatterns = []string{
	`(?m)^\s*(?:func|type|var|const)\s+%s\b`,            // Go
	`(?m)^\s*(?:def|class)\s+%s\b`,                      // Python / Ruby
	`(?m)^\s*(?:function|class|const|let|var)\s+%s\b`,   // JS / TS
	`(?m)^\s*(?:pub\s+)?(?:fn|struct|enum|trait)\s+%s\b`, // Rust
}

// FindSymbol locates likely definition sites of a symbol. When isRegex is
// set the symbol is used as a raw pattern instead of the definition
// heuristics.
func FindSymbol(ctx context.Context, root, symbol string, isRegex bool) (string, error) {
	if strings.TrimSpace(symbol) == "" {
		return "", fmt.Errorf("empty symbol")
	}
	var patterns []*regexp.Regexp
	if isRegex {
		re, err := regexp.Compile(symbol)
		if err != nil {
			return "", fmt.Errorf("invalid symbol regex: %w", err)
		}
		patterns = append(patterns, re)
	} else {
		quoted := regexp.QuoteMeta(symbol)
		for _, p := range symbolDefPatterns {
			patterns = append(patterns, regexp.MustCompile(fmt.Sprintf(p, quoted)))
		}
	}

	var matches []SearchMatch
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
		if len(matches) >= symbolResultCap {
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil || info.Size() > projectByteLimit {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		content := string(data)
		for _, re := range patterns {
			for _, loc := range re.FindAllStringIndex(content, -1) {
				line := 1 + strings.Count(content[:loc[0]], "\n")
				text := content[loc[0]:loc[1]]
				matches = append(matches, SearchMatch{File: path, Line: line, Text: strings.TrimSpace(text)})
				if len(matches) >= symbolResultCap {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return fmt.Sprintf("Symbol %q not found.", symbol), nil
	}
	return formatMatches(matches), nil
}

// IndexProject summarizes the project: file counts per extension and the
// largest source files.
func IndexProject(root string) (string, error) {
	counts := map[string]int{}
	type sized struct {
		path string
		size int64
	}
	var files []sized

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
		ext := filepath.Ext(d.Name())
		if ext == "" {
			ext = "(none)"
		}
		counts[ext]++
		if info, err := d.Info(); err == nil {
			files = append(files, sized{path: path, size: info.Size()})
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	exts := make([]string, 0, len(counts))
	for ext := range counts {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool { return counts[exts[i]] > counts[exts[j]] })
	sort.Slice(files, func(i, j int) bool { return files[i].size > files[j].size })

	var b strings.Builder
	fmt.Fprintf(&b, "Project index of %s: %d files\n\nBy extension:\n", root, len(files))
	for i, ext := range exts {
		if i >= indexSummaryCap {
			break
		}
		fmt.Fprintf(&b, "  %s: %d\n", ext, counts[ext])
	}
	b.WriteString("\nLargest files:\n")
	for i, f := range files {
		if i >= indexSummaryCap {
			break
		}
		fmt.Fprintf(&b, "  %s (%d bytes)\n", f.path, f.size)
	}
	return b.String(), nil
}

// LintProject runs the configured lint command. A non-zero exit is reported
// as "Lint Failed" with the combined output; the error return is reserved
// for spawn failures.
func LintProject(ctx context.Context, root, lintCommand string) (string, bool) {
	if strings.TrimSpace(lintCommand) == "" {
		return "No lint command configured.", true
	}
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", lintCommand)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", lintCommand)
	}
	cmd.Dir = root
	out, err := cmd.CombinedOutput()
	output := truncate(string(out), lintOutputLimit)
	if err != nil {
		return fmt.Sprintf("Lint Failed\n%s", output), false
	}
	if strings.TrimSpace(output) == "" {
		output = "Lint passed with no output."
	}
	return output, true
}
