// Package applier applies batches of model-proposed file edits
// transactionally: every file is snapshotted before the first write, and any
// failure rolls the whole batch back best-effort. Successful batches are
// pushed onto an in-memory undo stack.
package applier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"milo/internal/logging"
)

// Change is one original→edited replacement for a file. An empty Original
// means a full-file write, creating the file if missing.
type Change struct {
	File     string `json:"file"`
	Original string `json:"original"`
	Edited   string `json:"edited"`
}

// ErrMatchFailed is returned when Original cannot be located in the current
// file content by any match strategy.
var ErrMatchFailed = errors.New("original snippet not found in file")

// ProgressPhase marks progress callback positions.
type ProgressPhase string

const (
	ProgressStart ProgressPhase = "start"
	ProgressDone  ProgressPhase = "done"
)

// ProgressFunc observes per-file apply progress.
type ProgressFunc func(path string, existedBefore bool, idx, total int, phase ProgressPhase)

type snapshot struct {
	file            string
	existedBefore   bool
	previousContent string
}

// Applier applies change batches with rollback and undo.
type Applier struct {
	mu        sync.Mutex
	undoStack [][]snapshot
	logger    logging.Logger
}

// New creates an Applier.
func New() *Applier {
	return &Applier{logger: logging.NewComponentLogger("FileApplier")}
}

// CollapseDuplicates drops repeated entries per file, keeping the first.
func CollapseDuplicates(changes []Change) []Change {
	seen := make(map[string]struct{}, len(changes))
	out := make([]Change, 0, len(changes))
	for _, change := range changes {
		if _, dup := seen[change.File]; dup {
			continue
		}
		seen[change.File] = struct{}{}
		out = append(out, change)
	}
	return out
}

// Apply writes every change in order. On any failure after a prior write
// succeeded, completed writes are rolled back in reverse order and the error
// is returned. On success the snapshot batch is pushed for UndoLastApply.
func (a *Applier) Apply(changes []Change, progress ProgressFunc) error {
	changes = CollapseDuplicates(changes)
	snapshots := make([]snapshot, 0, len(changes))

	for idx, change := range changes {
		path := change.File
		prev, existed := readIfExists(path)
		if progress != nil {
			progress(path, existed, idx, len(changes), ProgressStart)
		}

		next, err := nextContent(prev, existed, change)
		if err != nil {
			a.rollback(snapshots)
			return fmt.Errorf("apply %s: %w", path, err)
		}

		snapshots = append(snapshots, snapshot{file: path, existedBefore: existed, previousContent: prev})

		if err := writeFile(path, next); err != nil {
			a.rollback(snapshots)
			return fmt.Errorf("write %s: %w", path, err)
		}
		if progress != nil {
			progress(path, existed, idx, len(changes), ProgressDone)
		}
	}

	a.mu.Lock()
	a.undoStack = append(a.undoStack, snapshots)
	a.mu.Unlock()
	return nil
}

// UndoLastApply reverses the most recent successful batch using the rollback
// policy. Returns false when the stack is empty.
func (a *Applier) UndoLastApply() bool {
	a.mu.Lock()
	if len(a.undoStack) == 0 {
		a.mu.Unlock()
		return false
	}
	batch := a.undoStack[len(a.undoStack)-1]
	a.undoStack = a.undoStack[:len(a.undoStack)-1]
	a.mu.Unlock()

	a.rollback(batch)
	return true
}

// rollback restores snapshots in reverse order. Per-entry failures are logged
// and swallowed so the remaining entries still get attempted.
func (a *Applier) rollback(snapshots []snapshot) {
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		var err error
		if snap.existedBefore {
			err = writeFile(snap.file, snap.previousContent)
		} else {
			err = os.Remove(snap.file)
		}
		if err != nil {
			a.logger.Warn("rollback of %s failed: %v", snap.file, err)
		}
	}
}

// nextContent computes the post-apply content using the fallback chain of
// match strategies.
func nextContent(current string, existed bool, change Change) (string, error) {
	// Full-file write.
	if change.Original == "" {
		return change.Edited, nil
	}
	if !existed {
		return "", fmt.Errorf("%w: file does not exist", ErrMatchFailed)
	}

	// Exact match. Every occurrence is replaced: the model is told its
	// original snippet must be unique, and when it is not, a partial
	// replacement would silently pick an arbitrary occurrence.
	if strings.Contains(current, change.Original) {
		return strings.ReplaceAll(current, change.Original, change.Edited), nil
	}

	// Newline-normalized match (CRLF vs LF mismatch between model and disk).
	normCurrent := normalizeNewlines(current)
	normOriginal := normalizeNewlines(change.Original)
	if strings.Contains(normCurrent, normOriginal) {
		return strings.ReplaceAll(normCurrent, normOriginal, normalizeNewlines(change.Edited)), nil
	}

	// Trimmed-line-block match: locate a window of lines whose trimmed forms
	// match the trimmed non-empty lines of Original, and splice Edited in.
	if next, ok := replaceTrimmedBlock(normCurrent, normOriginal, normalizeNewlines(change.Edited)); ok {
		return next, nil
	}

	// The file may already carry the edit.
	if strings.TrimSpace(current) == strings.TrimSpace(change.Edited) {
		return current, nil
	}

	return "", ErrMatchFailed
}

func replaceTrimmedBlock(current, original, edited string) (string, bool) {
	var want []string
	for _, line := range strings.Split(original, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			want = append(want, trimmed)
		}
	}
	if len(want) == 0 {
		return "", false
	}

	lines := strings.Split(current, "\n")
	for start := 0; start+len(want) <= len(lines); start++ {
		if !windowMatches(lines[start:start+len(want)], want) {
			continue
		}
		var out []string
		out = append(out, lines[:start]...)
		out = append(out, strings.Split(edited, "\n")...)
		out = append(out, lines[start+len(want):]...)
		return strings.Join(out, "\n"), true
	}
	return "", false
}

func windowMatches(window, want []string) bool {
	for i := range want {
		if strings.TrimSpace(window[i]) != want[i] {
			return false
		}
	}
	return true
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func readIfExists(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// writeFile creates parent directories and writes via temp file + rename so a
// crash mid-write never leaves a truncated file.
func writeFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".milo-apply-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
