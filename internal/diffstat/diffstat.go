// Package diffstat computes per-apply diff statistics and appends one
// diff-batch record per apply to a per-day ndjson log.
package diffstat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// FileStat is the change statistics for one file.
type FileStat struct {
	File         string `json:"file"`
	AddedLines   int    `json:"added_lines"`
	DeletedLines int    `json:"deleted_lines"`
	Created      bool   `json:"created"`
}

// BatchRecord is one apply batch's statistics.
type BatchRecord struct {
	AppliedAt time.Time  `json:"applied_at"`
	Files     []FileStat `json:"files"`
	Added     int        `json:"added"`
	Deleted   int        `json:"deleted"`
}

// Stat diffs old against new content and counts added/deleted lines.
func Stat(file, oldContent, newContent string) FileStat {
	stat := FileStat{File: file, Created: oldContent == ""}
	if oldContent == newContent {
		return stat
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	for _, d := range diffs {
		lines := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stat.AddedLines += lines
		case diffmatchpatch.DiffDelete:
			stat.DeletedLines += lines
		}
	}
	return stat
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

// Tracker accumulates per-turn stats and persists batch records.
type Tracker struct {
	dir string
	mu  sync.Mutex
}

// NewTracker creates a Tracker logging under dir.
func NewTracker(dir string) *Tracker {
	return &Tracker{dir: dir}
}

// RecordBatch appends one batch record to today's diff log. Log failures are
// non-fatal and reported to the caller only through the returned error.
func (t *Tracker) RecordBatch(stats []FileStat) (BatchRecord, error) {
	record := BatchRecord{AppliedAt: time.Now().UTC(), Files: stats}
	for _, s := range stats {
		record.Added += s.AddedLines
		record.Deleted += s.DeletedLines
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return record, fmt.Errorf("create diff log dir: %w", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return record, fmt.Errorf("encode diff record: %w", err)
	}
	path := filepath.Join(t.dir, fmt.Sprintf("diffs-%s.ndjson", time.Now().UTC().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return record, fmt.Errorf("open diff log: %w", err)
	}
	defer func() { _ = file.Close() }()
	_, err = file.Write(append(data, '\n'))
	return record, err
}
