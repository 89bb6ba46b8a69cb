package runner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log is the append-only per-day command execution log. Each record is one
// JSON object per line in commands-YYYY-MM-DD.ndjson (UTC date).
type Log struct {
	dir string
	mu  sync.Mutex
}

// NewLog creates a Log writing under dir.
func NewLog(dir string) *Log {
	return &Log{dir: dir}
}

// Append serializes one record onto today's log file.
func (l *Log) Append(record Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode command record: %w", err)
	}
	file, err := os.OpenFile(l.todayPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open command log: %w", err)
	}
	defer func() { _ = file.Close() }()
	_, err = file.Write(append(data, '\n'))
	return err
}

// ReadRecent returns the last n records from today's log in arrival order.
func (l *Log) ReadRecent(n int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.todayPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func (l *Log) todayPath() string {
	return filepath.Join(l.dir, fmt.Sprintf("commands-%s.ndjson", time.Now().UTC().Format("2006-01-02")))
}
