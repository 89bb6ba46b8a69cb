// Package session implements per-session conversation persistence, history
// injection under a token budget, deterministic compaction, and the provider
// continuation cache used by the local provider.
package session

import (
	"time"

	"milo/internal/tokenutil"
)

// Role identifies the author of a session entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one transcript message.
type Entry struct {
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	ChangesCount int       `json:"changes_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// File is the on-disk shape of one session.
type File struct {
	Name     string         `json:"name"`
	Session  []Entry        `json:"session"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EstimatedTokens approximates the token footprint of the whole transcript
// with the deterministic ceil(len/4) heuristic.
func (f *File) EstimatedTokens() int {
	total := 0
	for _, entry := range f.Session {
		total += tokenutil.EstimateFast(entry.Content)
	}
	return total
}

// Append adds one entry with the current timestamp.
func (f *File) Append(role Role, content string, changes int) {
	f.Session = append(f.Session, Entry{
		Role:         role,
		Content:      content,
		ChangesCount: changes,
		Timestamp:    time.Now().UTC(),
	})
}

// InjectHistory walks entries newest-first, accumulating until either
// maxMessages or tokenLimit would be exceeded, and returns the selection in
// original order.
func (f *File) InjectHistory(maxMessages, tokenLimit int) []Entry {
	if maxMessages <= 0 || len(f.Session) == 0 {
		return nil
	}
	var picked []Entry
	budget := tokenLimit
	for i := len(f.Session) - 1; i >= 0 && len(picked) < maxMessages; i-- {
		entry := f.Session[i]
		cost := tokenutil.EstimateFast(entry.Content)
		if tokenLimit > 0 && cost > budget {
			break
		}
		budget -= cost
		picked = append(picked, entry)
	}
	// Re-reverse into chronological order.
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}
