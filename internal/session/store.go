package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"milo/internal/logging"
)

// Store persists sessions as one JSON file each under a base directory, with
// a plaintext marker file naming the active session.
type Store struct {
	baseDir    string
	activePath string
	logger     logging.Logger
}

// NewStore creates a Store rooted at baseDir; the active-session marker lives
// in the parent directory.
func NewStore(baseDir, activePath string) *Store {
	_ = os.MkdirAll(baseDir, 0755)
	return &Store{
		baseDir:    baseDir,
		activePath: activePath,
		logger:     logging.NewComponentLogger("SessionStore"),
	}
}

// Create starts a new named session and persists it immediately. An empty
// name gets a generated one.
func (s *Store) Create(name string) (*File, error) {
	if name == "" {
		name = fmt.Sprintf("session-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
	}
	file := &File{
		Name:     name,
		Session:  []Entry{},
		Metadata: map[string]any{},
	}
	if err := s.Save(file); err != nil {
		return nil, err
	}
	return file, nil
}

// Load reads a session by name.
func (s *Store) Load(name string) (*File, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("session not found: %s", name)
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", name, err)
	}
	if file.Metadata == nil {
		file.Metadata = map[string]any{}
	}
	return &file, nil
}

// Save writes a session file.
func (s *Store) Save(file *File) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return os.WriteFile(s.path(file.Name), data, 0644)
}

// List returns all session names, unordered.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return names, nil
}

// Active returns the name in the active-session marker, or empty when unset.
func (s *Store) Active() string {
	data, err := os.ReadFile(s.activePath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetActive records name as the current session.
func (s *Store) SetActive(name string) error {
	if err := os.MkdirAll(filepath.Dir(s.activePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.activePath, []byte(name), 0644)
}

// LoadActive resolves the active session, creating a fresh one when the
// marker is missing or stale.
func (s *Store) LoadActive() (*File, error) {
	if name := s.Active(); name != "" {
		if file, err := s.Load(name); err == nil {
			return file, nil
		}
		s.logger.Warn("active session %q unreadable, starting a new one", name)
	}
	file, err := s.Create("")
	if err != nil {
		return nil, err
	}
	if err := s.SetActive(file.Name); err != nil {
		return nil, err
	}
	return file, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.baseDir, name+".json")
}
