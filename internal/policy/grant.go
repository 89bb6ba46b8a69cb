// Package policy implements the per-process session access grant consulted
// before any project read or write. The grant starts unknown; the first
// request prompts the user for full or selective access.
package policy

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"milo/internal/logging"
)

// Mode is the scope of the user's access decision.
type Mode string

const (
	ModeUnknown   Mode = "unknown"
	ModeFull      Mode = "full"
	ModeSelective Mode = "selective"
)

// Decision is the outcome of an access check for a batch of paths.
type Decision struct {
	Allowed     bool
	DeniedPaths []string
}

// Prompter asks the user for access decisions. The interactive implementation
// lives in cmd; tests inject canned answers.
type Prompter interface {
	// AskMode asks for the initial grant scope.
	AskMode(reason string) Mode
	// AskPath asks whether one absolute path may be touched.
	AskPath(path, reason string) bool
}

// Grant is the process-wide access grant. Allow and deny lists hold absolute
// forward-slash paths and are mutually exclusive.
type Grant struct {
	mu       sync.Mutex
	mode     Mode
	askedAt  time.Time
	allow    map[string]struct{}
	deny     map[string]struct{}
	prompter Prompter
	logger   logging.Logger
}

// NewGrant creates an unknown-mode grant using the given prompter.
func NewGrant(prompter Prompter) *Grant {
	return &Grant{
		mode:     ModeUnknown,
		allow:    make(map[string]struct{}),
		deny:     make(map[string]struct{}),
		prompter: prompter,
		logger:   logging.NewComponentLogger("AccessPolicy"),
	}
}

// Mode returns the current grant mode.
func (g *Grant) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// SetMode records a user decision. Selecting full access empties both lists.
func (g *Grant) SetMode(mode Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setModeLocked(mode)
}

func (g *Grant) setModeLocked(mode Mode) {
	g.mode = mode
	g.askedAt = time.Now()
	if mode == ModeFull {
		g.allow = make(map[string]struct{})
		g.deny = make(map[string]struct{})
	}
}

// Allow adds a path to the allowlist, removing it from the denylist.
func (g *Grant) Allow(path string) {
	key := NormalizePath(path)
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.deny, key)
	g.allow[key] = struct{}{}
}

// Deny adds a path to the denylist, removing it from the allowlist.
func (g *Grant) Deny(path string) {
	key := NormalizePath(path)
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.allow, key)
	g.deny[key] = struct{}{}
}

// IsDenied reports whether a path is on the denylist.
func (g *Grant) IsDenied(path string) bool {
	key := NormalizePath(path)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, denied := g.deny[key]
	return denied
}

// EnsureAccess checks a batch of paths, prompting the user as needed, and
// returns which paths may be touched. Under full access everything passes;
// under selective access each unseen path is approved individually.
func (g *Grant) EnsureAccess(paths []string, reason string) Decision {
	g.mu.Lock()
	if g.mode == ModeUnknown && g.prompter != nil {
		mode := g.prompter.AskMode(reason)
		if mode != ModeFull && mode != ModeSelective {
			mode = ModeSelective
		}
		g.setModeLocked(mode)
	}
	mode := g.mode
	g.mu.Unlock()

	if mode == ModeFull {
		return Decision{Allowed: true}
	}

	var denied []string
	for _, path := range paths {
		key := NormalizePath(path)

		g.mu.Lock()
		_, allowed := g.allow[key]
		_, wasDenied := g.deny[key]
		g.mu.Unlock()

		if allowed {
			continue
		}
		if wasDenied {
			denied = append(denied, key)
			continue
		}
		if g.prompter != nil && g.prompter.AskPath(key, reason) {
			g.Allow(key)
			continue
		}
		g.Deny(key)
		g.logger.Info("access denied for %s", key)
		denied = append(denied, key)
	}

	return Decision{Allowed: len(denied) == 0, DeniedPaths: denied}
}

// NormalizePath converts a path to absolute forward-slash form.
func NormalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return strings.ReplaceAll(abs, "\\", "/")
}
