package policy

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedPrompter answers access prompts from fixed maps.
type cannedPrompter struct {
	mode    Mode
	answers map[string]bool
	asked   []string
}

func (p *cannedPrompter) AskMode(string) Mode { return p.mode }
func (p *cannedPrompter) AskPath(path, _ string) bool {
	p.asked = append(p.asked, path)
	return p.answers[path]
}

func TestFullAccessAllowsEverything(t *testing.T) {
	g := NewGrant(&cannedPrompter{mode: ModeFull})
	decision := g.EnsureAccess([]string{"/proj/a.go", "/proj/b.go"}, "test")
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.DeniedPaths)
}

func TestUnknownModePromptsOnce(t *testing.T) {
	p := &cannedPrompter{mode: ModeFull}
	g := NewGrant(p)
	assert.Equal(t, ModeUnknown, g.Mode())

	g.EnsureAccess([]string{"/proj/a.go"}, "test")
	assert.Equal(t, ModeFull, g.Mode())

	// Second batch must not re-ask for the mode.
	g.EnsureAccess([]string{"/proj/b.go"}, "test")
	assert.Equal(t, ModeFull, g.Mode())
}

func TestSelectiveDenial(t *testing.T) {
	secret := NormalizePath("/proj/secret.key")
	p := &cannedPrompter{mode: ModeSelective, answers: map[string]bool{}}
	g := NewGrant(p)
	g.SetMode(ModeSelective)
	g.Deny(secret)

	decision := g.EnsureAccess([]string{secret}, "apply edits")
	assert.False(t, decision.Allowed)
	require.Len(t, decision.DeniedPaths, 1)
	assert.True(t, strings.HasSuffix(decision.DeniedPaths[0], "secret.key"))
	assert.Empty(t, p.asked, "denied path must not re-prompt")
}

func TestSelectivePerPathApproval(t *testing.T) {
	a := NormalizePath("/proj/a.go")
	b := NormalizePath("/proj/b.go")
	p := &cannedPrompter{mode: ModeSelective, answers: map[string]bool{a: true, b: false}}
	g := NewGrant(p)
	g.SetMode(ModeSelective)

	decision := g.EnsureAccess([]string{a, b}, "test")
	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{b}, decision.DeniedPaths)

	// Answers stick: no second prompt for the same paths.
	p.asked = nil
	again := g.EnsureAccess([]string{a, b}, "test")
	assert.Empty(t, p.asked)
	assert.Equal(t, []string{b}, again.DeniedPaths)
}

func TestAllowDenyMutuallyExclusive(t *testing.T) {
	g := NewGrant(nil)
	path := NormalizePath("/proj/x.go")

	g.Allow(path)
	assert.False(t, g.IsDenied(path))
	g.Deny(path)
	assert.True(t, g.IsDenied(path))
	g.Allow(path)
	assert.False(t, g.IsDenied(path))
}

func TestFullModeClearsLists(t *testing.T) {
	g := NewGrant(nil)
	path := NormalizePath("/proj/x.go")
	g.Deny(path)
	g.SetMode(ModeFull)
	assert.False(t, g.IsDenied(path))
}

func TestNormalizePathForwardSlashes(t *testing.T) {
	normalized := NormalizePath("/proj/sub/../file.go")
	assert.False(t, strings.Contains(normalized, ".."))
	if runtime.GOOS != "windows" {
		assert.Equal(t, "/proj/file.go", normalized)
	}
	assert.False(t, strings.Contains(normalized, "\\"))
}
