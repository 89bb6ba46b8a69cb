package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "sessions"), filepath.Join(dir, "active"))
}

func TestRoundTripPreservesEntries(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create("roundtrip")
	require.NoError(t, err)

	sess.Append(RoleUser, "hello\nwith newline and unicode: héllo", 0)
	sess.Append(RoleAssistant, "answer", 2)
	require.NoError(t, store.Save(sess))

	loaded, err := store.Load("roundtrip")
	require.NoError(t, err)
	require.Len(t, loaded.Session, 2)
	assert.Equal(t, sess.Session[0].Content, loaded.Session[0].Content)
	assert.Equal(t, sess.Session[1].ChangesCount, loaded.Session[1].ChangesCount)
	assert.Equal(t, sess.Session[0].Role, loaded.Session[0].Role)
}

func TestActiveSessionMarker(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Create("one")
	require.NoError(t, err)
	require.NoError(t, store.SetActive("one"))
	assert.Equal(t, "one", store.Active())

	active, err := store.LoadActive()
	require.NoError(t, err)
	assert.Equal(t, "one", active.Name)
}

func TestHistoryInjectionBudget(t *testing.T) {
	sess := &File{Name: "s"}
	for i := 0; i < 10; i++ {
		sess.Append(RoleUser, fmt.Sprintf("message %d %s", i, strings.Repeat("x", 100)), 0)
	}

	// Budget that only fits the newest few entries.
	injected := sess.InjectHistory(10, 90)
	require.NotEmpty(t, injected)
	assert.Less(t, len(injected), 10)
	// Original order, ending with the newest entry.
	assert.Contains(t, injected[len(injected)-1].Content, "message 9")

	capped := sess.InjectHistory(3, 1<<20)
	assert.Len(t, capped, 3)
	assert.Contains(t, capped[0].Content, "message 7")
}

func TestCompactKeepsRecentVerbatim(t *testing.T) {
	sess := &File{Name: "s"}
	for i := 0; i < 30; i++ {
		sess.Append(RoleUser, fmt.Sprintf("turn %d", i), 0)
	}
	lastEight := append([]Entry{}, sess.Session[22:]...)

	Compact(sess, 8, 24)

	require.Len(t, sess.Session, 9, "one summary + 8 recent")
	summary := sess.Session[0]
	assert.Equal(t, RoleAssistant, summary.Role)
	assert.True(t, strings.HasPrefix(summary.Content, CompactedMarker))
	assert.Contains(t, summary.Content, "turn 0")
	assert.Equal(t, lastEight, sess.Session[1:])
}

func TestCompactTruncatesLongSummaryLines(t *testing.T) {
	sess := &File{Name: "s"}
	long := strings.Repeat("a", 500)
	for i := 0; i < 12; i++ {
		sess.Append(RoleUser, long, 0)
	}
	Compact(sess, 2, 24)

	for _, line := range strings.Split(sess.Session[0].Content, "\n") {
		assert.LessOrEqual(t, len(line), 200)
	}
}

func TestCompactIdempotent(t *testing.T) {
	sess := &File{Name: "s"}
	for i := 0; i < 30; i++ {
		sess.Append(RoleUser, fmt.Sprintf("turn %d", i), 0)
	}
	Compact(sess, 8, 24)
	after := append([]Entry{}, sess.Session...)

	Compact(sess, 8, 24)
	assert.Equal(t, after, sess.Session)
}

func TestShouldCompactThreshold(t *testing.T) {
	sess := &File{Name: "s"}
	sess.Append(RoleUser, strings.Repeat("x", 4000), 0) // ~1000 tokens

	assert.True(t, ShouldCompact(sess, 1000, 80))
	assert.False(t, ShouldCompact(sess, 10000, 80))
	assert.False(t, ShouldCompact(sess, 1000, 0), "disabled")
}

func TestContinuationWarmth(t *testing.T) {
	sess := &File{Name: "s", Metadata: map[string]any{}}
	system := "system prompt v1"

	sess.SetContinuation(Continuation{
		Tokens:            []int{1, 2, 3},
		ModelName:         "m1",
		Valid:             true,
		PromptFingerprint: Fingerprint(system),
	})

	cont, warm := sess.WarmContinuation("m1", system)
	require.True(t, warm)
	assert.Equal(t, []int{1, 2, 3}, cont.Tokens)

	_, warm = sess.WarmContinuation("m2", system)
	assert.False(t, warm, "model changed")

	_, warm = sess.WarmContinuation("m1", "different system prompt")
	assert.False(t, warm, "fingerprint mismatch")

	sess.InvalidateContinuation()
	_, warm = sess.WarmContinuation("m1", system)
	assert.False(t, warm, "invalidated")
}

func TestSetContinuationStampsSavedAt(t *testing.T) {
	sess := &File{Name: "s", Metadata: map[string]any{}}

	sess.SetContinuation(Continuation{Tokens: []int{1}, ModelName: "m", Valid: true})
	cont, ok := sess.continuation()
	require.True(t, ok)
	assert.False(t, cont.SavedAt.IsZero())

	// An explicit SavedAt is preserved.
	explicit := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sess.SetContinuation(Continuation{Tokens: []int{1}, SavedAt: explicit})
	cont, ok = sess.continuation()
	require.True(t, ok)
	assert.Equal(t, explicit, cont.SavedAt)
}

func TestContinuationSurvivesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create("cont")
	require.NoError(t, err)

	system := "sys"
	sess.SetContinuation(Continuation{
		Tokens: []int{7, 8}, ModelName: "m", Valid: true,
		PromptFingerprint: Fingerprint(system),
	})
	require.NoError(t, store.Save(sess))

	loaded, err := store.Load("cont")
	require.NoError(t, err)
	cont, warm := loaded.WarmContinuation("m", system)
	require.True(t, warm)
	assert.Equal(t, []int{7, 8}, cont.Tokens)
}
