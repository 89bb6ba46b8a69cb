package runner

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milo/internal/bus"
)

func sleepCommand(ms int) string {
	if runtime.GOOS == "windows" {
		return "ping -n 3 127.0.0.1 > NUL"
	}
	switch ms {
	case 2000:
		return "sleep 2"
	case 1200:
		return "sleep 1.2"
	}
	return "sleep 1"
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return New(bus.New(), NewLog(t.TempDir()))
}

func TestTimeoutKillsChild(t *testing.T) {
	r := newTestRunner(t)
	record := r.Run(context.Background(), sleepCommand(2000), Options{TimeoutMS: 500})

	assert.False(t, record.Success)
	assert.Nil(t, record.ExitCode)
	assert.Contains(t, record.Stderr, "timed out after 500ms")
	assert.GreaterOrEqual(t, record.DurationMS, int64(500))
}

func TestUnlimitedTimeout(t *testing.T) {
	r := newTestRunner(t)
	record := r.Run(context.Background(), sleepCommand(1200), Options{TimeoutMS: 0})

	assert.True(t, record.Success)
	require.NotNil(t, record.ExitCode)
	assert.Equal(t, 0, *record.ExitCode)
	assert.Equal(t, 0, record.TimeoutMS)
}

func TestCapturesOutput(t *testing.T) {
	r := newTestRunner(t)
	record := r.Run(context.Background(), "echo hello && echo oops 1>&2", Options{})

	assert.True(t, record.Success)
	assert.Contains(t, record.Stdout, "hello")
	assert.Contains(t, record.Stderr, "oops")
}

func TestNonZeroExit(t *testing.T) {
	r := newTestRunner(t)
	record := r.Run(context.Background(), "exit 3", Options{})

	assert.False(t, record.Success)
	require.NotNil(t, record.ExitCode)
	assert.Equal(t, 3, *record.ExitCode)
}

func TestStreamingCallbacks(t *testing.T) {
	r := newTestRunner(t)
	var chunks []string
	record := r.Run(context.Background(), "echo streamed", Options{
		OnStdout: func(chunk string) { chunks = append(chunks, chunk) },
	})
	assert.True(t, record.Success)
	assert.Contains(t, strings.Join(chunks, ""), "streamed")
}

func TestLogAppendAndReadRecent(t *testing.T) {
	dir := t.TempDir()
	log := NewLog(dir)

	for _, cmd := range []string{"first", "second", "third"} {
		require.NoError(t, log.Append(Record{Command: cmd, Success: true}))
	}

	records, err := log.ReadRecent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second", records[0].Command)
	assert.Equal(t, "third", records[1].Command)
}

func TestLogIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	log := NewLog(dir)

	require.NoError(t, log.Append(Record{Command: "one"}))
	first, err := log.ReadRecent(10)
	require.NoError(t, err)

	require.NoError(t, log.Append(Record{Command: "two"}))
	all, err := log.ReadRecent(10)
	require.NoError(t, err)

	require.Len(t, all, 2)
	assert.Equal(t, first[0].Command, all[0].Command, "existing line unchanged")
}
