package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmissionOrderPreserved(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(func(e Event) { got = append(got, e.Message) })

	for _, msg := range []string{"one", "two", "three"} {
		b.Emit(Event{Phase: PhaseThinking, Message: msg})
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestListenerPanicSwallowed(t *testing.T) {
	b := New()
	var after []string
	b.Subscribe(func(Event) { panic("listener bug") })
	b.Subscribe(func(e Event) { after = append(after, e.Message) })

	assert.NotPanics(t, func() {
		b.Emit(Event{Phase: PhaseError, Message: "still delivered"})
	})
	assert.Equal(t, []string{"still delivered"}, after)
}

func TestTimestampFilled(t *testing.T) {
	b := New()
	var got Event
	b.Subscribe(func(e Event) { got = e })
	b.Emit(Event{Phase: PhaseFinished})
	assert.False(t, got.Timestamp.IsZero())
}

func TestHistoryRing(t *testing.T) {
	b := New()
	for i := 0; i < historyLimit+50; i++ {
		b.Emit(Event{Phase: PhaseStreaming, Message: "m"})
	}
	history := b.History()
	require.Len(t, history, historyLimit)
}

func TestPointerHelpers(t *testing.T) {
	assert.Equal(t, 3, *IntPtr(3))
	assert.True(t, *BoolPtr(true))
}
