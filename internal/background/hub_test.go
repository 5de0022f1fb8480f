package background

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/prwatch/internal/timex"
)

func TestHub_FanOut(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	h := NewHub(timex.NewFakeClock(now))

	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()

	h.ShowError(context.Background(), "boom")

	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, EventShowError, ev.Type)
		assert.Equal(t, "boom", ev.Message)
		assert.Equal(t, now, ev.Timestamp)
	}

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	h.DataUpdated(context.Background())
	assert.Equal(t, EventDataUpdated, (<-b).Type)
}

func TestHub_SlowSubscriberMissesEvents(t *testing.T) {
	h := NewHub(timex.RealClock())
	ch, cancel := h.Subscribe()
	defer cancel()

	for range subscriberBuffer + 5 {
		h.DataUpdated(context.Background())
	}
	require.Len(t, ch, subscriberBuffer)
}
