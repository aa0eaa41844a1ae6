package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFanOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TaskFailed, Data: "x"})

	ea := <-a
	ec := <-c
	require.Equal(t, TaskFailed, ea.Type)
	require.Equal(t, "x", ec.Data)
	require.False(t, ea.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TaskStarted})
	b.Publish(Event{Type: TaskFinished})

	require.Len(t, ch, 1)
	require.Equal(t, uint64(1), Dropped(b))
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TaskSkipped})
}
