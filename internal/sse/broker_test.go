package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker(t *testing.T) {
	t.Run("delivers to subscribers of the topic only", func(t *testing.T) {
		b := NewBroker()
		a := b.Subscribe("agent")
		other := b.Subscribe("other")

		b.PublishJSON("agent", "state", map[string]string{"route": "main"})

		select {
		case ev := <-a.Events:
			assert.Equal(t, "state", ev.Type)
			assert.JSONEq(t, `{"route":"main"}`, string(ev.Data))
		default:
			t.Fatal("expected event")
		}
		assert.Empty(t, other.Events)
	})

	t.Run("tracks client counts", func(t *testing.T) {
		b := NewBroker()
		c1 := b.Subscribe("agent")
		b.Subscribe("agent")
		b.Subscribe("x")

		assert.Equal(t, 2, b.ClientCount("agent"))
		assert.Equal(t, 3, b.TotalClients())

		b.Unsubscribe(c1)
		b.Unsubscribe(c1)
		assert.Equal(t, 1, b.ClientCount("agent"))

		_, open := <-c1.Done
		assert.False(t, open)
	})

	t.Run("drops events when buffer is full", func(t *testing.T) {
		b := NewBroker()
		c := b.Subscribe("agent")

		for i := 0; i < clientBuffer+10; i++ {
			b.Publish("agent", Event{Type: "tick"})
		}
		assert.Len(t, c.Events, clientBuffer)
	})

	t.Run("close releases clients and rejects new ones", func(t *testing.T) {
		b := NewBroker()
		c := b.Subscribe("agent")
		b.Close()

		_, open := <-c.Done
		assert.False(t, open)
		assert.Zero(t, b.TotalClients())

		late := b.Subscribe("agent")
		_, open = <-late.Done
		assert.False(t, open)
		b.Unsubscribe(late)
	})

	t.Run("new event marshals data", func(t *testing.T) {
		ev, err := NewEvent("pairing", map[string]int{"n": 1})
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(ev.Data))
	})
}
