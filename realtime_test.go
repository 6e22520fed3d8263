package dsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Reconnector
// ============================================================================

func TestReconnector(t *testing.T) {
	cfg := &RealtimeConfig{
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    10 * time.Second,
		MaxReconnectAttempts: 3,
	}

	t.Run("delays grow exponentially up to the cap", func(t *testing.T) {
		r := newReconnector(cfg)

		d1 := r.nextDelay()
		d2 := r.nextDelay()
		d3 := r.nextDelay()

		// Base 1s with up to 50% jitter per step.
		assert.GreaterOrEqual(t, d1, 1*time.Second)
		assert.Less(t, d1, 1500*time.Millisecond)
		assert.GreaterOrEqual(t, d2, 2*time.Second)
		assert.Less(t, d2, 2500*time.Millisecond)
		assert.GreaterOrEqual(t, d3, 4*time.Second)
		assert.LessOrEqual(t, d3, 10*time.Second)

		for i := 0; i < 10; i++ {
			assert.LessOrEqual(t, r.nextDelay(), 10*time.Second)
		}
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		r := newReconnector(cfg)
		require.True(t, r.shouldReconnect())
		r.nextDelay()
		r.nextDelay()
		r.nextDelay()
		assert.False(t, r.shouldReconnect())
	})

	t.Run("zero max attempts means unbounded", func(t *testing.T) {
		r := newReconnector(&RealtimeConfig{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: time.Second})
		for i := 0; i < 50; i++ {
			r.nextDelay()
		}
		assert.True(t, r.shouldReconnect())
	})

	t.Run("stable connectivity resets the attempt counter", func(t *testing.T) {
		r := newReconnector(cfg)
		r.nextDelay()
		r.nextDelay()

		r.connectedAt = time.Now().Add(-2 * time.Minute)
		d := r.nextDelay()
		assert.Less(t, d, 1500*time.Millisecond, "counter reset after a stable minute")
	})
}

// ============================================================================
// Event dispatcher
// ============================================================================

func TestEventDispatcher(t *testing.T) {
	envelope := func(typ string, v any) Envelope {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		return Envelope{Type: typ, Payload: raw}
	}

	t.Run("wire message events map onto push events", func(t *testing.T) {
		d := newEventDispatcher()
		var got []PushEvent
		d.onPush = append(d.onPush, func(ev PushEvent) { got = append(got, ev) })

		d.dispatch(envelope(wireMessageCreated, Message{ID: "m1", ConversationID: "conv-1"}))
		d.dispatch(envelope(wireMessageDeleted, Message{ID: "m1", ConversationID: "conv-1"}))
		d.dispatch(envelope("presence.changed", map[string]string{"userId": "u1"}))

		require.Len(t, got, 2)
		assert.Equal(t, PushCreated, got[0].Type)
		assert.Equal(t, "m1", got[0].Message.ID)
		assert.Equal(t, PushDeleted, got[1].Type)
	})

	t.Run("generic handlers receive the raw payload", func(t *testing.T) {
		d := newEventDispatcher()
		var gotType string
		var gotPayload json.RawMessage
		d.generic["presence.changed"] = append(d.generic["presence.changed"], func(typ string, payload json.RawMessage) {
			gotType, gotPayload = typ, payload
		})

		d.dispatch(envelope("presence.changed", map[string]string{"userId": "u1"}))

		assert.Equal(t, "presence.changed", gotType)
		assert.JSONEq(t, `{"userId":"u1"}`, string(gotPayload))
	})

	t.Run("undecodable message payload is skipped", func(t *testing.T) {
		d := newEventDispatcher()
		calls := 0
		d.onPush = append(d.onPush, func(PushEvent) { calls++ })

		d.dispatch(Envelope{Type: wireMessageCreated, Payload: json.RawMessage(`"not an object"`)})
		assert.Equal(t, 0, calls)
	})
}

// ============================================================================
// Config / wiring
// ============================================================================

func TestRealtimeConfigDefaults(t *testing.T) {
	cfg := RealtimeConfig{}
	cfg.defaults()

	assert.Equal(t, 1*time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 10, cfg.MaxReconnectAttempts)
	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval)
}

func TestRealtimeBindEngine(t *testing.T) {
	e := NewEngine(&fakeTransport{}, testSelf)
	require.NoError(t, e.SwitchConversation(context.Background(), "conv-1"))

	rt := NewRealtime("https://chat.example.com", &RealtimeConfig{Token: "tok"})
	rt.BindEngine(e)

	raw, _ := json.Marshal(Message{ID: "m1", ConversationID: "conv-1", Body: "hi"})
	rt.dispatcher.dispatch(Envelope{Type: wireMessageCreated, Payload: raw})

	got, ok := e.Store().Get("m1")
	require.True(t, ok)
	assert.Equal(t, StateCommitted, got.State)
}
