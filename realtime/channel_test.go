package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/pkg/ratelimit"
	"github.com/akinalp/stagecast/ws"
)

func startHub(t *testing.T) (*ws.Hub, string) {
	t.Helper()
	return startLimitedHub(t, nil)
}

func startLimitedHub(t *testing.T, limiter *ratelimit.MessageRateLimiter) (*ws.Hub, string) {
	t.Helper()

	hub := ws.NewHub(limiter)
	go hub.Run()
	handler := ws.NewHandler(hub, nil, ws.DefaultLimits, nil)
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleConnection))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// recorder, state değişimlerini kaydeder.
type recorder struct {
	mu     sync.Mutex
	states []models.ChannelState
}

func (r *recorder) add(s models.ChannelState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) last() models.ChannelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return ""
	}
	return r.states[len(r.states)-1]
}

func TestPublishBeforeRejoinIsNotConnected(t *testing.T) {
	_, url := startHub(t)
	ch := New(url, "u1", Options{})
	defer ch.Close()

	err := ch.Publish(context.Background(), "session:s1", models.EventChatMessage, map[string]string{"id": "m1"})
	require.ErrorIs(t, err, pkg.ErrNotConnected)
	assert.Equal(t, models.ChannelClosed, ch.State())
}

func TestRejoinSubscribesAndDelivers(t *testing.T) {
	hub, url := startHub(t)
	topic := models.SessionTopic("s1")

	host := New(url, "host", Options{})
	listener := New(url, "listener", Options{})
	defer host.Close()
	defer listener.Close()

	got := make(chan string, 1)
	listener.Subscribe(topic, models.EventChatMessage, func(payload json.RawMessage, from string) {
		var m models.ChatMessage
		if err := json.Unmarshal(payload, &m); err == nil {
			got <- from + ":" + m.ID
		}
	})
	host.Subscribe(topic, models.EventChatMessage, func(json.RawMessage, string) {
		t.Error("sender must not receive its own publish")
	})

	rec := &recorder{}
	listener.OnConnectionStateChange(rec.add)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, listener.Rejoin(ctx))
	require.NoError(t, host.Rejoin(ctx))

	assert.Equal(t, models.ChannelSubscribed, listener.State())
	assert.Equal(t, models.ChannelSubscribed, rec.last())
	assert.Equal(t, 2, hub.SubscriberCount(topic))

	require.NoError(t, host.Publish(ctx, topic, models.EventChatMessage, models.ChatMessage{ID: "m1"}))

	select {
	case v := <-got:
		assert.Equal(t, "host:m1", v)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestServerShutdownMarksChannelErrored(t *testing.T) {
	hub, url := startHub(t)
	ch := New(url, "u1", Options{})
	defer ch.Close()
	ch.Subscribe(models.SessionTopic("s1"), models.EventReaction, func(json.RawMessage, string) {})

	errored := make(chan struct{}, 1)
	ch.OnConnectionStateChange(func(s models.ChannelState) {
		if s.NeedsRejoin() {
			select {
			case errored <- struct{}{}:
			default:
			}
		}
	})

	require.NoError(t, ch.Rejoin(context.Background()))
	hub.Shutdown()

	select {
	case <-errored:
	case <-time.After(2 * time.Second):
		t.Fatal("expected errored state after server shutdown")
	}
	assert.Equal(t, models.ChannelErrored, ch.State())

	err := ch.Publish(context.Background(), models.SessionTopic("s1"), models.EventReaction, struct{}{})
	assert.ErrorIs(t, err, pkg.ErrNotConnected)
}

func TestUnsubscribeLastHandlerLeavesTopic(t *testing.T) {
	hub, url := startHub(t)
	topic := models.SessionTopic("s2")

	ch := New(url, "u1", Options{})
	defer ch.Close()
	unsubscribe := ch.Subscribe(topic, models.EventReaction, func(json.RawMessage, string) {})
	require.NoError(t, ch.Rejoin(context.Background()))
	require.Equal(t, 1, hub.SubscriberCount(topic))

	unsubscribe()
	unsubscribe() // ikinci çağrı no-op

	assert.Eventually(t, func() bool { return hub.SubscriberCount(topic) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseIsTerminal(t *testing.T) {
	_, url := startHub(t)
	ch := New(url, "u1", Options{})
	require.NoError(t, ch.Rejoin(context.Background()))

	ch.Close()
	assert.Equal(t, models.ChannelClosed, ch.State())
	assert.ErrorIs(t, ch.Rejoin(context.Background()), ErrClosed)
}

func TestRateLimitedPublishIsReported(t *testing.T) {
	limiter := ratelimit.NewMessageRateLimiter(1, time.Minute, time.Minute)
	defer limiter.Stop()
	_, url := startLimitedHub(t, limiter)
	topic := models.SessionTopic("s1")

	ch := New(url, "spammer", Options{})
	defer ch.Close()
	ch.Subscribe(topic, models.EventChatMessage, func(json.RawMessage, string) {})

	got := make(chan models.PublishRejection, 4)
	ch.OnPublishRejected(func(r models.PublishRejection) { got <- r })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.Rejoin(ctx))

	require.NoError(t, ch.Publish(ctx, topic, models.EventChatMessage, models.ChatMessage{ID: "m1"}))
	// Publish lokal olarak başarılıdır; red sonradan gelir
	require.NoError(t, ch.Publish(ctx, topic, models.EventChatMessage, models.ChatMessage{ID: "m2"}))

	select {
	case r := <-got:
		assert.Equal(t, topic, r.Topic)
		assert.Equal(t, models.EventChatMessage, r.Event)
		assert.Equal(t, "rate limited", r.Reason)
		assert.True(t, r.Retryable())
		assert.GreaterOrEqual(t, r.RetryAfter, time.Second)

		var m models.ChatMessage
		require.NoError(t, json.Unmarshal(r.Payload, &m))
		assert.Equal(t, "m2", m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("rejection not reported")
	}

	select {
	case r := <-got:
		t.Fatalf("unexpected second rejection: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}
