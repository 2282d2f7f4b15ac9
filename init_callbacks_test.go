package main

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/akinalp/stagecast/models"
)

type hostTable map[string]string

func (h hostTable) IsHost(_ context.Context, sessionID, userID string) bool {
	host, ok := h[sessionID]
	return ok && host == userID
}

func TestPublishAuthorizer(t *testing.T) {
	authorize := publishAuthorizer(hostTable{"s1": "host"})
	topic := models.SessionTopic("s1")

	assert.True(t, authorize("host", topic, models.EventPlaybackState))
	assert.True(t, authorize("host", topic, models.EventSongChanged))
	assert.False(t, authorize("guest", topic, models.EventPlaybackState))
	assert.False(t, authorize("guest", topic, models.EventSongChanged))

	// satırı olmayan oturumda kimse playback yayınlayamaz
	assert.False(t, authorize("host", models.SessionTopic("s2"), models.EventPlaybackState))
	assert.False(t, authorize("host", "lobby", models.EventPlaybackState))

	assert.True(t, authorize("guest", topic, models.EventChatMessage))
	assert.True(t, authorize("guest", topic, models.EventReaction))
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))
	assert.Nil(t, originChecker([]string{"https://a.example", "*"}))

	check := originChecker([]string{"https://a.example"})
	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req), "non-browser clients send no Origin")

	req.Header.Set("Origin", "https://a.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
