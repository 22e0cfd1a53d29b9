package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"domadoAPI/internal/notification"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialFeed serves feed on a test server and connects a rider to it.
func dialFeed(t *testing.T, feed *RentalFeed, userID uuid.UUID) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	attached := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		feed.Attach(userID, conn)
		close(attached)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case <-attached:
	case <-time.After(2 * time.Second):
		t.Fatal("feed client was not attached")
	}
	return conn
}

func readFeed(t *testing.T, conn *websocket.Conn) notification.FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg notification.FeedMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestRentalFeedDeliversToOwner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewRentalFeed(testLogger)
	go feed.Run(ctx)

	rider := uuid.New()
	conn := dialFeed(t, feed, rider)

	other := newEvent(notification.EventRentalStarted, uuid.New(), uuid.New(), uuid.New(), at(10, 0))
	feed.Broadcast(other.UserID, notification.NewFeedMessage(other))

	evt := newEvent(notification.EventRentalPaused, rider, uuid.New(), uuid.New(), at(10, 5))
	evt.Body = "Bike locked"
	feed.Broadcast(rider, notification.NewFeedMessage(evt))

	msg := readFeed(t, conn)
	assert.Equal(t, notification.EventRentalPaused, msg.Type)
	assert.Equal(t, evt.RentalID, msg.RentalID)
	assert.Equal(t, "Bike locked", msg.Message)
}

func TestRentalFeedClosesConnectionsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	feed := NewRentalFeed(testLogger)
	stopped := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(stopped)
	}()

	conn := dialFeed(t, feed, uuid.New())
	cancel()
	<-stopped

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Broadcasting on a stopped feed is a no-op.
	feed.Broadcast(uuid.New(), notification.FeedMessage{Type: notification.EventRentalStarted})
}
