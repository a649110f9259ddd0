package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *EventHub, companyID uint) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, companyID, 1); err != nil {
			t.Logf("serve: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *EventHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.GetClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventHub_DeliversOnlyToCompany(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	hub := NewEventHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	mine := dialHub(t, hub, 1)
	theirs := dialHub(t, hub, 2)
	waitForClients(t, hub, 2)

	hub.Publish(1, EventTicketCreated, map[string]int{"id": 7})

	var ev Event
	mine.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, mine.ReadJSON(&ev))
	assert.Equal(t, EventTicketCreated, ev.Type)
	assert.Equal(t, uint(1), ev.CompanyID)

	theirs.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	err := theirs.ReadJSON(&ev)
	assert.Error(t, err, "other company must not receive the event")
}

func TestEventHub_StopClosesClients(t *testing.T) {
	hub := NewEventHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn := dialHub(t, hub, 1)
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestEventHub_PublishNilSafe(t *testing.T) {
	var hub *EventHub
	assert.NotPanics(t, func() { hub.Publish(1, EventTicketUpdated, nil) })
}
