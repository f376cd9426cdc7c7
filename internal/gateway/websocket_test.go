package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stafftrack/attendance-platform/internal/models"
)

func dialFeed(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws/attendance"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *FeedHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d feed clients, have %d", want, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFeedHub_BroadcastReachesAllClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewFeedHub()

	router := gin.New()
	router.GET("/ws/attendance", hub.Serve)
	server := httptest.NewServer(router)
	defer server.Close()

	first := dialFeed(t, server.URL)
	second := dialFeed(t, server.URL)
	waitForClients(t, hub, 2)

	sent := models.AttendanceFeedEvent{
		Direction:    models.DirectionIn,
		EmployeeName: "Maria Santos",
		EmployeeNo:   "EMP-001",
		DeviceID:     "GATE-1",
		Message:      "Welcome, Maria Santos!",
		EntryOrigin:  models.EntryOriginToken,
	}
	hub.Broadcast(sent)

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var received models.AttendanceFeedEvent
		require.NoError(t, conn.ReadJSON(&received))
		assert.Equal(t, "Maria Santos", received.EmployeeName)
		assert.Equal(t, models.DirectionIn, received.Direction)
	}
}

func TestFeedHub_DisconnectedClientIsRemoved(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewFeedHub()

	router := gin.New()
	router.GET("/ws/attendance", hub.Serve)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialFeed(t, server.URL)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}
