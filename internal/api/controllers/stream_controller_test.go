package controllers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gridsense/pdmon/internal/api/controllers"
	"github.com/gridsense/pdmon/internal/api/middleware"
	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/events"
	"github.com/gridsense/pdmon/internal/stream"
	"github.com/gridsense/pdmon/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamController(t *testing.T) {
	// Setup test environment
	ts := testutil.NewTestSetup(t)
	hub := stream.NewHub(ts.Logger)

	group := ts.Router.Group("/api/v1")
	group.Use(middleware.NewAuthMiddleware(&ts.Config.JWT).RequireAuth())
	controllers.NewStreamController(hub, ts.Logger).RegisterRoutes(group)

	srv := httptest.NewServer(ts.Router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	token := ts.CreateTestAuthToken("viewer", models.RoleViewer)

	t.Run("Should reject a handshake without a token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Should stream events with a header token", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer " + token}}
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
		require.NoError(t, hub.PublishAlarm(&events.AlarmEvent{PointCode: "KKS-A", Level: 4}))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg stream.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, stream.MessageTypeAlarm, msg.Type)
		assert.Equal(t, "KKS-A", msg.Topic)

		conn.Close()
		require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("Should accept the token as a query parameter", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(url+"?access_token="+token, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	})
}
