package ws_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/router"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/transport/ws"
)

func TestHandler_RoundTrip(t *testing.T) {
	srv, hub := startServer(t)

	host := dial(t, srv)
	write(t, host, router.EventCreateSession, map[string]any{"hostIdentity": "h1", "quizIdentity": "q1"})

	created := readUntil(t, host, session.EventSessionCreated)
	code, _ := created.Data["sessionId"].(string)
	require.Len(t, code, 6)

	player := dial(t, srv)
	write(t, player, router.EventJoinSession, map[string]any{"sessionId": strings.ToLower(code), "playerName": "alice"})

	joined := readUntil(t, player, session.EventJoinedSuccess)
	assert.Equal(t, code, joined.Data["sessionId"])

	roster := readUntil(t, host, session.EventPlayerJoined)
	assert.Len(t, roster.Data["players"], 1)

	require.Eventually(t, func() bool { return len(hub.Members(code)) == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, player.Close())
	require.Eventually(t, func() bool { return len(hub.Members(code)) == 1 }, time.Second, 10*time.Millisecond,
		"a closed socket should leave the room")
}

func TestHandler_UnknownSession(t *testing.T) {
	srv, _ := startServer(t)

	c := dial(t, srv)
	write(t, c, router.EventJoinSession, map[string]any{"sessionId": "NOPE00", "playerName": "bob"})

	e := readUntil(t, c, session.EventError)
	assert.Equal(t, "Session not found", e.Data["message"])
}

func TestHandler_MalformedFrameKeepsConnection(t *testing.T) {
	srv, _ := startServer(t)

	c := dial(t, srv)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))

	write(t, c, router.EventCreateSession, map[string]any{"hostIdentity": "h1"})
	readUntil(t, c, session.EventSessionCreated)
}

type frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func startServer(t *testing.T) (*httptest.Server, *router.Hub) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	hub := router.NewHub()
	reg := session.NewRegistry(session.Config{Dispatcher: hub})
	rt := router.New(router.Config{Hub: hub, Registry: reg})

	e := gin.New()
	ws.NewHandler(rt, ws.Config{}).Register(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func write(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()

	require.NoError(t, c.WriteJSON(map[string]any{"event": event, "data": data}))
}

func readUntil(t *testing.T, c *websocket.Conn, event string) frame {
	t.Helper()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, c.ReadJSON(&f))
		if f.Event == event {
			return f
		}
	}
}
