package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebsocketDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	tokens := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token") + "|" + r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "bye" {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
			conn.WriteMessage(mt, append([]byte("echo:"), msg...))
		}
	}))
	defer srv.Close()

	c := New(Options{
		Name:   "ws",
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Config: DefaultConfig(),
		Logger: zap.NewNop().Sugar(),
	})
	defer c.Disconnect()

	got := make(chan string, 4)
	c.OnMessage(func(frame []byte) { got <- string(frame) })

	require.NoError(t, c.Connect(context.Background(), Identity{UserID: "bob", Token: "tk"}))
	assert.Equal(t, "tk|Bearer tk", <-tokens)

	require.True(t, c.Send([]byte("hi")))
	assert.Equal(t, "echo:hi", <-got)

	require.True(t, c.Send([]byte("bye")))
	require.Eventually(t, func() bool { return c.Status() == StatusDisconnected }, waitFor, tick)
}

func TestWebsocketDialerFailure(t *testing.T) {
	d := &WebsocketDialer{}
	_, err := d.Dial(context.Background(), "ws://127.0.0.1:1/ws", Identity{UserID: "bob"})
	assert.Error(t, err)
}
