package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	handshakeTimeout = 10 * time.Second
)

// WebsocketDialer dials the relay with gorilla/websocket. The identity token,
// when set, is sent both as a bearer header and as the token query value.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string, id Identity) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	header := http.Header{}
	for k, v := range d.Header {
		header[k] = v
	}
	if id.Token != "" {
		q := u.Query()
		q.Set("token", id.Token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+id.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (http %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Read() ([]byte, error) {
	_, message, err := s.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Text: ce.Text}
		}
		return nil, err
	}
	return message, nil
}

func (s *wsSocket) Write(frame []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsSocket) Close(code int, reason string) error {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	if code == CloseAbnormal {
		// 1006 must not be sent on the wire.
		msg = websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return s.conn.Close()
}
