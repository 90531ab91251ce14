package main

import (
	"bytes"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nzlov/carewire/internal/transport"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client is a middleman between the websocket connection and the node.
type Client struct {
	node *Node

	cid uint64

	// authed is set when the socket presented a valid token; its identity
	// cannot be changed by register or join frames.
	authed bool
	id     transport.Identity

	log     *zap.SugaredLogger
	limiter *rate.Limiter

	// The websocket connection.
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	// Buffered channel of outbound messages.
	send chan []byte
}

func (c *Client) user() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id.UserID
}

func (c *Client) identity() transport.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// setIdentity binds the socket to id. A token-bound socket only accepts
// its own user.
func (c *Client) setIdentity(id transport.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authed {
		return id.UserID == c.id.UserID
	}
	if c.id.UserID != "" && c.id.UserID != id.UserID {
		return false
	}
	c.id.UserID = id.UserID
	if id.Role != "" {
		c.id.Role = id.Role
	}
	return true
}

// deliver queues data without blocking. A full buffer drops the frame.
func (c *Client) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.log.Warnw("send buffer full, frame dropped", "size", len(data))
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps messages from the websocket connection to the node.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.node.UnRegister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.node.cfg.Client.ReadMessageSizeLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnw("read", "error", err)
			}
			break
		}
		// any inbound frame proves the peer alive, including app-level pings
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.limiter != nil && !c.limiter.Allow() {
			countFrame("any", resultLimited)
			c.log.Warnw("rate limited, frame dropped", "size", len(message))
			continue
		}
		message = bytes.TrimSpace(bytes.ReplaceAll(message, newline, space))
		c.node.ClientHandler(c, message)
	}
}

// writePump pumps messages from the node to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The node closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warnw("write", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warnw("write ping", "error", err)
				return
			}
		}
	}
}
