// Package transport keeps one logical connection to a relay endpoint alive:
// it reconnects on abnormal close, queues frames while offline and sends a
// heartbeat while open.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Close codes, as defined for websocket close frames.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

var (
	ErrEmptyUserID = errors.New("transport: user id is required")
	ErrClosed      = errors.New("transport: connection closed")
)

var pingFrame = []byte(`{"type":"ping"}`)

// Role is the identity role supplied by the identity provider.
type Role string

const (
	RoleUser   Role = "user"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

// Identity is who the connection speaks for.
type Identity struct {
	UserID string
	Role   Role
	// Token is passed to the relay when set.
	Token string
}

type Config struct {
	ReconnectInterval    time.Duration `json:"reconnect_interval" yaml:"reconnect_interval" mapstructure:"reconnect_interval"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
}

func DefaultConfig() Config {
	return Config{
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 5,
		HeartbeatInterval:    30 * time.Second,
	}
}

// Status is the lifecycle state of a Connection.
type Status int32

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusReconnecting
	// StatusDisconnected follows a normal close from the remote side.
	StatusDisconnected
	// StatusFailed means the reconnect ceiling was hit. Only an explicit
	// Connect leaves it.
	StatusFailed
	// StatusClosed is terminal.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusReconnecting:
		return "reconnecting"
	case StatusDisconnected:
		return "disconnected"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Connected reports whether frames are written straight to the socket.
func (s Status) Connected() bool {
	return s == StatusOpen
}

// Socket is one underlying full-duplex connection. Read is only called from
// a single goroutine and Write is never called concurrently.
type Socket interface {
	Read() ([]byte, error)
	Write(frame []byte) error
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, url string, id Identity) (Socket, error)
}

// CloseError is returned by Socket.Read when the peer sent a close frame.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("transport: closed with code %d %s", e.Code, e.Text)
}

// IsNormalClose reports whether err is a close with code 1000.
func IsNormalClose(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == CloseNormal
}

// FatalError is published once when reconnecting gives up.
type FatalError struct {
	Attempts int
	Dropped  int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("transport: giving up after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
