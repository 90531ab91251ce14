// Package notify dispatches user-facing notifications to the platform alert
// surface, in-app handlers and a sound player.
package notify

import (
	"context"
	"time"
)

type Kind string

const (
	KindMessage    Kind = "message"
	KindReminder   Kind = "reminder"
	KindDiary      Kind = "diary"
	KindInactivity Kind = "inactivity"
	KindSystem     Kind = "system"
)

type Notification struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Timestamp time.Time      `json:"timestamp"`
	Read      bool           `json:"read"`
	Kind      Kind           `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
}

// AlertSink is the platform notification surface. Show is only called
// after RequestPermission granted access.
type AlertSink interface {
	RequestPermission(ctx context.Context) (bool, error)
	Show(ctx context.Context, n Notification) error
}

type SoundPlayer interface {
	Play(ctx context.Context, kind Kind) error
}
