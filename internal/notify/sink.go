package notify

import (
	"context"
	"io"

	"go.uber.org/zap"
)

// LogSink shows notifications as log lines. It always grants permission.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s *LogSink) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

func (s *LogSink) Show(_ context.Context, n Notification) error {
	log := s.Log
	if log == nil {
		log = zap.S()
	}
	log.Infow(n.Title, "body", n.Body, "kind", n.Kind, "id", n.ID)
	return nil
}

var bell = []byte{'\a'}

// BellPlayer rings the terminal bell.
type BellPlayer struct {
	W io.Writer
}

func (p *BellPlayer) Play(context.Context, Kind) error {
	_, err := p.W.Write(bell)
	return err
}
