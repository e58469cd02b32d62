package control

import (
	"context"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/acquisition"
	"codeberg.org/mutker/ad2ctl/internal/device"
	"codeberg.org/mutker/ad2ctl/internal/sink"
)

// Session is one START to STOP acquisition run. It exclusively owns its
// device and its log until the controller tears it down.
type Session struct {
	ID        string
	Frequency float64
	Tag       string
	LogPath   string
	StartedAt time.Time

	device   device.Device
	sink     *sink.Sink
	engine   *acquisition.Engine
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	recorded bool
}

// Done is closed when the session's engine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the engine's terminal error. Only valid after Done is closed.
func (s *Session) Err() error {
	return s.err
}

// Windows returns the number of windows recorded and emitted so far.
func (s *Session) Windows() int {
	if s.engine == nil {
		return 0
	}
	return s.engine.Windows()
}
