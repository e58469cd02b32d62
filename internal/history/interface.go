package history

import (
	"context"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/stats"
)

// Collector records the lifecycle and windows of acquisition sessions.
type Collector interface {
	BeginSession(ctx context.Context, session *Session) error
	RecordWindow(sessionID string, seq int, w stats.Window) error
	EndSession(ctx context.Context, sessionID string, end *SessionEnd) error
	Close() error
}

// Repository defines the interface for session history storage
type Repository interface {
	InsertSession(session *Session) error
	AppendWindow(record *WindowRecord) error
	FinishSession(sessionID string, end *SessionEnd) error
	Sessions(ctx context.Context) ([]SessionSummary, error)
	Windows(ctx context.Context, sessionID string) ([]WindowRecord, error)
	Close() error
}

// Session describes a session at START.
type Session struct {
	ID        string
	StartedAt time.Time
	Frequency float64
	Tag       string
	LogPath   string
}

// SessionEnd describes how a session ended.
type SessionEnd struct {
	StoppedAt time.Time
	Windows   int
	Err       string
}

// SessionSummary is a stored session row.
type SessionSummary struct {
	Session
	StoppedAt time.Time
	Windows   int
	Err       string
}

// WindowRecord is a stored window row.
type WindowRecord struct {
	SessionID string
	Seq       int
	Window    stats.Window
}
