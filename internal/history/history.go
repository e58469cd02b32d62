package history

import (
	"context"

	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/logger"
	"codeberg.org/mutker/ad2ctl/internal/stats"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopCollector struct{}

// NewService returns a Collector writing to SQLite, or a no-op collector
// when history is disabled.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Session history disabled, using no-op collector")
		return Noop(), nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create history repository")
		return nil, err
	}

	return NewServiceWithRepository(repo, cfg), nil
}

// NewServiceWithRepository returns a Collector over an existing repository.
func NewServiceWithRepository(repo Repository, cfg Config) Collector {
	return &service{
		repo: repo,
		cfg:  cfg,
	}
}

func (s *service) BeginSession(ctx context.Context, session *Session) error {
	errFactory := errors.New()

	if session == nil || session.ID == "" {
		return errFactory.New(ErrInvalidSession)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.InsertSession(session)
	}
}

func (s *service) RecordWindow(sessionID string, seq int, w stats.Window) error {
	if sessionID == "" {
		return errors.New().New(ErrInvalidSession)
	}

	return s.repo.AppendWindow(windowRecord(sessionID, seq, w))
}

func (s *service) EndSession(ctx context.Context, sessionID string, end *SessionEnd) error {
	errFactory := errors.New()

	if sessionID == "" || end == nil {
		return errFactory.New(ErrInvalidSession)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.FinishSession(sessionID, end)
	}
}

func (s *service) Close() error {
	return s.repo.Close()
}

// Noop returns a Collector that records nothing.
func Noop() Collector {
	return &noopCollector{}
}

func (*noopCollector) BeginSession(context.Context, *Session) error { return nil }

func (*noopCollector) RecordWindow(string, int, stats.Window) error { return nil }

func (*noopCollector) EndSession(context.Context, string, *SessionEnd) error { return nil }

func (*noopCollector) Close() error { return nil }

// Mirror binds a Collector to one session so it can receive that session's
// windows from the log sink.
type Mirror struct {
	collector Collector
	sessionID string
}

func NewMirror(c Collector, sessionID string) *Mirror {
	return &Mirror{collector: c, sessionID: sessionID}
}

func (m *Mirror) RecordWindow(seq int, w stats.Window) error {
	return m.collector.RecordWindow(m.sessionID, seq, w)
}
