package acquisition

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/logger"
	"codeberg.org/mutker/ad2ctl/internal/stats"
)

// State of an engine.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Source yields one window of raw samples per call.
type Source interface {
	PollWindow() ([]float64, error)
}

// Sink consumes window statistics. Record is always called before Emit for
// the same window.
type Sink interface {
	Record(w stats.Window) error
	Emit(w stats.Window) error
}

type Option func(*Engine)

// WithTicker replaces the default time.Ticker based pacing.
func WithTicker(factory TickerFactory) Option {
	return func(e *Engine) {
		e.newTicker = factory
	}
}

// WithClock sets the timestamp source for window statistics.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine runs the sampling loop of one session.
type Engine struct {
	source    Source
	sink      Sink
	period    time.Duration
	newTicker TickerFactory
	now       func() time.Time

	state   atomic.Int32
	windows atomic.Int64
}

func New(source Source, sink Sink, period time.Duration, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		sink:      sink,
		period:    period,
		newTicker: NewTimeTicker,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State reports whether Run is in progress.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Windows returns the number of windows fully recorded and emitted.
func (e *Engine) Windows() int {
	return int(e.windows.Load())
}

// Run polls, computes, records and emits one window per tick until ctx is
// canceled. Cancellation is only observed between windows, so a window that
// has been polled is always recorded and emitted. Run returns nil after
// cancellation and the first error otherwise.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return errors.New().WithMessage(errors.ErrInvalidArgument, "engine already running")
	}
	defer e.state.Store(int32(Stopped))

	ticker := e.newTicker(e.period)
	defer ticker.Stop()

	logger.Debug().Dur("period", e.period).Msg("Acquisition loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Int("windows", e.Windows()).Msg("Acquisition loop stopped")
			return nil
		case <-ticker.C():
		}

		// a tick and cancellation may be ready together
		if ctx.Err() != nil {
			logger.Debug().Int("windows", e.Windows()).Msg("Acquisition loop stopped")
			return nil
		}

		if err := e.step(); err != nil {
			return err
		}
	}
}

func (e *Engine) step() error {
	samples, err := e.source.PollWindow()
	if err != nil {
		if errors.CodeOf(err) == "" {
			err = errors.New().Wrap(errors.ErrDriverConfig, err)
		}
		logger.Error().Err(err).Msg("Failed to poll window")
		return err
	}

	w := stats.ComputeAt(samples, e.now())

	if err := e.sink.Record(w); err != nil {
		logger.Error().Err(err).Msg("Failed to record window")
		return err
	}
	if err := e.sink.Emit(w); err != nil {
		logger.Error().Err(err).Msg("Failed to emit telemetry")
		return err
	}

	e.windows.Add(1)

	return nil
}
