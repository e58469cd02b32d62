package acquisition_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/acquisition"
	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTicker struct {
	ch      chan time.Time
	stopped bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() { m.stopped = true }

func (m *manualTicker) factory(time.Duration) acquisition.Ticker { return m }

type countingSource struct {
	n   int
	err error
}

func (s *countingSource) PollWindow() ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.n++
	v := float64(s.n)
	return []float64{v, v, v, v}, nil
}

type eventSink struct {
	mu        sync.Mutex
	events    []string
	recordErr error
	emitErr   error
}

func (s *eventSink) Record(w stats.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.events = append(s.events, fmt.Sprintf("record:%g", w.DCOffset))
	return nil
}

func (s *eventSink) Emit(w stats.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emitErr != nil {
		return s.emitErr
	}
	s.events = append(s.events, fmt.Sprintf("emit:%g", w.DCRMS))
	return nil
}

func (s *eventSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func runAsync(ctx context.Context, e *acquisition.Engine) <-chan error {
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
		return nil
	}
}

func TestRunProcessesWindowsInOrder(t *testing.T) {
	ticker := &manualTicker{ch: make(chan time.Time)}
	sink := &eventSink{}
	e := acquisition.New(&countingSource{}, sink, time.Millisecond, acquisition.WithTicker(ticker.factory))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, e)

	for i := 0; i < 3; i++ {
		ticker.ch <- time.Now()
	}
	cancel()
	require.NoError(t, wait(t, done))

	assert.Equal(t, []string{
		"record:1", "emit:1",
		"record:2", "emit:2",
		"record:3", "emit:3",
	}, sink.snapshot())
	assert.Equal(t, 3, e.Windows())
	assert.Equal(t, acquisition.Stopped, e.State())
	assert.True(t, ticker.stopped)
}

func TestCancellationWinsOverReadyTick(t *testing.T) {
	for i := 0; i < 50; i++ {
		ticker := &manualTicker{ch: make(chan time.Time, 1)}
		ticker.ch <- time.Now()
		sink := &eventSink{}
		e := acquisition.New(&countingSource{}, sink, time.Millisecond, acquisition.WithTicker(ticker.factory))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.NoError(t, e.Run(ctx))
		assert.Empty(t, sink.snapshot())
	}
}

func TestPollErrorStopsLoop(t *testing.T) {
	ticker := &manualTicker{ch: make(chan time.Time, 1)}
	ticker.ch <- time.Now()
	sink := &eventSink{}
	e := acquisition.New(&countingSource{err: stderrors.New("usb gone")}, sink, time.Millisecond,
		acquisition.WithTicker(ticker.factory))

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrDriverConfig, errors.CodeOf(err))
	assert.Empty(t, sink.snapshot())
}

func TestRecordErrorSkipsEmit(t *testing.T) {
	ticker := &manualTicker{ch: make(chan time.Time, 1)}
	ticker.ch <- time.Now()
	sink := &eventSink{recordErr: errors.New().New(errors.ErrPersistence)}
	e := acquisition.New(&countingSource{}, sink, time.Millisecond, acquisition.WithTicker(ticker.factory))

	err := e.Run(context.Background())
	assert.Equal(t, errors.ErrPersistence, errors.CodeOf(err))
	assert.Empty(t, sink.snapshot())
	assert.Equal(t, 0, e.Windows())
}

func TestEmitErrorStopsLoop(t *testing.T) {
	ticker := &manualTicker{ch: make(chan time.Time, 1)}
	ticker.ch <- time.Now()
	sink := &eventSink{emitErr: errors.New().New(errors.ErrChannel)}
	e := acquisition.New(&countingSource{}, sink, time.Millisecond, acquisition.WithTicker(ticker.factory))

	err := e.Run(context.Background())
	assert.Equal(t, errors.ErrChannel, errors.CodeOf(err))
	assert.Equal(t, []string{"record:1"}, sink.snapshot())
	assert.Equal(t, 0, e.Windows())
}

func TestRunTwiceConcurrently(t *testing.T) {
	ticker := &manualTicker{ch: make(chan time.Time)}
	e := acquisition.New(&countingSource{}, &eventSink{}, time.Millisecond, acquisition.WithTicker(ticker.factory))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, e)

	// the first tick is only accepted once the loop is running
	ticker.ch <- time.Now()
	assert.Equal(t, acquisition.Running, e.State())
	assert.Error(t, e.Run(ctx))

	cancel()
	require.NoError(t, wait(t, done))
}

func TestClockTimestamps(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ticker := &manualTicker{ch: make(chan time.Time, 1)}
	ticker.ch <- time.Now()

	var got []stats.Window
	sink := &funcSink{record: func(w stats.Window) error {
		got = append(got, w)
		return errors.New().New(errors.ErrPersistence)
	}}
	e := acquisition.New(&countingSource{}, sink, time.Millisecond,
		acquisition.WithTicker(ticker.factory), acquisition.WithClock(func() time.Time { return ts }))

	require.Error(t, e.Run(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, ts, got[0].Timestamp)
}

func TestRealTicker(t *testing.T) {
	sink := &eventSink{}
	e := acquisition.New(&countingSource{}, sink, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, e.Run(ctx))
	assert.Equal(t, e.Windows()*2, len(sink.snapshot()))
}

type funcSink struct {
	record func(stats.Window) error
}

func (s *funcSink) Record(w stats.Window) error { return s.record(w) }

func (s *funcSink) Emit(stats.Window) error { return nil }
