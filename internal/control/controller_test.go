package control_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/acquisition"
	"codeberg.org/mutker/ad2ctl/internal/archive"
	"codeberg.org/mutker/ad2ctl/internal/control"
	"codeberg.org/mutker/ad2ctl/internal/device"
	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/history"
	"codeberg.org/mutker/ad2ctl/internal/stats"
	"codeberg.org/mutker/ad2ctl/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var startTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

type readResult struct {
	cmd transport.Command
	err error
}

type fakeConn struct {
	mu       sync.Mutex
	events   []string
	reads    chan readResult
	replyErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult)}
}

func (f *fakeConn) ReadCommand() (transport.Command, error) {
	r, ok := <-f.reads
	if !ok {
		return transport.Command{}, errors.New().New(errors.ErrChannel)
	}
	return r.cmd, r.err
}

func (f *fakeConn) Reply(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.events = append(f.events, "reply:"+text)
	return nil
}

func (f *fakeConn) SendTelemetry(t transport.Telemetry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "telemetry")
	return nil
}

func (f *fakeConn) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeConn) count(event string) int {
	n := 0
	for _, e := range f.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

type fakeDevice struct {
	mu           sync.Mutex
	openErr      error
	configureErr error
	pollErr      error
	opened       int
	configured   int
	closed       int
	polls        int
	settings     device.Settings
}

func (d *fakeDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opened++
	return nil
}

func (d *fakeDevice) Configure(s device.Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configureErr != nil {
		return d.configureErr
	}
	d.configured++
	d.settings = s
	return nil
}

func (d *fakeDevice) PollWindow() ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls++
	if d.pollErr != nil {
		return nil, d.pollErr
	}
	return []float64{1, -1, 1, -1}, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {}

func (m *manualTicker) factory(time.Duration) acquisition.Ticker { return m }

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("engine did not consume tick")
	}
}

type fakeCollector struct {
	mu      sync.Mutex
	begun   []string
	windows int
	ended   map[string]*history.SessionEnd
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{ended: make(map[string]*history.SessionEnd)}
}

func (f *fakeCollector) BeginSession(_ context.Context, s *history.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun = append(f.begun, s.ID)
	return nil
}

func (f *fakeCollector) RecordWindow(string, int, stats.Window) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows++
	return nil
}

func (f *fakeCollector) EndSession(_ context.Context, id string, end *history.SessionEnd) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended[id] = end
	return nil
}

func (f *fakeCollector) Close() error { return nil }

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeArchiver) Archive(path string, _ archive.Metadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return "", nil
}

type fixture struct {
	conn      *fakeConn
	dev       *fakeDevice
	ticker    *manualTicker
	dir       string
	factories int
	ctl       *control.Controller
}

func newFixture(t *testing.T, opts ...control.Option) *fixture {
	t.Helper()

	f := &fixture{
		conn:   newFakeConn(),
		dev:    &fakeDevice{},
		ticker: newManualTicker(),
		dir:    t.TempDir(),
	}

	cfg := control.Config{
		RecordDir:    f.dir,
		SamplePeriod: 100 * time.Millisecond,
		Settings: device.Settings{
			Amplitude:  5,
			InputRange: 50,
			WindowSize: 4,
			SampleRate: 40,
		},
	}

	factory := func() (device.Device, error) {
		f.factories++
		return f.dev, nil
	}

	opts = append([]control.Option{
		control.WithTicker(f.ticker.factory),
		control.WithClock(func() time.Time { return startTime }),
	}, opts...)

	f.ctl = control.New(f.conn, factory, cfg, opts...)
	t.Cleanup(func() { close(f.conn.reads) })

	return f
}

func (f *fixture) logFiles(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(f.dir, "record*", "*.csv"))
	require.NoError(t, err)
	return files
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestStartThenStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, 1000, "t1"))
	assert.Equal(t, control.Active, f.ctl.State())

	s := f.ctl.Session()
	require.NotNil(t, s)
	assert.NotEmpty(t, s.ID)
	assert.InDelta(t, 1000, f.dev.settings.Frequency, 0)
	assert.InDelta(t, 5, f.dev.settings.Amplitude, 0)

	require.NoError(t, f.ctl.Stop(ctx))
	assert.Equal(t, control.Idle, f.ctl.State())
	assert.Nil(t, f.ctl.Session())

	files := f.logFiles(t)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(f.dir, "record20240501", "record_20240501_120000_1000Hz_t1.csv"), files[0])
	assert.Equal(t, "timestamp,dc,ACRMS[V],DCRMS[V]", readLines(t, files[0])[0])

	assert.Equal(t, 1, f.dev.closeCount())
	assert.Equal(t, []string{"reply:measuring", "reply:measurement stopped"}, f.conn.snapshot())
}

func TestStopRepliesAfterLastWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, 1000, "t1"))
	s := f.ctl.Session()

	for i := 0; i < 3; i++ {
		f.ticker.tick(t)
	}
	require.NoError(t, f.ctl.Stop(ctx))

	events := f.conn.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, "reply:measuring", events[0])
	assert.Equal(t, "reply:measurement stopped", events[len(events)-1])

	telemetry := f.conn.count("telemetry")
	assert.GreaterOrEqual(t, telemetry, 2)
	assert.Equal(t, s.Windows(), telemetry)

	lines := readLines(t, f.logFiles(t)[0])
	assert.Len(t, lines, telemetry+1)
	assert.Equal(t, 1, f.dev.closeCount())
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, 1000, "t1"))
	first := f.ctl.Session()

	err := f.ctl.Start(ctx, 2000, "t2")
	assert.Equal(t, control.ErrSessionActive, errors.CodeOf(err))
	assert.Same(t, first, f.ctl.Session())
	assert.Equal(t, 1, f.factories)
	assert.Equal(t, 1, f.conn.count("reply:measuring"))

	require.NoError(t, f.ctl.Stop(ctx))
	assert.Len(t, f.logFiles(t), 1)
}

func TestStopWhileIdle(t *testing.T) {
	f := newFixture(t)

	err := f.ctl.Stop(context.Background())
	assert.Equal(t, control.ErrNoSession, errors.CodeOf(err))
	assert.Empty(t, f.conn.snapshot())
	assert.Equal(t, control.Idle, f.ctl.State())
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture)
		want       errors.ErrorCode
		wantClosed int
	}{
		{
			name:  "open fails",
			setup: func(f *fixture) { f.dev.openErr = os.ErrNotExist },
			want:  control.ErrDeviceUnavailable,
		},
		{
			name: "configure fails",
			setup: func(f *fixture) {
				f.dev.configureErr = errors.New().New(errors.ErrDriverConfig)
			},
			want:       errors.ErrDriverConfig,
			wantClosed: 1,
		},
		{
			name:       "reply fails",
			setup:      func(f *fixture) { f.conn.replyErr = os.ErrClosed },
			want:       control.ErrChannel,
			wantClosed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			err := f.ctl.Start(context.Background(), 1000, "t1")
			assert.Equal(t, tt.want, errors.CodeOf(err))
			assert.Equal(t, control.Idle, f.ctl.State())
			assert.Equal(t, tt.wantClosed, f.dev.closeCount())
			assert.Zero(t, f.conn.count("reply:measuring"))
		})
	}
}

func TestStartRejectsNonPositiveFrequency(t *testing.T) {
	f := newFixture(t)

	err := f.ctl.Start(context.Background(), 0, "t1")
	assert.Equal(t, control.ErrInvalidCommand, errors.CodeOf(err))
	assert.Zero(t, f.factories)
}

func TestSessionRecordedInHistory(t *testing.T) {
	collector := newFakeCollector()
	archiver := &fakeArchiver{}
	f := newFixture(t, control.WithHistory(collector), control.WithArchiver(archiver))
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, 1000, "t1"))
	s := f.ctl.Session()
	f.ticker.tick(t)
	f.ticker.tick(t)
	require.NoError(t, f.ctl.Stop(ctx))

	collector.mu.Lock()
	defer collector.mu.Unlock()
	assert.Equal(t, []string{s.ID}, collector.begun)
	require.Contains(t, collector.ended, s.ID)
	assert.Equal(t, s.Windows(), collector.ended[s.ID].Windows)
	assert.Equal(t, s.Windows(), collector.windows)
	assert.Empty(t, collector.ended[s.ID].Err)

	assert.Equal(t, []string{s.LogPath}, archiver.paths)
}

func runController(t *testing.T, f *fixture) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctl.Run(ctx) }()
	return cancel, done
}

func (f *fixture) send(t *testing.T, r readResult) {
	t.Helper()
	select {
	case f.conn.reads <- r:
	case <-time.After(time.Second):
		t.Fatal("controller did not read command")
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRunHandlesCommands(t *testing.T) {
	f := newFixture(t)
	cancel, done := runController(t, f)
	defer cancel()

	f.send(t, readResult{cmd: transport.Command{Kind: transport.CommandUnknown, Status: "PAUSE"}})
	f.send(t, readResult{err: errors.New().New(errors.ErrInvalidCommand)})
	f.send(t, readResult{cmd: transport.Command{Kind: transport.CommandStart, Status: "ON", Frequency: 1000, Filename: "t1"}})

	assert.Eventually(t, func() bool { return f.ctl.State() == control.Active }, time.Second, 5*time.Millisecond)
	f.ticker.tick(t)

	f.send(t, readResult{cmd: transport.Command{Kind: transport.CommandStop, Status: "OFF"}})
	assert.Eventually(t, func() bool {
		return f.conn.count("reply:measurement stopped") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, control.Idle, f.ctl.State())

	cancel()
	assert.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, f.dev.closeCount())
}

func TestRunTearsDownFailedSession(t *testing.T) {
	f := newFixture(t)
	f.dev.pollErr = errors.New().New(errors.ErrDriverConfig)
	cancel, done := runController(t, f)
	defer cancel()

	f.send(t, readResult{cmd: transport.Command{Kind: transport.CommandStart, Status: "ON", Frequency: 1000, Filename: "t1"}})
	assert.Eventually(t, func() bool { return f.ctl.State() == control.Active }, time.Second, 5*time.Millisecond)

	f.ticker.tick(t)
	assert.Eventually(t, func() bool { return f.ctl.State() == control.Idle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.dev.closeCount())
	assert.Zero(t, f.conn.count("reply:measurement stopped"))

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestRunCancelStopsActiveSession(t *testing.T) {
	f := newFixture(t)
	cancel, done := runController(t, f)

	f.send(t, readResult{cmd: transport.Command{Kind: transport.CommandStart, Status: "ON", Frequency: 1000, Filename: "t1"}})
	assert.Eventually(t, func() bool { return f.ctl.State() == control.Active }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
	assert.Equal(t, control.Idle, f.ctl.State())
	assert.Equal(t, 1, f.dev.closeCount())
}

func TestRunReturnsChannelError(t *testing.T) {
	f := newFixture(t)
	cancel, done := runController(t, f)
	defer cancel()

	f.send(t, readResult{cmd: transport.Command{Kind: transport.CommandStart, Status: "ON", Frequency: 1000, Filename: "t1"}})
	assert.Eventually(t, func() bool { return f.ctl.State() == control.Active }, time.Second, 5*time.Millisecond)

	f.send(t, readResult{err: errors.New().New(errors.ErrChannel)})
	err := waitDone(t, done)
	assert.Equal(t, control.ErrChannel, errors.CodeOf(err))
	assert.Equal(t, control.Idle, f.ctl.State())
	assert.Equal(t, 1, f.dev.closeCount())
}

func TestRunReturnsDeviceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.dev.openErr = os.ErrNotExist
	cancel, done := runController(t, f)
	defer cancel()

	f.send(t, readResult{cmd: transport.Command{Kind: transport.CommandStart, Status: "ON", Frequency: 1000, Filename: "t1"}})
	err := waitDone(t, done)
	assert.True(t, errors.HasCode(err, control.ErrDeviceUnavailable))
}
