// Package control implements the command state machine that turns peer
// START and STOP commands into acquisition sessions.
package control

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/acquisition"
	"codeberg.org/mutker/ad2ctl/internal/archive"
	"codeberg.org/mutker/ad2ctl/internal/device"
	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/history"
	"codeberg.org/mutker/ad2ctl/internal/logger"
	"codeberg.org/mutker/ad2ctl/internal/sink"
	"codeberg.org/mutker/ad2ctl/internal/transport"
	"github.com/google/uuid"
)

// State of the controller.
type State int32

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Conn is the command channel to the control peer.
type Conn interface {
	ReadCommand() (transport.Command, error)
	Reply(text string) error
	SendTelemetry(t transport.Telemetry) error
}

// DeviceFactory returns an unopened device for a new session.
type DeviceFactory func() (device.Device, error)

// Config holds the per-session settings that do not come from the peer.
type Config struct {
	RecordDir    string
	SamplePeriod time.Duration
	// Settings is copied for every session; Frequency is taken from START.
	Settings device.Settings
}

type Option func(*Controller)

// WithHistory records session lifecycle and windows in c.
func WithHistory(c history.Collector) Option {
	return func(ctl *Controller) {
		ctl.history = c
	}
}

// WithArchiver archives each finished session log with a.
func WithArchiver(a archive.Archiver) Option {
	return func(ctl *Controller) {
		ctl.archiver = a
	}
}

// WithTicker sets the pacing ticker used by session engines.
func WithTicker(factory acquisition.TickerFactory) Option {
	return func(ctl *Controller) {
		ctl.newTicker = factory
	}
}

// WithClock sets the time source for log names and window timestamps.
func WithClock(now func() time.Time) Option {
	return func(ctl *Controller) {
		ctl.now = now
	}
}

// Controller owns at most one Session at a time. All methods except State
// and Session must be called from a single goroutine, normally Run.
type Controller struct {
	conn      Conn
	newDevice DeviceFactory
	cfg       Config
	history   history.Collector
	archiver  archive.Archiver
	newTicker acquisition.TickerFactory
	now       func() time.Time

	state   atomic.Int32
	mu      sync.Mutex
	session *Session
}

func New(conn Conn, newDevice DeviceFactory, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		conn:      conn,
		newDevice: newDevice,
		cfg:       cfg,
		history:   history.Noop(),
		archiver:  archive.New(false),
		newTicker: acquisition.NewTimeTicker,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports whether a session is active.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Session returns the active session, or nil when idle.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	if s != nil {
		c.state.Store(int32(Active))
	} else {
		c.state.Store(int32(Idle))
	}
}

// Handle applies one decoded command.
func (c *Controller) Handle(ctx context.Context, cmd transport.Command) error {
	switch cmd.Kind {
	case transport.CommandStart:
		return c.Start(ctx, cmd.Frequency, cmd.Filename)
	case transport.CommandStop:
		return c.Stop(ctx)
	default:
		logger.Warn().Str("status", cmd.Status).Msg("Ignoring unknown command")
		return nil
	}
}

// Start opens and configures the device, opens the session log, replies
// "measuring" and starts the acquisition engine. A START while a session is
// active is rejected with ErrSessionActive and changes nothing.
func (c *Controller) Start(ctx context.Context, frequency float64, tag string) error {
	errFactory := errors.New()

	if c.Session() != nil {
		err := errFactory.WithData(ErrSessionActive, struct {
			Frequency float64
			Tag       string
		}{
			Frequency: frequency,
			Tag:       tag,
		})
		logger.Warn().Float64("frequency", frequency).Str("tag", tag).Msg("Session already active, ignoring START")
		return err
	}

	if frequency <= 0 {
		return errFactory.WithData(ErrInvalidCommand, "frequency must be positive")
	}

	startedAt := c.now()
	s := &Session{
		ID:        uuid.NewString(),
		Frequency: frequency,
		Tag:       tag,
		LogPath:   LogPath(c.cfg.RecordDir, startedAt, frequency, tag),
		StartedAt: startedAt,
		done:      make(chan struct{}),
	}

	dev, err := c.newDevice()
	if err != nil {
		return ensureCode(err, ErrDeviceUnavailable)
	}
	if err := dev.Open(); err != nil {
		return ensureCode(err, ErrDeviceUnavailable)
	}
	s.device = dev

	settings := c.cfg.Settings
	settings.Frequency = frequency
	if err := dev.Configure(settings); err != nil {
		c.closeDevice(s)
		return ensureCode(err, errors.ErrDriverConfig)
	}

	var opts []sink.Option
	if err := c.history.BeginSession(ctx, &history.Session{
		ID:        s.ID,
		StartedAt: s.StartedAt,
		Frequency: s.Frequency,
		Tag:       s.Tag,
		LogPath:   s.LogPath,
	}); err != nil {
		logger.Warn().Err(err).Str("session", s.ID).Msg("Failed to record session start in history")
	} else {
		s.recorded = true
		opts = append(opts, sink.WithMirror(history.NewMirror(c.history, s.ID)))
	}

	snk, err := sink.Open(s.LogPath, c.conn, opts...)
	if err != nil {
		c.closeDevice(s)
		c.endHistory(s, err)
		return err
	}
	s.sink = snk

	if err := c.conn.Reply(transport.ReplyMeasuring); err != nil {
		c.closeDevice(s)
		c.closeSink(s)
		c.endHistory(s, err)
		return ensureCode(err, ErrChannel)
	}

	s.engine = acquisition.New(dev, snk, c.cfg.SamplePeriod,
		acquisition.WithTicker(c.newTicker),
		acquisition.WithClock(c.now),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	c.setSession(s)

	go func() {
		defer close(s.done)
		s.err = s.engine.Run(runCtx)
	}()

	logger.Info().
		Str("session", s.ID).
		Float64("frequency", frequency).
		Str("path", s.LogPath).
		Msg("Measurement started")

	return nil
}

// Stop cancels the active session, waits for its engine to exit, releases
// the device and the log, and only then replies "measurement stopped". It
// returns the engine error, if any. A STOP while idle returns ErrNoSession.
func (c *Controller) Stop(ctx context.Context) error {
	s := c.Session()
	if s == nil {
		logger.Warn().Msg("No active session, ignoring STOP")
		return errors.New().New(ErrNoSession)
	}

	s.cancel()
	<-s.done

	err := c.teardown(ctx, s)

	if replyErr := c.conn.Reply(transport.ReplyStopped); replyErr != nil {
		err = errors.Join(err, ensureCode(replyErr, ErrChannel))
	}

	logger.Info().
		Str("session", s.ID).
		Int("windows", s.Windows()).
		Msg("Measurement stopped")

	c.archive(s)

	return err
}

// Run reads commands until ctx is canceled or the channel fails, tearing
// down an active session before returning. It returns nil on cancellation
// and the error otherwise; DeviceUnavailable from START also ends Run.
// The caller closes the connection to release the reader goroutine.
func (c *Controller) Run(ctx context.Context) error {
	cmds := make(chan transport.Command)
	readErrs := make(chan error, 1)

	go c.readLoop(ctx, cmds, readErrs)

	defer c.shutdown()

	logger.Info().Msg("Waiting for commands")

	for {
		var sessionDone <-chan struct{}
		if s := c.Session(); s != nil {
			sessionDone = s.done
		}

		select {
		case <-ctx.Done():
			return nil

		case err := <-readErrs:
			logError(err, "Command channel failed")
			return err

		case cmd := <-cmds:
			logger.Debug().Str("command", cmd.Kind.String()).Msg("Command received")
			if err := c.Handle(ctx, cmd); err != nil {
				if errors.HasCode(err, ErrDeviceUnavailable) {
					logError(err, "Instrument unavailable")
					return err
				}
				logError(err, "Command failed")
			}

		case <-sessionDone:
			c.fail(ctx)
		}
	}
}

func (c *Controller) readLoop(ctx context.Context, cmds chan<- transport.Command, errs chan<- error) {
	for {
		cmd, err := c.conn.ReadCommand()
		if err != nil {
			if errors.CodeOf(err) == ErrInvalidCommand {
				logger.Warn().Err(err).Msg("Ignoring malformed command")
				continue
			}
			errs <- err
			return
		}

		select {
		case cmds <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

// fail tears down a session whose engine exited on its own.
func (c *Controller) fail(ctx context.Context) {
	s := c.Session()
	if s == nil {
		return
	}

	err := c.teardown(ctx, s)
	logError(err, "Measurement aborted")

	c.archive(s)
}

// shutdown stops an active session without replying to the peer.
func (c *Controller) shutdown() {
	s := c.Session()
	if s == nil {
		return
	}

	s.cancel()
	<-s.done

	if err := c.teardown(context.Background(), s); err != nil {
		logError(err, "Session teardown failed")
	}

	c.archive(s)
}

// teardown releases the session's resources after its engine has exited
// and returns the controller to Idle.
func (c *Controller) teardown(ctx context.Context, s *Session) error {
	err := s.err

	if closeErr := c.closeDevice(s); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if closeErr := c.closeSink(s); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	c.endHistoryContext(ctx, s, s.err)

	c.setSession(nil)

	return err
}

func (c *Controller) closeDevice(s *Session) error {
	if s.device == nil {
		return nil
	}
	err := s.device.Close()
	if err != nil {
		logger.Warn().Err(err).Str("session", s.ID).Msg("Failed to close device")
	}
	return err
}

func (c *Controller) closeSink(s *Session) error {
	if s.sink == nil {
		return nil
	}
	err := s.sink.Close()
	if err != nil {
		logger.Warn().Err(err).Str("session", s.ID).Msg("Failed to close session log")
	}
	return err
}

func (c *Controller) endHistory(s *Session, cause error) {
	c.endHistoryContext(context.Background(), s, cause)
}

func (c *Controller) endHistoryContext(ctx context.Context, s *Session, cause error) {
	if !s.recorded {
		return
	}

	end := &history.SessionEnd{
		StoppedAt: c.now(),
		Windows:   s.Windows(),
	}
	if cause != nil {
		end.Err = cause.Error()
	}

	if err := c.history.EndSession(ctx, s.ID, end); err != nil {
		logger.Warn().Err(err).Str("session", s.ID).Msg("Failed to record session end in history")
	}
}

func (c *Controller) archive(s *Session) {
	out, err := c.archiver.Archive(s.LogPath, archive.Metadata{
		SessionID: s.ID,
		Frequency: s.Frequency,
		Tag:       s.Tag,
	})
	if err != nil {
		logger.Warn().Err(err).Str("path", s.LogPath).Msg("Failed to archive session log")
		return
	}
	if out != "" {
		logger.Debug().Str("path", out).Msg("Session log archived")
	}
}

// ensureCode wraps err with code unless it already carries an error code.
func ensureCode(err error, code errors.ErrorCode) error {
	if errors.CodeOf(err) != "" {
		return err
	}
	return errors.New().Wrap(code, err)
}

func logError(err error, msg string) {
	if err == nil {
		return
	}
	var coded errors.Error
	if errors.As(err, &coded) {
		logger.ErrorWithCode(coded).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}
