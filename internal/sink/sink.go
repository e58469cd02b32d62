package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/logger"
	"codeberg.org/mutker/ad2ctl/internal/stats"
	"codeberg.org/mutker/ad2ctl/internal/transport"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	// TimestampLayout is the layout of the timestamp column.
	TimestampLayout = "2006-01-02 15:04:05.000000"
)

// Header is the first row of every session log.
var Header = []string{"timestamp", "dc", "ACRMS[V]", "DCRMS[V]"}

// Emitter delivers telemetry to the control peer.
type Emitter interface {
	SendTelemetry(t transport.Telemetry) error
}

// Mirror receives every window after it has been appended to the log.
type Mirror interface {
	RecordWindow(seq int, w stats.Window) error
}

type Option func(*Sink)

// WithMirror copies every recorded window to m. Mirror failures are logged
// and never fail Record.
func WithMirror(m Mirror) Option {
	return func(s *Sink) {
		s.mirror = m
	}
}

// Sink appends one row per window to the session log and forwards the
// window to the peer. It is used by a single acquisition goroutine.
type Sink struct {
	path    string
	file    *os.File
	writer  *csv.Writer
	emitter Emitter
	mirror  Mirror
	rows    int

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Open opens path for append, creating it and its directory as needed. The
// header row is written only when the file is empty.
func Open(path string, emitter Emitter, opts ...Option) (*Sink, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrOpenLog, err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenLog, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errFactory.Wrap(ErrOpenLog, err)
	}

	s := &Sink{
		path:    path,
		file:    file,
		writer:  csv.NewWriter(file),
		emitter: emitter,
	}
	for _, opt := range opts {
		opt(s)
	}

	if info.Size() == 0 {
		if err := s.writeRow(Header); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		logger.Warn().Str("path", path).Msg("Appending to existing session log")
	}

	logger.Debug().Str("path", path).Msg("Session log opened")

	return s, nil
}

// Path returns the log file path.
func (s *Sink) Path() string {
	return s.path
}

// Rows returns the number of data rows appended so far.
func (s *Sink) Rows() int {
	return s.rows
}

// Record appends w to the log and flushes it to the file.
func (s *Sink) Record(w stats.Window) error {
	if s.closed {
		return errors.New().New(ErrClosed)
	}

	if err := s.writeRow(formatRow(w)); err != nil {
		return err
	}
	s.rows++

	logger.Debug().
		Time("timestamp", w.Timestamp).
		Float64("dc", w.DCOffset).
		Float64("ac_rms", w.ACRMS).
		Float64("dc_rms", w.DCRMS).
		Msg("Window recorded")

	if s.mirror != nil {
		if err := s.mirror.RecordWindow(s.rows, w); err != nil {
			logger.Warn().Err(err).Int("seq", s.rows).Msg("Failed to mirror window")
		}
	}

	return nil
}

// Emit sends the window's RMS values to the peer.
func (s *Sink) Emit(w stats.Window) error {
	if err := s.emitter.SendTelemetry(transport.Telemetry{DCRMS: w.DCRMS, ACRMS: w.ACRMS}); err != nil {
		if errors.CodeOf(err) == ErrChannel {
			return err
		}
		return errors.New().Wrap(ErrChannel, err)
	}

	return nil
}

// Close syncs and closes the log. It is safe to call more than once.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		errFactory := errors.New()

		s.writer.Flush()
		if err := s.writer.Error(); err != nil {
			s.closeErr = errFactory.Wrap(ErrPersistence, err)
		}
		if err := s.file.Sync(); err != nil && s.closeErr == nil {
			s.closeErr = errFactory.Wrap(ErrPersistence, err)
		}
		if err := s.file.Close(); err != nil && s.closeErr == nil {
			s.closeErr = errFactory.Wrap(ErrPersistence, err)
		}

		logger.Debug().Str("path", s.path).Int("rows", s.rows).Msg("Session log closed")
	})

	return s.closeErr
}

func (s *Sink) writeRow(row []string) error {
	errFactory := errors.New()

	if err := s.writer.Write(row); err != nil {
		return errFactory.Wrap(ErrPersistence, err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return errFactory.Wrap(ErrPersistence, err)
	}

	return nil
}

func formatRow(w stats.Window) []string {
	return []string{
		w.Timestamp.Format(TimestampLayout),
		formatFloat(w.DCOffset),
		formatFloat(w.ACRMS),
		formatFloat(w.DCRMS),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
