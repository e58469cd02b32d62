package device

import (
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/logger"
)

const defaultPollInterval = time.Millisecond

// Instrument implements Device on top of a raw backend, tracking the
// open/configured state so the backend never sees calls out of order.
type Instrument struct {
	backend      backend
	name         string
	mu           sync.Mutex
	opened       bool
	configured   bool
	settings     Settings
	buf          []float64
	pollInterval time.Duration
	sleep        func(time.Duration)
}

// New returns an unopened instrument for the named backend ("sim" or "dwf").
func New(name string) (*Instrument, error) {
	errFactory := errors.New()

	switch name {
	case "sim":
		return newInstrument(name, NewSimulator(time.Now)), nil
	case "dwf":
		b, err := newDWFBackend()
		if err != nil {
			return nil, errFactory.Wrap(ErrDeviceUnavailable, err)
		}
		return newInstrument(name, b), nil
	default:
		return nil, errFactory.WithData(errors.ErrInvalidDriver, name)
	}
}

func newInstrument(name string, b backend) *Instrument {
	return &Instrument{
		backend:      b,
		name:         name,
		pollInterval: defaultPollInterval,
		sleep:        time.Sleep,
	}
}

func (d *Instrument) Open() error {
	errFactory := errors.New()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opened {
		return nil
	}

	if err := d.backend.Open(); err != nil {
		return errFactory.Wrap(ErrDeviceUnavailable, err)
	}

	d.opened = true
	logger.Debug().Str("driver", d.name).Msg("Instrument opened")

	return nil
}

func (d *Instrument) Configure(s Settings) error {
	errFactory := errors.New()
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened {
		return errFactory.New(ErrNotOpen)
	}
	if s.Frequency <= 0 || s.WindowSize <= 0 || s.SampleRate <= 0 {
		return errFactory.WithData(ErrInvalidSettings, fmt.Sprintf(
			"frequency=%g window=%d rate=%g", s.Frequency, s.WindowSize, s.SampleRate))
	}

	if err := d.backend.ConfigureOutput(s.Frequency, s.Amplitude, s.Offset); err != nil {
		return errFactory.Wrap(ErrDriverConfig, err)
	}
	if err := d.backend.ConfigureInput(s.SampleRate, s.InputRange, s.WindowSize); err != nil {
		return errFactory.Wrap(ErrDriverConfig, err)
	}

	d.sleep(s.SettleDelay)

	if err := d.backend.Start(); err != nil {
		return errFactory.Wrap(ErrDriverConfig, err)
	}

	d.settings = s
	d.buf = make([]float64, s.WindowSize)
	d.configured = true

	logger.Debug().
		Float64("frequency", s.Frequency).
		Float64("sample_rate", s.SampleRate).
		Int("window_size", s.WindowSize).
		Msg("Instrument configured")

	return nil
}

func (d *Instrument) PollWindow() ([]float64, error) {
	errFactory := errors.New()
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.configured {
		return nil, errFactory.New(ErrNotConfigured)
	}

	for {
		valid, err := d.backend.SamplesValid()
		if err != nil {
			return nil, errFactory.Wrap(ErrDriverConfig, err)
		}
		if valid >= d.settings.WindowSize {
			break
		}
		d.sleep(d.pollInterval)
	}

	if err := d.backend.Read(d.buf); err != nil {
		return nil, errFactory.Wrap(ErrDriverConfig, err)
	}

	window := make([]float64, len(d.buf))
	copy(window, d.buf)

	return window, nil
}

func (d *Instrument) Close() error {
	errFactory := errors.New()
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened {
		return nil
	}

	var errs []error
	if err := d.backend.StopOutput(); err != nil {
		errs = append(errs, err)
	}
	if err := d.backend.Close(); err != nil {
		errs = append(errs, err)
	}

	d.opened = false
	d.configured = false
	logger.Debug().Str("driver", d.name).Msg("Instrument closed")

	if len(errs) > 0 {
		return errFactory.Wrap(ErrCloseFailed, errors.Join(errs...))
	}

	return nil
}
