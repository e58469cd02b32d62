package device

import (
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/errors"
)

// Simulator is a backend whose input channel sees its own sine output, as if
// the waveform generator were wired to the scope input. The signal phase is
// continuous across reads.
type Simulator struct {
	now func() time.Time

	mu         sync.Mutex
	open       bool
	frequency  float64
	amplitude  float64
	offset     float64
	sampleRate float64
	inputRange float64
	bufferSize int
	startedAt  time.Time
	running    bool
	outputOn   bool
}

// NewSimulator returns a simulator driven by the given clock.
func NewSimulator(now func() time.Time) *Simulator {
	return &Simulator{now: now}
}

func (s *Simulator) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *Simulator) ConfigureOutput(frequency, amplitude, offset float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return errors.New().New(ErrNotOpen)
	}
	s.frequency = frequency
	s.amplitude = amplitude
	s.offset = offset
	s.outputOn = true
	return nil
}

func (s *Simulator) ConfigureInput(sampleRate, inputRange float64, bufferSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return errors.New().New(ErrNotOpen)
	}
	s.sampleRate = sampleRate
	s.inputRange = inputRange
	s.bufferSize = bufferSize
	return nil
}

func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return errors.New().New(ErrNotOpen)
	}
	s.startedAt = s.now()
	s.running = true
	return nil
}

// SamplesValid reports how many samples the scan buffer holds; once the
// buffer has filled it stays full.
func (s *Simulator) SamplesValid() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return 0, errors.New().New(ErrNotConfigured)
	}
	elapsed := s.now().Sub(s.startedAt).Seconds()
	valid := int(elapsed * s.sampleRate)
	if valid > s.bufferSize {
		valid = s.bufferSize
	}
	return valid, nil
}

// Read fills buf with the most recent len(buf) samples, oldest first.
func (s *Simulator) Read(buf []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return errors.New().New(ErrNotConfigured)
	}

	end := s.now().Sub(s.startedAt).Seconds()
	n := len(buf)
	for i := range buf {
		t := end - float64(n-1-i)/s.sampleRate
		buf[i] = s.sample(t)
	}
	return nil
}

func (s *Simulator) sample(t float64) float64 {
	if !s.outputOn {
		return 0
	}
	v := s.offset + s.amplitude*math.Sin(2*math.Pi*s.frequency*t)
	if s.inputRange > 0 {
		limit := s.inputRange / 2
		v = math.Max(-limit, math.Min(limit, v))
	}
	return v
}

func (s *Simulator) StopOutput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputOn = false
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.running = false
	return nil
}
