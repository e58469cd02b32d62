package device

import "time"

// Device is the acquisition-side view of the instrument.
type Device interface {
	// Open acquires exclusive ownership of the instrument.
	Open() error

	// Configure programs the sine output and arms input channel 0 for
	// continuous scanning. It returns after the settle delay.
	Configure(settings Settings) error

	// PollWindow blocks until a full window of samples is available and
	// returns it in acquisition order.
	PollWindow() ([]float64, error)

	// Close disables the output and releases the instrument. Calling it
	// again is a no-op.
	Close() error
}

// Settings describes one acquisition configuration.
type Settings struct {
	Frequency   float64 // output sine frequency, Hz
	Amplitude   float64 // output amplitude, V
	Offset      float64 // output offset, V
	InputRange  float64 // input channel range, V
	WindowSize  int     // samples per window, also the input buffer size
	SampleRate  float64 // input sample rate, Hz
	SettleDelay time.Duration
}

// backend abstracts the raw instrument API for testing
type backend interface {
	Open() error
	ConfigureOutput(frequency, amplitude, offset float64) error
	ConfigureInput(sampleRate, inputRange float64, bufferSize int) error
	Start() error
	SamplesValid() (int, error)
	Read(buf []float64) error
	StopOutput() error
	Close() error
}
