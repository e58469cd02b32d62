package config

import "time"

// Provider defines the interface for accessing configuration values.
// All configuration values are immutable after initial loading.
type Provider interface {
	// GetPeerURL returns the websocket URL of the control peer
	GetPeerURL() string

	// GetRecordDir returns the directory session logs are written below
	GetRecordDir() string

	// GetDriver returns the instrument backend name
	GetDriver() string

	// GetWindowSize returns the number of samples per window
	GetWindowSize() int

	// GetSamplePeriod returns the pacing interval between window polls
	GetSamplePeriod() time.Duration

	// GetLogLevel returns the configured logging level
	GetLogLevel() string

	// IsHistoryEnabled returns whether session history is recorded
	IsHistoryEnabled() bool

	// IsArchiveEnabled returns whether finished logs are archived
	IsArchiveEnabled() bool
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// Driver names accepted by the device factory.
const (
	DriverSim = "sim"
	DriverDWF = "dwf"
)

func (c *Config) GetPeerURL() string             { return c.PeerURL }
func (c *Config) GetRecordDir() string           { return c.RecordDir }
func (c *Config) GetDriver() string              { return c.Driver }
func (c *Config) GetWindowSize() int             { return c.WindowSize }
func (c *Config) GetSamplePeriod() time.Duration { return c.SamplePeriod }
func (c *Config) GetLogLevel() string            { return c.LogLevel }
func (c *Config) IsHistoryEnabled() bool         { return c.History }
func (c *Config) IsArchiveEnabled() bool         { return c.Archive }
