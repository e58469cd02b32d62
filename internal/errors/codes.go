package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig     ErrorCode = "invalid_configuration"
	ErrBindFlags         ErrorCode = "bind_flags_failed"
	ErrReadConfig        ErrorCode = "read_config_failed"
	ErrInvalidWindowSize ErrorCode = "invalid_window_size"
	ErrInvalidPeriod     ErrorCode = "invalid_sample_period"
	ErrInvalidDriver     ErrorCode = "invalid_driver"
	ErrMissingPeerURL    ErrorCode = "missing_peer_url"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Acquisition errors
	ErrDeviceUnavailable ErrorCode = "device_unavailable"
	ErrDriverConfig      ErrorCode = "driver_config_failed"
	ErrPersistence       ErrorCode = "persistence_failed"
	ErrChannel           ErrorCode = "channel_failed"

	// Session errors
	ErrSessionActive  ErrorCode = "session_active"
	ErrNoSession      ErrorCode = "no_session"
	ErrInvalidCommand ErrorCode = "invalid_command"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrUnavailable:       "Service unavailable",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrInvalidConfig:     "Invalid configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrReadConfig:        "Failed to read config file",
	ErrInvalidWindowSize: "Window size must be positive",
	ErrInvalidPeriod:     "Sample period must be positive",
	ErrInvalidDriver:     "Unknown instrument driver",
	ErrMissingPeerURL:    "Peer URL is required",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrDeviceUnavailable: "Instrument unavailable",
	ErrDriverConfig:      "Instrument driver operation failed",
	ErrPersistence:       "Failed to persist measurement",
	ErrChannel:           "Command channel failure",
	ErrSessionActive:     "A measurement session is already active",
	ErrNoSession:         "No measurement session is active",
	ErrInvalidCommand:    "Invalid command message",
	ErrTimeout:           "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
