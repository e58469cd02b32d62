package device

import "codeberg.org/mutker/ad2ctl/internal/errors"

const (
	// Lifecycle Errors
	ErrDeviceUnavailable = errors.ErrDeviceUnavailable
	ErrNotOpen           = errors.ErrorCode("device_not_open")
	ErrNotConfigured     = errors.ErrorCode("device_not_configured")
	ErrCloseFailed       = errors.ErrorCode("device_close_failed")

	// Driver Errors
	ErrDriverConfig     = errors.ErrDriverConfig
	ErrInvalidSettings  = errors.ErrorCode("device_invalid_settings")
	ErrUnsupportedBuild = errors.ErrorCode("device_unsupported_build")
)
