package control

import "codeberg.org/mutker/ad2ctl/internal/errors"

const (
	ErrSessionActive     = errors.ErrSessionActive
	ErrNoSession         = errors.ErrNoSession
	ErrInvalidCommand    = errors.ErrInvalidCommand
	ErrDeviceUnavailable = errors.ErrDeviceUnavailable
	ErrChannel           = errors.ErrChannel
)
