package sink

import "codeberg.org/mutker/ad2ctl/internal/errors"

const (
	ErrPersistence = errors.ErrPersistence
	ErrChannel     = errors.ErrChannel
	ErrOpenLog     = errors.ErrorCode("sink_open_log_failed")
	ErrClosed      = errors.ErrorCode("sink_closed")
)
