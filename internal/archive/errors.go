package archive

import "codeberg.org/mutker/ad2ctl/internal/errors"

const (
	ErrReadLog      = errors.ErrorCode("archive_read_log_failed")
	ErrInvalidRow   = errors.ErrorCode("archive_invalid_row")
	ErrWriteArchive = errors.ErrorCode("archive_write_failed")
)
