// Package pid guards against a second daemon instance competing for the
// instrument.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/ad2ctl/internal/errors"
)

const (
	pidFile = "ad2ctl.pid"
)

// Path returns the default PID file location.
func Path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write writes the current process ID to the default PID file.
func Write() error {
	return WriteFile(Path())
}

// WriteFile writes the current process ID to path. It fails with
// ErrAlreadyRunning if path names a live process; a stale file is replaced.
func WriteFile(path string) error {
	errFactory := errors.New()

	if data, err := os.ReadFile(path); err == nil {
		if running(strings.TrimSpace(string(data))) {
			return errFactory.WithData(errors.ErrAlreadyRunning, path)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// running reports whether pid names a process that accepts signal 0.
func running(pid string) bool {
	n, err := strconv.Atoi(pid)
	if err != nil || n <= 0 {
		return false
	}

	process, err := os.FindProcess(n)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

// Remove removes the default PID file.
func Remove() error {
	return RemoveFile(Path())
}

// RemoveFile removes path. A missing file is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}
