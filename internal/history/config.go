package history

import (
	"time"

	"codeberg.org/mutker/ad2ctl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm       = 0o755
	defaultDBPath        = "/var/lib/ad2ctl/history.db"
	defaultBatchSize     = 50
	defaultFlushInterval = time.Second
)

type Config struct {
	DBPath        string
	Enabled       bool
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBPath:        defaultDBPath,
		Enabled:       false, // Disabled by default
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if history is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.FlushInterval < 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch size and flush interval must not be negative")
	}
	return nil
}
