package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/logger"
	"codeberg.org/mutker/ad2ctl/internal/stats"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*WindowRecord
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

// NewRepository opens (creating if needed) the SQLite database at
// cfg.DBPath. Windows are buffered and written in batches of cfg.BatchSize,
// or every cfg.FlushInterval, whichever comes first.
func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}
	db.SetMaxOpenConns(1)

	backupDir := filepath.Join(filepath.Dir(cfg.DBPath), "backups")
	if err := ValidateAndUpdateSchema(db, backupDir, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("History repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*WindowRecord, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.FlushInterval > 0 {
		repo.flushTicker = time.NewTicker(cfg.FlushInterval)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) InsertSession(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec(insertSessionSQL,
		s.ID, s.StartedAt.UnixMicro(), s.Frequency, s.Tag, s.LogPath,
	); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *repository) AppendWindow(record *WindowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, record)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) FinishSession(sessionID string, end *SessionEnd) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.flush(); err != nil {
		return err
	}

	res, err := r.db.Exec(finishSessionSQL, end.StoppedAt.UnixMicro(), end.Windows, end.Err, sessionID)
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.New().WithData(ErrInvalidSession, sessionID)
	}

	return nil
}

func (r *repository) Sessions(ctx context.Context) ([]SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			s                SessionSummary
			started, stopped int64
		)
		if err := rows.Scan(&s.ID, &started, &stopped, &s.Frequency, &s.Tag, &s.LogPath, &s.Windows, &s.Err); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		s.StartedAt = time.UnixMicro(started)
		if stopped != 0 {
			s.StoppedAt = time.UnixMicro(stopped)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (r *repository) Windows(ctx context.Context, sessionID string) ([]WindowRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.flush(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, selectWindowsSQL, sessionID)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []WindowRecord
	for rows.Next() {
		var (
			rec WindowRecord
			ts  int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Seq, &ts,
			&rec.Window.DCOffset, &rec.Window.ACRMS, &rec.Window.DCRMS); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		rec.Window.Timestamp = time.UnixMicro(ts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (r *repository) Close() error {
	var closeErr error

	r.closeOnce.Do(func() {
		// Signal the flusher goroutine to stop and wait for its final flush
		close(r.shutdownChan)
		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}
		<-r.flushDoneChan

		r.mu.Lock()
		defer r.mu.Unlock()

		if err := r.flush(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to flush history on close")
		}

		// Checkpoint WAL and cleanup on close
		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to checkpoint history WAL")
		}

		if err := r.db.Close(); err != nil {
			closeErr = errors.New().Wrap(ErrStorageClose, err)
			return
		}

		r.logger.Info().Msg("History repository closed gracefully")
	})

	return closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Error().Err(err).Msg("Periodic history flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes buffered windows in one transaction. Callers hold r.mu.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertWindowSQL)
	if err != nil {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rec := range r.buffer {
		if _, err := stmt.Exec(
			rec.SessionID,
			rec.Seq,
			rec.Window.Timestamp.UnixMicro(),
			rec.Window.DCOffset,
			rec.Window.ACRMS,
			rec.Window.DCRMS,
		); err != nil {
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			// drop the batch so one bad row cannot wedge the buffer
			r.buffer = r.buffer[:0]
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed windows to history")
	r.buffer = r.buffer[:0]

	return nil
}

// windowRecord builds the stored form of a window.
func windowRecord(sessionID string, seq int, w stats.Window) *WindowRecord {
	return &WindowRecord{SessionID: sessionID, Seq: seq, Window: w}
}
