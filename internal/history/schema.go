package history

import (
	"database/sql"

	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS sessions (
	       id          TEXT PRIMARY KEY,
	       started_at  INTEGER NOT NULL,
	       stopped_at  INTEGER,
	       frequency   REAL NOT NULL CHECK (frequency > 0),
	       tag         TEXT NOT NULL,
	       log_path    TEXT NOT NULL,
	       windows     INTEGER NOT NULL DEFAULT 0,
	       error       TEXT NOT NULL DEFAULT ''
	   );
	   CREATE TABLE IF NOT EXISTS windows (
	       session_id  TEXT NOT NULL REFERENCES sessions(id),
	       seq         INTEGER NOT NULL,
	       timestamp   INTEGER NOT NULL,
	       dc_offset   REAL NOT NULL,
	       ac_rms      REAL NOT NULL,
	       dc_rms      REAL NOT NULL,
	       PRIMARY KEY (session_id, seq)
	   );`

	insertSessionSQL = `
    INSERT INTO sessions (id, started_at, frequency, tag, log_path)
    VALUES (?, ?, ?, ?, ?)`

	insertWindowSQL = `
    INSERT INTO windows (session_id, seq, timestamp, dc_offset, ac_rms, dc_rms)
    VALUES (?, ?, ?, ?, ?, ?)`

	finishSessionSQL = `
    UPDATE sessions SET stopped_at = ?, windows = ?, error = ?
    WHERE id = ?`

	selectSessionsSQL = `
    SELECT id, started_at, COALESCE(stopped_at, 0), frequency, tag, log_path, windows, error
    FROM sessions ORDER BY started_at, id`

	selectWindowsSQL = `
    SELECT session_id, seq, timestamp, dc_offset, ac_rms, dc_rms
    FROM windows WHERE session_id = ? ORDER BY seq`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
