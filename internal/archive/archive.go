// Package archive converts finished session logs into columnar parquet
// files stored next to the CSV.
package archive

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/sink"
	"github.com/segmentio/parquet-go"
)

const Extension = ".parquet"

// Row is one archived window.
type Row struct {
	Timestamp int64   `parquet:"timestamp_us"`
	DC        float64 `parquet:"dc"`
	ACRMS     float64 `parquet:"ac_rms"`
	DCRMS     float64 `parquet:"dc_rms"`
}

// Metadata is stored as key/value metadata in the parquet footer.
type Metadata struct {
	SessionID string  `json:"session_id"`
	Frequency float64 `json:"frequency_hz"`
	Tag       string  `json:"tag"`
}

// Archiver archives a finished session log and returns the archive path.
type Archiver interface {
	Archive(logPath string, meta Metadata) (string, error)
}

type parquetArchiver struct {
	location *time.Location
}

type noopArchiver struct{}

// New returns the parquet archiver, or an archiver that does nothing when
// enabled is false.
func New(enabled bool) Archiver {
	if !enabled {
		return noopArchiver{}
	}
	return &parquetArchiver{location: time.Local}
}

func (noopArchiver) Archive(string, Metadata) (string, error) { return "", nil }

// PathFor returns the archive path for a session log.
func PathFor(logPath string) string {
	return strings.TrimSuffix(logPath, ".csv") + Extension
}

func (a *parquetArchiver) Archive(logPath string, meta Metadata) (string, error) {
	errFactory := errors.New()

	rows, err := a.readLog(logPath)
	if err != nil {
		return "", err
	}

	out := PathFor(logPath)
	tmp := out + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", errFactory.Wrap(ErrWriteArchive, err)
	}

	if err := writeRows(f, rows, meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", errFactory.Wrap(ErrWriteArchive, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", errFactory.Wrap(ErrWriteArchive, err)
	}

	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return "", errFactory.Wrap(ErrWriteArchive, err)
	}

	return out, nil
}

func writeRows(w io.Writer, rows []Row, meta Metadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	writer := parquet.NewGenericWriter[Row](w,
		parquet.KeyValueMetadata("session", string(metaJSON)),
	)

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return err
	}

	return writer.Close()
}

func (a *parquetArchiver) readLog(path string) ([]Row, error) {
	errFactory := errors.New()

	f, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrReadLog, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(sink.Header)

	var rows []Row
	for line := 1; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errFactory.Wrap(ErrReadLog, err)
		}
		if record[0] == sink.Header[0] {
			continue
		}

		row, err := a.parseRow(record)
		if err != nil {
			return nil, errFactory.WithData(ErrInvalidRow, struct {
				Line  int
				Error string
			}{
				Line:  line,
				Error: err.Error(),
			})
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func (a *parquetArchiver) parseRow(record []string) (Row, error) {
	ts, err := time.ParseInLocation(sink.TimestampLayout, record[0], a.location)
	if err != nil {
		return Row{}, err
	}

	var values [3]float64
	for i := range values {
		if values[i], err = strconv.ParseFloat(record[i+1], 64); err != nil {
			return Row{}, err
		}
	}

	return Row{
		Timestamp: ts.UnixMicro(),
		DC:        values[0],
		ACRMS:     values[1],
		DCRMS:     values[2],
	}, nil
}
