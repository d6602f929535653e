// Package source reads raw per-year delimited trip and station files. It is
// deliberately thin: it hands rows to the normalizer without interpreting
// them. Plain and gzip-compressed files are supported.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"velostat.bikedata.org/internal/logging"
)

// Record is one raw row paired with its file's header index.
type Record struct {
	fields []string
	index  map[string]int
}

// Get returns the raw value of the named source column. The second return
// is false when the column does not exist in the file.
func (r Record) Get(column string) (string, bool) {
	i, ok := r.index[column]
	if !ok || i >= len(r.fields) {
		return "", false
	}
	return r.fields[i], true
}

// Header reports whether the file carries the named column.
func (r Record) Header(column string) bool {
	_, ok := r.index[column]
	return ok
}

// progressInterval bounds how often row-count progress is logged while
// scanning multi-million-row files.
var progressInterval = 5 * time.Second

// ForEachRecord streams every data row of the file to fn. The first row is
// treated as the header. Reading stops at the first error returned by fn.
// The Record passed to fn is only valid for the duration of the call; fn
// must copy any values it keeps.
func ForEachRecord(path string, fn func(Record) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("unable to open input file: %w", err)
	}
	logger := logging.ForComponent("source_reader")
	defer logging.SafeCloseWithLogging(f, logger, path)

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("unable to open gzip stream %s: %w", path, err)
		}
		defer logging.SafeCloseWithLogging(gz, logger, path+" (gzip)")
		reader = gz
	}

	cr := csv.NewReader(reader)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("unable to read header of %s: %w", path, err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	progress := rate.NewLimiter(rate.Every(progressInterval), 1)
	rows := 0
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("error reading %s at row %d: %w", path, rows+1, err)
		}
		rows++

		if err := fn(Record{fields: fields, index: index}); err != nil {
			return rows, err
		}

		if rows%100000 == 0 && progress.Allow() {
			logging.LogOperation(logger, "reading_rows",
				slog.String("file", path),
				slog.Int("rows", rows))
		}
	}

	logging.LogOperation(logger, "file_read_complete",
		slog.String("file", path),
		slog.Int("rows", rows))

	return rows, nil
}
