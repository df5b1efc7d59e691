// Package csvlog appends rows to the comma-separated log file.
//
// The header is written only when the file is created; an existing file is
// appended to as-is, so a restarted logger continues the same log.
package csvlog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"sync"
)

// Writer appends rows to one log file. It is safe for concurrent use.
type Writer struct {
	path  string
	width int

	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// Open opens path for appending, creating it with header as its first
// line if it does not exist. If the file exists and its first line does
// not match header, a warning is logged and rows are appended anyway.
func Open(path string, header []string, logger *slog.Logger) (*Writer, error) {
	if len(header) == 0 {
		return nil, errors.New("csvlog: empty header")
	}
	if logger == nil {
		logger = slog.Default()
	}

	existing, err := readHeader(path)
	created := errors.Is(err, fs.ErrNotExist)
	if err != nil && !created {
		return nil, fmt.Errorf("csvlog: reading header of %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csvlog: %w", err)
	}
	w := &Writer{
		path:  path,
		width: len(header),
		file:  file,
		csv:   csv.NewWriter(file),
	}

	if created {
		if err := w.writeRecord(header); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("csvlog: writing header: %w", err)
		}
		logger.Info("log file created", "path", path, "columns", len(header))
		return w, nil
	}

	if existing != nil && !slices.Equal(existing, header) {
		logger.Warn("log file header differs from configured sources, appending anyway",
			"path", path,
			"file_columns", len(existing),
			"columns", len(header),
		)
	}
	return w, nil
}

// readHeader returns the first record of path, or nil for an empty file.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		// an empty or unparseable file has no usable header
		return nil, nil
	}
	return record, nil
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// WriteRow appends one row. Values are formatted with the shortest
// representation that round-trips.
func (w *Writer) WriteRow(values []float64) error {
	if len(values) != w.width {
		return fmt.Errorf("csvlog: row has %d values, header has %d", len(values), w.width)
	}
	record := make([]string, len(values))
	for i, v := range values {
		record[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return w.writeRecord(record)
}

func (w *Writer) writeRecord(record []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return os.ErrClosed
	}
	if err := w.csv.Write(record); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close closes the file. Safe to call multiple times.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
