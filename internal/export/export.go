// Package export writes per-series hit statistics to Parquet files
// for offline analysis.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/hitrate/internal/tracker"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int

	// Windows lists the trailing window lengths each row reports a
	// ratio for, in observations.
	Windows []int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default export options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
		Windows:          []int{64, 1024, 16320},
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// SeriesRow is one series' statistics in Parquet format. Window
// columns run parallel: WindowRatios[i] is the hit ratio over the
// trailing WindowLengths[i] observations.
type SeriesRow struct {
	Series        string    `parquet:"series,zstd"`
	Buffer        int32     `parquet:"buffer"`
	Updates       int64     `parquet:"updates"`
	Hits          float64   `parquet:"hits"`
	Ratio         float64   `parquet:"ratio"`
	WindowLengths []int64   `parquet:"window_lengths,list"`
	WindowRatios  []float64 `parquet:"window_ratios,list"`
	ExportedMs    int64     `parquet:"exported_ms"`
}

// Rows builds export rows for every registered series of tr, with one
// windowed ratio per configured window length. The tracker reads all
// totals under its registry lock, so rows are consistent even while
// observations keep arriving.
func Rows(tr *tracker.Tracker, windows []int) []SeriesRow {
	now := time.Now().UnixMilli()

	stats := tr.AllWindowStats(windows)
	rows := make([]SeriesRow, 0, len(stats))
	for _, s := range stats {
		row := SeriesRow{
			Series:     s.Key,
			Buffer:     int32(s.Index),
			Updates:    int64(s.Totals.Updates),
			Hits:       s.Totals.Hits,
			Ratio:      s.Totals.Ratio,
			ExportedMs: now,
		}
		for j, w := range s.WindowLengths {
			row.WindowLengths = append(row.WindowLengths, int64(w))
			row.WindowRatios = append(row.WindowRatios, s.WindowTotals[j].Ratio)
		}
		rows = append(rows, row)
	}
	return rows
}

// Writer writes series rows to a Parquet file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[SeriesRow]
	rowCount int64
	closed   bool
}

// NewWriter creates a Parquet writer at path, creating parent
// directories as needed.
func NewWriter(path string, opts Options) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[SeriesRow](f,
		parquet.Compression(getCompression(opts.Compression)),
	)

	return &Writer{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends rows to the file.
func (w *Writer) Write(rows []SeriesRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// Close finalizes the Parquet footer and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// WriteFile exports every registered series of tr to a Parquet file
// at path and returns the number of rows written.
func WriteFile(path string, tr *tracker.Tracker, opts Options) (int64, error) {
	w, err := NewWriter(path, opts)
	if err != nil {
		return 0, err
	}
	if err := w.Write(Rows(tr, opts.Windows)); err != nil {
		w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.RowCount(), nil
}

// Reader reads series rows from a Parquet file.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[SeriesRow]
	path   string
}

// NewReader opens a Parquet file of series rows.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	pf, err := parquet.OpenFile(f, info.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}
	return &Reader{
		file:   f,
		reader: parquet.NewGenericReader[SeriesRow](pf),
		path:   path,
	}, nil
}

// ReadAll reads every row in the file.
func (r *Reader) ReadAll() ([]SeriesRow, error) {
	rows := make([]SeriesRow, r.reader.NumRows())
	if len(rows) == 0 {
		return nil, nil
	}
	n, err := r.reader.Read(rows)
	if err != nil && n < len(rows) {
		return nil, err
	}
	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *Reader) NumRows() int64 { return r.reader.NumRows() }

// Close closes the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *Reader) Path() string { return r.path }
