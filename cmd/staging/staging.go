// Package staging writes partitions of a table to compressed files in a local
// working directory that a single run owns.
package staging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/airframesio/redshift-loader/cmd/compressors"
	"github.com/airframesio/redshift-loader/cmd/formatters"
	"github.com/airframesio/redshift-loader/cmd/loaderr"
	"github.com/airframesio/redshift-loader/cmd/planner"
	"github.com/airframesio/redshift-loader/cmd/table"
)

// batchRows is how many rows are handed to the formatter per call.
const batchRows = 10000

// ErrWorkDirRequired is returned when no working directory is configured
var ErrWorkDirRequired = errors.New("staging work directory is required")

// Options selects the working directory and the encoding of staged files.
type Options struct {
	Dir         string
	Format      string
	Compression string
	// Level is the compression level; 0 uses the compressor's default.
	Level int
}

// File is a partition materialized on local disk.
type File struct {
	Partition planner.Partition
	Name      string
	Path      string
	Rows      int
	Bytes     int64
}

// Writer stages partitions. It is safe for concurrent use: every call writes its own file.
type Writer struct {
	dir        string
	formatter  formatters.Formatter
	compressor compressors.Compressor
	level      int
	logger     *slog.Logger
}

// New creates a Writer
func New(opts Options, logger *slog.Logger) (*Writer, error) {
	if opts.Dir == "" {
		return nil, ErrWorkDirRequired
	}
	formatter, err := formatters.GetFormatter(opts.Format)
	if err != nil {
		return nil, err
	}
	compressor, err := compressors.GetCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}
	level := opts.Level
	if level == 0 {
		level = compressor.DefaultLevel()
	}

	return &Writer{
		dir:        opts.Dir,
		formatter:  formatter,
		compressor: compressor,
		level:      level,
		logger:     logger,
	}, nil
}

// Dir returns the working directory
func (w *Writer) Dir() string {
	return w.dir
}

// Extension returns the suffix of staged file names, e.g. ".csv.gz"
func (w *Writer) Extension() string {
	return w.formatter.Extension() + w.compressor.Extension()
}

// CopyOptions returns the COPY clauses that describe staged files
func (w *Writer) CopyOptions() (format string, compression string) {
	return w.formatter.CopyFormat(), w.compressor.CopyOption()
}

// ContentType returns the MIME type stored with uploaded files
func (w *Writer) ContentType() string {
	if w.compressor.Extension() == "" {
		return w.formatter.MIMEType()
	}
	return "application/octet-stream"
}

// Reset empties the working directory, creating it if needed. Leftovers of an earlier
// run must never be uploaded with this one.
func (w *Writer) Reset() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return loaderr.Wrap(loaderr.ErrWriteIO, err, "failed to clear work directory %s", w.dir)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return loaderr.Wrap(loaderr.ErrWriteIO, err, "failed to create work directory %s", w.dir)
	}
	return nil
}

// Write stages rows [p.Start, p.End) of tbl as p.FileName. A partially written file
// is removed before the error is returned.
func (w *Writer) Write(tbl *table.Table, p planner.Partition) (File, error) {
	path := filepath.Join(w.dir, p.FileName)
	w.logger.Debug(fmt.Sprintf("  📝 Staging partition %d (rows %d-%d) to %s", p.Index, p.Start, p.End, path))

	size, err := w.writeFile(path, tbl, p)
	if err != nil {
		_ = os.Remove(path)
		return File{}, loaderr.Wrap(loaderr.ErrWriteIO, err, "partition %d (%s)", p.Index, p.FileName)
	}

	return File{
		Partition: p,
		Name:      p.FileName,
		Path:      path,
		Rows:      p.Rows(),
		Bytes:     size,
	}, nil
}

func (w *Writer) writeFile(path string, tbl *table.Table, p planner.Partition) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	cw, err := w.compressor.NewWriter(f, w.level)
	if err != nil {
		return 0, fmt.Errorf("failed to create compressor: %w", err)
	}
	sw, err := w.formatter.NewWriter(cw, tbl.Columns())
	if err != nil {
		cw.Close()
		return 0, err
	}

	for start := p.Start; start < p.End; start += batchRows {
		end := start + batchRows
		if end > p.End {
			end = p.End
		}
		if err := sw.WriteRows(tbl.Rows(start, end)); err != nil {
			sw.Close()
			cw.Close()
			return 0, err
		}
	}

	if err := sw.Close(); err != nil {
		cw.Close()
		return 0, err
	}
	if err := cw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish compression: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes staged files. Missing files are not an error.
func (w *Writer) Remove(files []File) error {
	var errs []error
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return loaderr.Wrap(loaderr.ErrWriteIO, errors.Join(errs...), "failed to remove %d staged files", len(errs))
	}
	return nil
}
