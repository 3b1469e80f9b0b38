package formatters

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/airframesio/redshift-loader/cmd/table"
)

// Reader reads an input file into ordered column names and rows
type Reader interface {
	// ReadAll returns the column names in file order and every row aligned to them
	ReadAll() ([]string, [][]interface{}, error)

	// Close closes the underlying reader if it's closable
	Close() error
}

// NewReader returns the input reader for format
func NewReader(r io.Reader, format string) (Reader, error) {
	switch format {
	case FormatCSV:
		return NewCSVReader(r)
	case FormatJSONL:
		return NewJSONLReader(r), nil
	case FormatParquet:
		return NewParquetReader(r)
	default:
		return nil, fmt.Errorf("%w for input: %s", ErrUnsupportedFormat, format)
	}
}

// DetectFormat returns the input format implied by a file name, ignoring any
// compression extension.
func DetectFormat(filename string) (string, error) {
	base := strings.ToLower(filepath.Base(filename))
	base = strings.TrimSuffix(base, ".zst")
	base = strings.TrimSuffix(base, ".gz")

	switch filepath.Ext(base) {
	case ".csv":
		return FormatCSV, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: unable to detect format from filename: %s", ErrUnsupportedFormat, filename)
	}
}

// ReadTable reads every row of r and infers a typed table from it
func ReadTable(r io.Reader, format string) (*table.Table, error) {
	reader, err := NewReader(r, format)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	names, rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	return table.Infer(names, rows)
}
