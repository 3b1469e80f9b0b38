package formatters

import (
	"errors"
	"fmt"
	"io"

	"github.com/airframesio/redshift-loader/cmd/table"
)

// Format type constants
const (
	FormatCSV     = "csv"
	FormatJSONL   = "jsonl"
	FormatParquet = "parquet"
)

// ErrUnsupportedFormat is returned for unknown staging or input formats
var ErrUnsupportedFormat = errors.New("unsupported format")

// Formatter defines the interface for staging format handlers
type Formatter interface {
	// NewWriter starts a staged file on w. Any header is written immediately.
	NewWriter(w io.Writer, columns []table.Column) (StreamWriter, error)

	// Extension returns the file extension for this format (e.g., ".jsonl", ".csv")
	Extension() string

	// MIMEType returns the MIME type for this format
	MIMEType() string

	// CopyFormat returns the COPY clause describing this format to the warehouse
	CopyFormat() string
}

// StreamWriter writes rows to a staged file
type StreamWriter interface {
	// WriteRows appends rows in column order
	WriteRows(rows [][]interface{}) error

	// Close flushes buffered output. It does not close the underlying writer.
	Close() error
}

// GetFormatter returns the staging formatter for format
func GetFormatter(format string) (Formatter, error) {
	switch format {
	case FormatCSV:
		return NewCSVFormatter(), nil
	case FormatJSONL:
		return NewJSONLFormatter(), nil
	default:
		return nil, fmt.Errorf("%w for staging: %s", ErrUnsupportedFormat, format)
	}
}
