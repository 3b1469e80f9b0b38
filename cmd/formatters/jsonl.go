package formatters

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/airframesio/redshift-loader/cmd/table"
)

// JSONLFormatter handles JSONL (JSON Lines) staging output
type JSONLFormatter struct{}

// NewJSONLFormatter creates a new JSONL formatter
func NewJSONLFormatter() *JSONLFormatter {
	return &JSONLFormatter{}
}

// NewWriter creates a new JSONL stream writer. Each line is one object whose keys
// follow the column order.
func (f *JSONLFormatter) NewWriter(w io.Writer, columns []table.Column) (StreamWriter, error) {
	keys := make([][]byte, len(columns))
	for i, col := range columns {
		key, err := json.Marshal(col.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to encode column name %s: %w", col.Name, err)
		}
		keys[i] = key
	}

	return &jsonlStreamWriter{
		writer: bufio.NewWriterSize(w, 64*1024),
		keys:   keys,
	}, nil
}

// Extension returns the file extension for JSONL files
func (f *JSONLFormatter) Extension() string {
	return ".jsonl"
}

// MIMEType returns the MIME type for JSONL
func (f *JSONLFormatter) MIMEType() string {
	return "application/x-ndjson"
}

// CopyFormat returns the COPY clause for newline-delimited JSON objects
func (f *JSONLFormatter) CopyFormat() string {
	return "FORMAT AS JSON 'auto ignorecase'"
}

// jsonlStreamWriter implements StreamWriter for JSONL format
type jsonlStreamWriter struct {
	writer *bufio.Writer
	keys   [][]byte
}

// WriteRows writes one JSON object per row
func (w *jsonlStreamWriter) WriteRows(rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) != len(w.keys) {
			return fmt.Errorf("%w: row %d has %d values, want %d", table.ErrRowWidth, i, len(row), len(w.keys))
		}

		w.writer.WriteByte('{')
		for j, value := range row {
			if j > 0 {
				w.writer.WriteByte(',')
			}
			w.writer.Write(w.keys[j])
			w.writer.WriteByte(':')

			if ts, ok := value.(time.Time); ok {
				value = table.FormatValue(ts)
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to encode row %d: %w", i, err)
			}
			w.writer.Write(encoded)
		}
		if _, err := w.writer.WriteString("}\n"); err != nil {
			return fmt.Errorf("failed to write JSONL record: %w", err)
		}
	}
	return nil
}

// Close flushes buffered output
func (w *jsonlStreamWriter) Close() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("JSONL writer error: %w", err)
	}
	return nil
}
