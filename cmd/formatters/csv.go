package formatters

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/airframesio/redshift-loader/cmd/table"
)

// CSVFormatter writes CSV where every non-null field is quoted, numbers included, so
// the warehouse does all type interpretation at load time. A null is an empty
// unquoted field, which keeps it distinct from an empty string ("").
type CSVFormatter struct{}

// NewCSVFormatter creates a new CSV formatter
func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

// NewWriter creates a new CSV stream writer and writes the header row
func (f *CSVFormatter) NewWriter(w io.Writer, columns []table.Column) (StreamWriter, error) {
	sw := &csvStreamWriter{
		writer:  bufio.NewWriterSize(w, 64*1024),
		columns: len(columns),
	}

	header := make([]interface{}, len(columns))
	for i, col := range columns {
		header[i] = col.Name
	}
	if err := sw.writeRecord(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	return sw, nil
}

// Extension returns the file extension for CSV files
func (f *CSVFormatter) Extension() string {
	return ".csv"
}

// MIMEType returns the MIME type for CSV
func (f *CSVFormatter) MIMEType() string {
	return "text/csv"
}

// CopyFormat returns the COPY clause for quoted CSV with one header line. The NULL AS
// option loads the unquoted empty field as NULL; a quoted "" stays an empty string.
func (f *CSVFormatter) CopyFormat() string {
	return "FORMAT AS CSV IGNOREHEADER 1 NULL AS ''"
}

// csvStreamWriter implements StreamWriter for CSV format
type csvStreamWriter struct {
	writer  *bufio.Writer
	columns int
}

// WriteRows writes rows in CSV format
func (w *csvStreamWriter) WriteRows(rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) != w.columns {
			return fmt.Errorf("%w: row %d has %d values, want %d", table.ErrRowWidth, i, len(row), w.columns)
		}
		if err := w.writeRecord(row); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	return nil
}

func (w *csvStreamWriter) writeRecord(values []interface{}) error {
	for i, value := range values {
		if i > 0 {
			if err := w.writer.WriteByte(','); err != nil {
				return err
			}
		}
		if value == nil {
			continue
		}
		if err := writeQuoted(w.writer, table.FormatValue(value)); err != nil {
			return err
		}
	}
	return w.writer.WriteByte('\n')
}

// writeQuoted writes s between double quotes, doubling embedded quotes
func writeQuoted(w *bufio.Writer, s string) error {
	if err := w.WriteByte('"'); err != nil {
		return err
	}
	for {
		i := strings.IndexByte(s, '"')
		if i < 0 {
			break
		}
		if _, err := w.WriteString(s[:i+1]); err != nil {
			return err
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
		s = s[i+1:]
	}
	if _, err := w.WriteString(s); err != nil {
		return err
	}
	return w.WriteByte('"')
}

// Close finalizes the CSV output by flushing the writer
func (w *csvStreamWriter) Close() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}
