package formatters

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// CSVReader reads CSV input with a header row. Empty fields become NULL.
type CSVReader struct {
	reader *csv.Reader
	closer io.Closer
}

// NewCSVReader creates a new CSV reader
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	closer, _ := r.(io.Closer)
	return &CSVReader{
		reader: reader,
		closer: closer,
	}, nil
}

// ReadAll reads the header and all remaining rows
func (r *CSVReader) ReadAll() ([]string, [][]interface{}, error) {
	headers, err := r.reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var rows [][]interface{}
	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		row := make([]interface{}, len(headers))
		for i, value := range record {
			row[i] = convertValue(value)
		}
		rows = append(rows, row)
	}

	return headers, rows, nil
}

// convertValue attempts to convert a string value to an appropriate type
func convertValue(value string) interface{} {
	if value == "" {
		return nil
	}

	if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
		return intVal
	}

	// ParseFloat also accepts "NaN" and "Inf"; those stay text.
	if floatVal, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(floatVal) && !math.IsInf(floatVal, 0) {
		return floatVal
	}

	if boolVal, err := strconv.ParseBool(value); err == nil {
		return boolVal
	}

	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}

	return value
}

// Close closes the underlying reader if it's closable
func (r *CSVReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
