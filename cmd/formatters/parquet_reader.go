package formatters

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ParquetReader reads Parquet input. Only flat schemas are supported.
type ParquetReader struct {
	file   *parquet.File
	closer io.Closer
}

// NewParquetReader creates a new Parquet reader
// Note: Parquet requires io.ReaderAt, so we read the entire file into memory
func NewParquetReader(r io.Reader) (*ParquetReader, error) {
	closer, _ := r.(io.Closer)

	data, err := io.ReadAll(r)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to read parquet data: %w", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	return &ParquetReader{
		file:   file,
		closer: closer,
	}, nil
}

// ReadAll reads every row group in file order
func (r *ParquetReader) ReadAll() ([]string, [][]interface{}, error) {
	schema := r.file.Schema()
	columnPaths := schema.Columns()

	names := make([]string, len(columnPaths))
	units := make([]time.Duration, len(columnPaths))
	for i, path := range columnPaths {
		if len(path) != 1 {
			return nil, nil, fmt.Errorf("nested parquet column %v is not supported", path)
		}
		names[i] = path[0]
		if leaf, ok := schema.Lookup(path...); ok {
			units[i] = timestampUnit(leaf.Node)
		}
	}

	var rows [][]interface{}
	for _, rowGroup := range r.file.RowGroups() {
		groupRows, err := readRowGroup(rowGroup, units)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, groupRows...)
	}

	return names, rows, nil
}

func readRowGroup(rowGroup parquet.RowGroup, units []time.Duration) ([][]interface{}, error) {
	rowReader := rowGroup.Rows()
	defer rowReader.Close()

	var rows [][]interface{}
	batch := make([]parquet.Row, 1000)
	for {
		n, err := rowReader.ReadRows(batch)
		for _, parquetRow := range batch[:n] {
			row := make([]interface{}, len(units))
			for _, val := range parquetRow {
				col := val.Column()
				if col < 0 || col >= len(units) {
					continue
				}
				row[col] = parquetValue(val, units[col])
			}
			rows = append(rows, row)
		}
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
		if n == 0 {
			return rows, nil
		}
	}
}

// timestampUnit returns the tick size of a timestamp column, or 0 for other columns
func timestampUnit(node parquet.Node) time.Duration {
	logical := node.Type().LogicalType()
	if logical == nil || logical.Timestamp == nil {
		return 0
	}
	switch unit := logical.Timestamp.Unit; {
	case unit.Millis != nil:
		return time.Millisecond
	case unit.Micros != nil:
		return time.Microsecond
	default:
		return time.Nanosecond
	}
}

// parquetValue converts a parquet.Value to a Go value based on its physical type
func parquetValue(val parquet.Value, unit time.Duration) interface{} {
	if val.IsNull() {
		return nil
	}
	switch val.Kind() {
	case parquet.Boolean:
		return val.Boolean()
	case parquet.Int32:
		return int64(val.Int32())
	case parquet.Int64:
		if unit > 0 {
			return time.Unix(0, val.Int64()*int64(unit)).UTC()
		}
		return val.Int64()
	case parquet.Float:
		return float64(val.Float())
	case parquet.Double:
		return val.Double()
	default:
		return string(val.ByteArray())
	}
}

// Close closes the underlying reader
func (r *ParquetReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
