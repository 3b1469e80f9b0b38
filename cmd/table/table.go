// Package table models the in-memory table a load run ships to the warehouse.
//
// A Table is an ordered list of typed columns and an ordered list of rows. Cell
// values are normalized to int64, float64, bool, string, time.Time (UTC, microsecond
// precision) or nil, so every later stage can switch on a small closed set of types.
package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Type is the declared type of a column.
type Type int

const (
	TypeString Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTimestamp
)

// TimestampLayout is the text form of timestamps in staged files.
const TimestampLayout = "2006-01-02 15:04:05.999999"

// Static errors for table construction
var (
	ErrNoColumns       = errors.New("table must have at least one column")
	ErrColumnNameEmpty = errors.New("column name must not be empty")
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrRowWidth        = errors.New("row width does not match column count")
	ErrValueType       = errors.New("value does not match column type")
	ErrNonFiniteFloat  = errors.New("float value must be finite")
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "string"
	}
}

// Column is a named, typed column.
type Column struct {
	Name string
	Type Type
}

// Table is immutable once built: accessors return views that callers must not modify.
type Table struct {
	columns []Column
	rows    [][]interface{}
}

// New validates rows against columns and returns a Table. Values are normalized in place.
func New(columns []Column, rows [][]interface{}) (*Table, error) {
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if col.Name == "" {
			return nil, ErrColumnNameEmpty
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, col.Name)
		}
		seen[col.Name] = true
	}

	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrRowWidth, i, len(row), len(columns))
		}
		for j, value := range row {
			normalized := normalize(value)
			if normalized != nil {
				if got, _ := InferType(normalized); got != columns[j].Type {
					return nil, fmt.Errorf("%w: row %d column %s is %s, want %s",
						ErrValueType, i, columns[j].Name, got, columns[j].Type)
				}
				if f, ok := normalized.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
					return nil, fmt.Errorf("%w: row %d column %s is %v", ErrNonFiniteFloat, i, columns[j].Name, f)
				}
			}
			row[j] = normalized
		}
	}

	return &Table{columns: columns, rows: rows}, nil
}

// Columns returns the column schema in order.
func (t *Table) Columns() []Column {
	return t.columns
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.Name
	}
	return names
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns row i.
func (t *Table) Row(i int) []interface{} {
	return t.rows[i]
}

// Rows returns the half-open row range [start, end).
func (t *Table) Rows(start, end int) [][]interface{} {
	return t.rows[start:end]
}

// EstimatedSize approximates the in-memory footprint of the table in bytes.
// Numeric and timestamp cells count 8 bytes, bools 1, strings their header plus bytes.
func (t *Table) EstimatedSize() int64 {
	var size int64
	for _, row := range t.rows {
		for _, value := range row {
			switch v := value.(type) {
			case bool:
				size++
			case string:
				size += 16 + int64(len(v))
			default:
				size += 8
			}
		}
	}
	return size
}

// InferType returns the column type a Go value maps to. The second result is false
// when the value had to fall back to TypeString.
func InferType(value interface{}) (Type, bool) {
	switch value.(type) {
	case bool:
		return TypeBool, true
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return TypeInt, true
	case float32, float64:
		return TypeFloat, true
	case string, []byte:
		return TypeString, true
	case time.Time:
		return TypeTimestamp, true
	default:
		return TypeString, false
	}
}

// normalize converts a value to its canonical Go type.
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case float32:
		return float64(v)
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Truncate(time.Microsecond)
	case int64, float64, bool, string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FormatValue renders a normalized value as staged text. NULL renders as "".
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(TimestampLayout)
	default:
		return fmt.Sprintf("%v", normalize(v))
	}
}

// ParseValue is the inverse of FormatValue for a column of type t.
func ParseValue(text string, t Type) (interface{}, error) {
	switch t {
	case TypeInt:
		return strconv.ParseInt(text, 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(text, 64)
	case TypeBool:
		return strconv.ParseBool(text)
	case TypeTimestamp:
		ts, err := time.Parse(TimestampLayout, text)
		if err != nil {
			return nil, err
		}
		return ts.UTC(), nil
	default:
		return text, nil
	}
}
