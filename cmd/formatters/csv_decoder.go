package formatters

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/airframesio/redshift-loader/cmd/table"
)

// Static errors for decoding staged CSV
var (
	ErrUnterminatedQuote = errors.New("unterminated quoted field")
	ErrBareQuote         = errors.New("bare quote in unquoted field")
	ErrTrailingData      = errors.New("unexpected data after closing quote")
	ErrHeaderMismatch    = errors.New("CSV header does not match columns")
)

// CSVDecoder reads files written by CSVFormatter. Unlike encoding/csv it keeps the
// difference between an empty unquoted field (null) and a quoted empty string.
type CSVDecoder struct {
	reader *bufio.Reader
	record int
}

// NewCSVDecoder creates a decoder over r
func NewCSVDecoder(r io.Reader) *CSVDecoder {
	return &CSVDecoder{reader: bufio.NewReader(r)}
}

// csvField is one decoded field; null is set for empty unquoted fields
type csvField struct {
	text string
	null bool
}

// Header reads the header row. It must be called before ReadAll.
func (d *CSVDecoder) Header() ([]string, error) {
	fields, err := d.readRecord()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.text
	}
	return names, nil
}

// ReadAll reads the header and every record, parsing each field with the type of its column.
func (d *CSVDecoder) ReadAll(columns []table.Column) ([][]interface{}, error) {
	header, err := d.Header()
	if err != nil {
		return nil, err
	}
	if len(header) != len(columns) {
		return nil, fmt.Errorf("%w: got %d columns, want %d", ErrHeaderMismatch, len(header), len(columns))
	}
	for i, name := range header {
		if name != columns[i].Name {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrHeaderMismatch, i, name, columns[i].Name)
		}
	}

	var rows [][]interface{}
	for {
		fields, err := d.readRecord()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if len(fields) != len(columns) {
			return nil, fmt.Errorf("%w: record %d has %d fields, want %d", table.ErrRowWidth, d.record, len(fields), len(columns))
		}

		row := make([]interface{}, len(fields))
		for i, f := range fields {
			if f.null {
				continue
			}
			value, err := table.ParseValue(f.text, columns[i].Type)
			if err != nil {
				return nil, fmt.Errorf("record %d column %s: %w", d.record, columns[i].Name, err)
			}
			row[i] = value
		}
		rows = append(rows, row)
	}
}

// readRecord reads one record. It returns io.EOF only when no bytes remain.
func (d *CSVDecoder) readRecord() ([]csvField, error) {
	if _, err := d.reader.Peek(1); err != nil {
		return nil, err
	}
	d.record++

	var fields []csvField
	for {
		f, last, err := d.readField()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", d.record, err)
		}
		fields = append(fields, f)
		if last {
			return fields, nil
		}
	}
}

// readField reads one field and reports whether it ended the record
func (d *CSVDecoder) readField() (csvField, bool, error) {
	b, err := d.reader.ReadByte()
	if err == io.EOF {
		return csvField{null: true}, true, nil
	}
	if err != nil {
		return csvField{}, false, err
	}

	if b != '"' {
		var sb strings.Builder
		for {
			switch b {
			case ',':
				return unquoted(sb.String()), false, nil
			case '\n':
				return unquoted(strings.TrimSuffix(sb.String(), "\r")), true, nil
			case '"':
				return csvField{}, false, ErrBareQuote
			}
			sb.WriteByte(b)
			b, err = d.reader.ReadByte()
			if err == io.EOF {
				return unquoted(sb.String()), true, nil
			}
			if err != nil {
				return csvField{}, false, err
			}
		}
	}

	var sb strings.Builder
	for {
		b, err = d.reader.ReadByte()
		if err == io.EOF {
			return csvField{}, false, ErrUnterminatedQuote
		}
		if err != nil {
			return csvField{}, false, err
		}
		if b != '"' {
			sb.WriteByte(b)
			continue
		}

		// A quote either escapes another quote or closes the field.
		next, err := d.reader.ReadByte()
		if err == io.EOF {
			return csvField{text: sb.String()}, true, nil
		}
		if err != nil {
			return csvField{}, false, err
		}
		switch next {
		case '"':
			sb.WriteByte('"')
		case ',':
			return csvField{text: sb.String()}, false, nil
		case '\n':
			return csvField{text: sb.String()}, true, nil
		case '\r':
			if nl, err := d.reader.ReadByte(); err == nil && nl == '\n' {
				return csvField{text: sb.String()}, true, nil
			}
			return csvField{}, false, ErrTrailingData
		default:
			return csvField{}, false, ErrTrailingData
		}
	}
}

func unquoted(text string) csvField {
	if text == "" {
		return csvField{null: true}
	}
	return csvField{text: text}
}
