package formatters

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotObject is returned when a JSONL line is not a JSON object
var ErrNotObject = errors.New("JSONL line is not an object")

// JSONLReader reads JSONL input (one JSON object per line). Columns appear in the
// order their keys are first seen; keys missing from a line are NULL.
type JSONLReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewJSONLReader creates a new JSONL reader
func NewJSONLReader(r io.Reader) *JSONLReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	closer, _ := r.(io.Closer)
	return &JSONLReader{
		scanner: scanner,
		closer:  closer,
	}
}

// ReadAll reads all remaining rows from the JSONL stream
func (r *JSONLReader) ReadAll() ([]string, [][]interface{}, error) {
	var names []string
	index := make(map[string]int)
	var records []map[string]interface{}

	line := 0
	for r.scanner.Scan() {
		line++
		data := bytes.TrimSpace(r.scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		keys, record, err := decodeObject(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse JSON line %d: %w", line, err)
		}
		for _, key := range keys {
			if _, ok := index[key]; !ok {
				index[key] = len(names)
				names = append(names, key)
			}
		}
		records = append(records, record)
	}
	if err := r.scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	rows := make([][]interface{}, len(records))
	for i, record := range records {
		row := make([]interface{}, len(names))
		for key, value := range record {
			row[index[key]] = value
		}
		rows[i] = row
	}

	return names, rows, nil
}

// decodeObject decodes one object, returning its keys in document order
func decodeObject(data []byte) ([]string, map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, ErrNotObject
	}

	var keys []string
	record := make(map[string]interface{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key := tok.(string)

		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		if _, dup := record[key]; !dup {
			keys = append(keys, key)
		}
		record[key], err = jsonValue(value)
		if err != nil {
			return nil, nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}

	return keys, record, nil
}

// jsonValue maps a decoded JSON value onto a table value. Nested objects and
// arrays are kept as their JSON text.
func jsonValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	default:
		return v, nil
	}
}

// Close closes the underlying reader if it's closable
func (r *JSONLReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
