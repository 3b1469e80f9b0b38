package table

// Infer builds a Table from column names and untyped rows, choosing one type per column
// from all of its non-null values. Ints widen to floats; any other mix becomes a string
// column and its values are rendered with FormatValue. All-null columns are strings.
func Infer(names []string, rows [][]interface{}) (*Table, error) {
	columns := make([]Column, len(names))
	for j, name := range names {
		columns[j] = Column{Name: name, Type: inferColumn(rows, j)}
	}

	for _, row := range rows {
		if len(row) != len(columns) {
			// Let New report the width mismatch with its row index.
			break
		}
		for j, value := range row {
			row[j] = coerce(normalize(value), columns[j].Type)
		}
	}

	return New(columns, rows)
}

func inferColumn(rows [][]interface{}, j int) Type {
	found := false
	var result Type
	for _, row := range rows {
		if j >= len(row) || row[j] == nil {
			continue
		}
		t, _ := InferType(normalize(row[j]))
		switch {
		case !found:
			result, found = t, true
		case result == t:
		case (result == TypeInt && t == TypeFloat) || (result == TypeFloat && t == TypeInt):
			result = TypeFloat
		default:
			return TypeString
		}
	}
	if !found {
		return TypeString
	}
	return result
}

func coerce(value interface{}, t Type) interface{} {
	if value == nil {
		return nil
	}
	switch t {
	case TypeFloat:
		if i, ok := value.(int64); ok {
			return float64(i)
		}
	case TypeString:
		if _, ok := value.(string); !ok {
			return FormatValue(value)
		}
	}
	return value
}
