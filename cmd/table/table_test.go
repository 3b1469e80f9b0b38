package table

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	columns := []Column{
		{Name: "id", Type: TypeInt},
		{Name: "price", Type: TypeFloat},
		{Name: "symbol", Type: TypeString},
	}

	t.Run("valid rows are normalized", func(t *testing.T) {
		rows := [][]interface{}{
			{1, float32(1.5), "AAPL"},
			{int64(2), nil, []byte("MSFT")},
		}
		tbl, err := New(columns, rows)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tbl.Len() != 2 {
			t.Fatalf("expected 2 rows, got %d", tbl.Len())
		}
		if _, ok := tbl.Row(0)[0].(int64); !ok {
			t.Errorf("expected int64, got %T", tbl.Row(0)[0])
		}
		if _, ok := tbl.Row(0)[1].(float64); !ok {
			t.Errorf("expected float64, got %T", tbl.Row(0)[1])
		}
		if tbl.Row(1)[2] != "MSFT" {
			t.Errorf("expected MSFT, got %v", tbl.Row(1)[2])
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name    string
			columns []Column
			rows    [][]interface{}
			want    error
		}{
			{"no columns", nil, nil, ErrNoColumns},
			{"empty name", []Column{{Name: ""}}, nil, ErrColumnNameEmpty},
			{"duplicate", []Column{{Name: "a"}, {Name: "a"}}, nil, ErrDuplicateColumn},
			{"short row", columns, [][]interface{}{{1, 2.0}}, ErrRowWidth},
			{"wrong type", columns, [][]interface{}{{"x", 2.0, "y"}}, ErrValueType},
			{"nan", columns, [][]interface{}{{1, math.NaN(), "y"}}, ErrNonFiniteFloat},
			{"positive infinity", columns, [][]interface{}{{1, math.Inf(1), "y"}}, ErrNonFiniteFloat},
			{"negative infinity", columns, [][]interface{}{{1, float32(math.Inf(-1)), "y"}}, ErrNonFiniteFloat},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := New(tt.columns, tt.rows)
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
			})
		}
	})
}

func TestInfer(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 0, 123456789, time.FixedZone("PDT", -7*3600))
	rows := [][]interface{}{
		{int64(1), int64(10), "a", true, ts, nil, int64(5)},
		{int64(2), 2.5, "b", false, nil, nil, "five"},
	}

	tbl, err := Infer([]string{"id", "qty", "name", "flag", "at", "empty", "mixed"}, rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Type{TypeInt, TypeFloat, TypeString, TypeBool, TypeTimestamp, TypeString, TypeString}
	for i, col := range tbl.Columns() {
		if col.Type != want[i] {
			t.Errorf("column %s: expected %s, got %s", col.Name, want[i], col.Type)
		}
	}

	if got := tbl.Row(0)[1]; got != 10.0 {
		t.Errorf("expected widened 10.0, got %#v", got)
	}
	if got := tbl.Row(0)[6]; got != "5" {
		t.Errorf("expected mixed column rendered as string, got %#v", got)
	}
	at, ok := tbl.Row(0)[4].(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", tbl.Row(0)[4])
	}
	if at.Location() != time.UTC || at.Nanosecond() != 123456000 {
		t.Errorf("expected UTC microsecond timestamp, got %v", at)
	}
}

func TestEstimatedSize(t *testing.T) {
	tbl, err := New([]Column{
		{Name: "id", Type: TypeInt},
		{Name: "ok", Type: TypeBool},
		{Name: "s", Type: TypeString},
	}, [][]interface{}{
		{int64(1), true, "abcd"},
		{nil, false, ""},
	})
	if err != nil {
		t.Fatal(err)
	}

	// 8+1+20 + 8+1+16
	if got := tbl.EstimatedSize(); got != 54 {
		t.Fatalf("expected 54 bytes, got %d", got)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	ts := time.Date(2023, 12, 31, 23, 59, 59, 999999000, time.UTC)
	tests := []struct {
		value interface{}
		typ   Type
		text  string
	}{
		{int64(-42), TypeInt, "-42"},
		{0.1, TypeFloat, "0.1"},
		{1e21, TypeFloat, "1e+21"},
		{true, TypeBool, "true"},
		{ts, TypeTimestamp, "2023-12-31 23:59:59.999999"},
		{"a,b \"c\"", TypeString, "a,b \"c\""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			text := FormatValue(tt.value)
			if text != tt.text {
				t.Fatalf("FormatValue = %q, want %q", text, tt.text)
			}
			back, err := ParseValue(text, tt.typ)
			if err != nil {
				t.Fatalf("ParseValue: %v", err)
			}
			if want, ok := tt.value.(time.Time); ok {
				if !back.(time.Time).Equal(want) {
					t.Fatalf("expected %v, got %v", want, back)
				}
				return
			}
			if back != tt.value {
				t.Fatalf("expected %#v, got %#v", tt.value, back)
			}
		})
	}
}
