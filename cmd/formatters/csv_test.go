package formatters

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/airframesio/redshift-loader/cmd/table"
)

var testColumns = []table.Column{
	{Name: "id", Type: table.TypeInt},
	{Name: "symbol", Type: table.TypeString},
	{Name: "price", Type: table.TypeFloat},
	{Name: "active", Type: table.TypeBool},
	{Name: "traded_at", Type: table.TypeTimestamp},
}

func writeCSV(t *testing.T, columns []table.Column, rows [][]interface{}) string {
	t.Helper()

	var buf bytes.Buffer
	w, err := NewCSVFormatter().NewWriter(&buf, columns)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRows(rows); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.String()
}

func TestCSVFormatterQuotesEveryField(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)
	got := writeCSV(t, testColumns, [][]interface{}{
		{int64(1), "AAPL", 187.5, true, ts},
		{int64(2), "", nil, nil, nil},
	})

	want := `"id","symbol","price","active","traded_at"` + "\n" +
		`"1","AAPL","187.5","true","2024-01-02 03:04:05.000006"` + "\n" +
		`"2","",,,` + "\n"
	if got != want {
		t.Fatalf("unexpected CSV output:\n%s\nwant:\n%s", got, want)
	}
}

func TestCSVFormatterRejectsWrongWidth(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewCSVFormatter().NewWriter(&buf, testColumns)
	if err != nil {
		t.Fatal(err)
	}
	err = w.WriteRows([][]interface{}{{int64(1)}})
	if !errors.Is(err, table.ErrRowWidth) {
		t.Fatalf("expected ErrRowWidth, got %v", err)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	ts := time.Date(2023, 6, 30, 23, 59, 59, 999999000, time.UTC)
	rows := [][]interface{}{
		{int64(1), "plain", 1.25, true, ts},
		{int64(-2), "comma, inside", 0.1, false, nil},
		{int64(3), "say \"hi\"", nil, nil, ts},
		{int64(4), "multi\nline\r\ntext", 1e21, true, nil},
		{int64(5), "", -0.5, nil, nil},
		{nil, nil, nil, nil, nil},
	}

	text := writeCSV(t, testColumns, rows)

	got, err := NewCSVDecoder(strings.NewReader(text)).ReadAll(testColumns)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}

	for i := range rows {
		for j := range rows[i] {
			want, have := rows[i][j], got[i][j]
			if wt, ok := want.(time.Time); ok {
				ht, ok := have.(time.Time)
				if !ok || !ht.Equal(wt) {
					t.Errorf("row %d col %d: expected %v, got %#v", i, j, wt, have)
				}
				continue
			}
			if want != have {
				t.Errorf("row %d col %d: expected %#v, got %#v", i, j, want, have)
			}
		}
	}

	// An empty string and NULL must stay distinct.
	if got[4][1] != "" {
		t.Errorf("expected empty string, got %#v", got[4][1])
	}
	if got[5][1] != nil {
		t.Errorf("expected NULL, got %#v", got[5][1])
	}
}

func TestCSVDecoderErrors(t *testing.T) {
	columns := []table.Column{{Name: "a", Type: table.TypeString}, {Name: "b", Type: table.TypeInt}}

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"unterminated quote", "\"a\",\"b\"\n\"x\",\"1\n", ErrUnterminatedQuote},
		{"bare quote", "\"a\",\"b\"\nx\"y,\"1\"\n", ErrBareQuote},
		{"trailing data", "\"a\",\"b\"\n\"x\"y,\"1\"\n", ErrTrailingData},
		{"header mismatch", "\"a\",\"c\"\n", ErrHeaderMismatch},
		{"short record", "\"a\",\"b\"\n\"x\"\n", table.ErrRowWidth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCSVDecoder(strings.NewReader(tt.input)).ReadAll(columns)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("bad integer", func(t *testing.T) {
		_, err := NewCSVDecoder(strings.NewReader("\"a\",\"b\"\n\"x\",\"one\"\n")).ReadAll(columns)
		if err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestGetFormatter(t *testing.T) {
	tests := []struct {
		format     string
		ext        string
		copyFormat string
	}{
		{FormatCSV, ".csv", "FORMAT AS CSV IGNOREHEADER 1 NULL AS ''"},
		{FormatJSONL, ".jsonl", "FORMAT AS JSON 'auto ignorecase'"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			f, err := GetFormatter(tt.format)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Extension() != tt.ext {
				t.Errorf("expected extension %s, got %s", tt.ext, f.Extension())
			}
			if f.CopyFormat() != tt.copyFormat {
				t.Errorf("expected COPY format %q, got %q", tt.copyFormat, f.CopyFormat())
			}
		})
	}

	if _, err := GetFormatter(FormatParquet); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected parquet staging to be rejected, got %v", err)
	}
}
