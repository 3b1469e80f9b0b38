package compressors

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestGetCompressor(t *testing.T) {
	tests := []struct {
		name       string
		ext        string
		copyOption string
	}{
		{Gzip, ".gz", "GZIP"},
		{Zstd, ".zst", "ZSTD"},
		{None, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := GetCompressor(tt.name)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Extension() != tt.ext {
				t.Errorf("expected extension %q, got %q", tt.ext, c.Extension())
			}
			if c.CopyOption() != tt.copyOption {
				t.Errorf("expected COPY option %q, got %q", tt.copyOption, c.CopyOption())
			}
		})
	}

	t.Run("lz4 is rejected", func(t *testing.T) {
		_, err := GetCompressor("lz4")
		if !errors.Is(err, ErrUnsupportedCompression) {
			t.Fatalf("expected ErrUnsupportedCompression, got %v", err)
		}
	})
}

func TestStreamRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("\"1\",\"AAPL\",\"187.44\"\n", 2000))

	for _, name := range []string{Gzip, Zstd, None} {
		t.Run(name, func(t *testing.T) {
			c, err := GetCompressor(name)
			if err != nil {
				t.Fatal(err)
			}

			var buf bytes.Buffer
			w, err := c.NewWriter(&buf, c.DefaultLevel())
			if err != nil {
				t.Fatal(err)
			}
			if _, err := w.Write(payload); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			if name != None && buf.Len() >= len(payload) {
				t.Errorf("expected compressed output smaller than %d bytes, got %d", len(payload), buf.Len())
			}

			r, err := c.NewReader(&buf)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatal("round trip changed the payload")
			}
		})
	}
}

func TestDetectFromFilename(t *testing.T) {
	tests := map[string]string{
		"trades.csv.gz":    Gzip,
		"trades.JSONL.ZST": Zstd,
		"trades.parquet":   None,
		"trades.csv":       None,
	}
	for filename, want := range tests {
		if got := DetectFromFilename(filename); got != want {
			t.Errorf("%s: expected %s, got %s", filename, want, got)
		}
	}
}
