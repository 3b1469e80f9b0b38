package compressors

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedCompression is returned when an unsupported compression type is requested
var ErrUnsupportedCompression = errors.New("unsupported compression type")

// Compression names accepted by GetCompressor
const (
	Gzip = "gzip"
	Zstd = "zstd"
	None = "none"
)

// Compressor defines the interface for compression handlers
type Compressor interface {
	// NewWriter wraps w so that everything written to it is compressed
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)

	// NewReader wraps r so that reads return decompressed data
	NewReader(r io.Reader) (io.ReadCloser, error)

	// Extension returns the file extension for this compression (e.g., ".zst", ".gz")
	Extension() string

	// DefaultLevel returns the default compression level
	DefaultLevel() int

	// CopyOption returns the keyword that tells a Redshift COPY how the files are compressed
	CopyOption() string
}

// GetCompressor returns the appropriate compressor based on the compression string
func GetCompressor(compression string) (Compressor, error) {
	switch compression {
	case Zstd:
		return NewZstdCompressor(), nil
	case Gzip:
		return NewGzipCompressor(), nil
	case None:
		return NewNoneCompressor(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, compression)
	}
}

// DetectFromFilename returns the compression implied by a file name's extension
func DetectFromFilename(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".zst"):
		return Zstd
	case strings.HasSuffix(lower, ".gz"):
		return Gzip
	default:
		return None
	}
}
