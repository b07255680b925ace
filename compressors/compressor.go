// Package compressors wraps log files in a stream compression format.
package compressors

import (
	"fmt"
	"io"

	"github.com/INLOpen/mimir/core"
)

// Compressor produces compressing writers and decompressing readers for one
// format.
type Compressor interface {
	Type() core.CompressionType
	// NewWriter returns a writer whose Close flushes the compressed stream.
	// Closing it does not close w.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	// Extension is the conventional file suffix, including the dot, or "".
	Extension() string
}

// New returns the Compressor for t.
func New(t core.CompressionType) (Compressor, error) {
	switch t {
	case core.CompressionNone:
		return NewNoCompressionCompressor(), nil
	case core.CompressionGzip:
		return NewGzipCompressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	default:
		return nil, fmt.Errorf("unsupported compression type %d", t)
	}
}

// ByName parses name and returns the matching Compressor.
func ByName(name string) (Compressor, error) {
	t, err := core.ParseCompressionType(name)
	if err != nil {
		return nil, err
	}
	return New(t)
}
