package compressors

import (
	"io"

	"github.com/INLOpen/mimir/core"
)

// NoCompressionCompressor passes bytes through unchanged.
type NoCompressionCompressor struct{}

var _ Compressor = (*NoCompressionCompressor)(nil)

func NewNoCompressionCompressor() *NoCompressionCompressor {
	return &NoCompressionCompressor{}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func (c *NoCompressionCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{Writer: w}, nil
}

func (c *NoCompressionCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func (c *NoCompressionCompressor) Type() core.CompressionType { return core.CompressionNone }

func (c *NoCompressionCompressor) Extension() string { return "" }
