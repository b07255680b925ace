package compressors

import (
	"io"

	"github.com/golang/snappy"

	"github.com/INLOpen/mimir/core"
)

// SnappyCompressor uses the snappy framing format.
type SnappyCompressor struct{}

var _ Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (c *SnappyCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

func (c *SnappyCompressor) Type() core.CompressionType { return core.CompressionSnappy }

func (c *SnappyCompressor) Extension() string { return ".sz" }
