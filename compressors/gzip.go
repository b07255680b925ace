package compressors

import (
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/INLOpen/mimir/core"
)

// GzipCompressor writes gzip streams readable by any gzip tool.
type GzipCompressor struct {
	level int
}

var _ Compressor = (*GzipCompressor)(nil)

func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{level: gzip.DefaultCompression}
}

func (c *GzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

func (c *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func (c *GzipCompressor) Type() core.CompressionType { return core.CompressionGzip }

func (c *GzipCompressor) Extension() string { return ".gz" }
