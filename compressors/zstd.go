package compressors

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/INLOpen/mimir/core"
)

// ZstdCompressor reuses encoders and decoders across streams.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

var _ Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{}
}

// zstdWriteCloser returns its encoder to the pool once the stream is closed.
type zstdWriteCloser struct {
	*zstd.Encoder
	pool *sync.Pool
}

func (zwc *zstdWriteCloser) Close() error {
	err := zwc.Encoder.Close()
	zwc.pool.Put(zwc.Encoder)
	return err
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

func (zrc *zstdReadCloser) Close() error {
	// Decoder.Close would make the decoder unusable; Reset(nil) releases the
	// source instead.
	zrc.Decoder.Reset(nil)
	zrc.pool.Put(zrc.Decoder)
	return nil
}

func (c *ZstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	if enc, ok := c.encoderPool.Get().(*zstd.Encoder); ok {
		enc.Reset(w)
		return &zstdWriteCloser{Encoder: enc, pool: &c.encoderPool}, nil
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return &zstdWriteCloser{Encoder: enc, pool: &c.encoderPool}, nil
}

func (c *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	if dec, ok := c.decoderPool.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(r); err != nil {
			c.decoderPool.Put(dec)
			return nil, fmt.Errorf("zstd decoder reset error: %w", err)
		}
		return &zstdReadCloser{Decoder: dec, pool: &c.decoderPool}, nil
	}
	dec, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(100*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: &c.decoderPool}, nil
}

func (c *ZstdCompressor) Type() core.CompressionType { return core.CompressionZSTD }

func (c *ZstdCompressor) Extension() string { return ".zst" }
