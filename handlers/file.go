package handlers

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/INLOpen/mimir/compressors"
	"github.com/INLOpen/mimir/core"
)

// FileOptions configures a FileHandler.
type FileOptions struct {
	Compression core.CompressionType
	// Buffered wraps the compressed stream in a bufio.Writer. Faster, but
	// entries still in the buffer are lost if the process dies.
	Buffered bool
	// Append adds to an existing file instead of truncating it. Compressed
	// formats are concatenated as a new stream.
	Append bool
}

// FileHandler writes JSON lines into a possibly compressed file.
type FileHandler struct {
	path string
	file *os.File
	cw   io.WriteCloser
	bw   *bufio.Writer
	json *JSONHandler
}

var _ Handler = (*FileHandler)(nil)

// NewFileHandler opens path. The compressor's extension is appended when
// path does not already end with it.
func NewFileHandler(path string, opts FileOptions) (*FileHandler, error) {
	comp, err := compressors.New(opts.Compression)
	if err != nil {
		return nil, err
	}
	if ext := comp.Extension(); ext != "" && !strings.HasSuffix(path, ext) {
		path += ext
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if opts.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	cw, err := comp.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	h := &FileHandler{path: path, file: f, cw: cw}
	var w io.Writer = cw
	if opts.Buffered {
		h.bw = bufio.NewWriter(cw)
		w = h.bw
	}
	h.json = NewJSONHandler(w)
	return h, nil
}

// Path returns the file name actually used.
func (h *FileHandler) Path() string { return h.path }

func (h *FileHandler) Handle(entry core.LogEntry) error {
	return h.json.Handle(entry)
}

// Close flushes and closes every layer down to the file.
func (h *FileHandler) Close() error {
	var errs []error
	if h.bw != nil {
		errs = append(errs, h.bw.Flush())
	}
	errs = append(errs, h.cw.Close(), h.file.Close())
	return errors.Join(errs...)
}

// ReadLog decodes every JSON line of a log written by FileHandler. The
// compression is derived from the file extension.
func ReadLog(path string) ([]core.LogEntry, error) {
	comp, err := compressors.New(compressionForPath(path))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := comp.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return DecodeLines(r)
}

// DecodeLines reads newline-delimited JSON objects. Blank lines are skipped.
func DecodeLines(r io.Reader) ([]core.LogEntry, error) {
	var entries []core.LogEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		entry, err := core.DecodeEntry(b)
		if err != nil {
			return entries, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

func compressionForPath(path string) core.CompressionType {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return core.CompressionGzip
	case strings.HasSuffix(path, ".zst"):
		return core.CompressionZSTD
	case strings.HasSuffix(path, ".sz"):
		return core.CompressionSnappy
	case strings.HasSuffix(path, ".lz4"):
		return core.CompressionLZ4
	default:
		return core.CompressionNone
	}
}
