package core

// CompressionType identifies the stream compression applied to a log file.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
	CompressionGzip   CompressionType = 4
)

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	case CompressionGzip:
		return "gzip"
	default:
		return "unknown"
	}
}

// ParseCompressionType maps a configuration string onto a CompressionType.
func ParseCompressionType(s string) (CompressionType, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	default:
		return CompressionNone, &ValidationError{Field: "compression", Value: s, Message: "unknown compression type"}
	}
}
