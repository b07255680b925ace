package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// LogEntry is a single structured record as produced by the server: an
// unordered mapping from field name to a JSON scalar.
type LogEntry map[string]any

// Lookup returns the value stored under key and whether it was present.
func (e LogEntry) Lookup(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e[key]
	return v, ok
}

// HasAll reports whether every key is present in the entry.
func (e LogEntry) HasAll(keys ...string) bool {
	for _, k := range keys {
		if _, ok := e.Lookup(k); !ok {
			return false
		}
	}
	return true
}

// Envelope pairs a server-assigned sequence number with one LogEntry. Entry is
// nil when the payload could not be decoded.
type Envelope struct {
	Seq   uint64
	Entry LogEntry
}

// Snapshot is the state of the log as of sequence number Seq. Every envelope
// with a sequence number <= Seq is already reflected in Entries.
type Snapshot struct {
	Seq     uint64
	Entries []LogEntry
}

// DecodeEntry decodes a JSON object into a LogEntry.
func DecodeEntry(payload []byte) (LogEntry, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	var entry LogEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DecodeEntries decodes a JSON array of objects. Anything but an array,
// null included, is an error.
func DecodeEntries(payload []byte) ([]LogEntry, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if payload[0] != '[' {
		return nil, fmt.Errorf("payload is not a JSON array")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	entries := make([]LogEntry, 0, len(raw))
	for i, r := range raw {
		entry, err := DecodeEntry(r)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// EncodeEntry encodes a single entry as a JSON object. A nil entry encodes
// as an empty object.
func EncodeEntry(entry LogEntry) ([]byte, error) {
	if entry == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(entry)
}

// EncodeEntries encodes entries as a JSON array, never as null.
func EncodeEntries(entries []LogEntry) ([]byte, error) {
	if entries == nil {
		entries = []LogEntry{}
	}
	return json.Marshal(entries)
}

// FormatSeq renders a sequence number the way it travels on the wire.
func FormatSeq(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// ParseSeq parses a wire sequence number.
func ParseSeq(b []byte) (uint64, error) {
	seq, err := strconv.ParseUint(string(bytes.TrimSpace(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence number %q: %w", b, err)
	}
	return seq, nil
}

// Float64 converts a numeric field value to float64. Strings, booleans and
// nil are not numeric.
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
