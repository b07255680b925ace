package zmq

import (
	"encoding/json"
	"fmt"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/transport"
)

// requestCommand opens every snapshot request.
const requestCommand = "ICANHAZ?"

// decodeLive turns a [seq, entry] message into an envelope. A payload that is
// not a JSON object is delivered with a nil Entry: the sequence number is
// still valid and must advance the reconciler.
func decodeLive(parts [][]byte) (core.Envelope, error) {
	if len(parts) != 2 {
		return core.Envelope{}, &core.ProtocolError{Op: "recv", Msg: fmt.Sprintf("expected 2 frames, got %d", len(parts))}
	}
	seq, err := core.ParseSeq(parts[0])
	if err != nil {
		return core.Envelope{}, &core.ProtocolError{Op: "recv", Msg: "bad sequence frame", Err: err}
	}
	entry, err := core.DecodeEntry(parts[1])
	if err != nil {
		return core.Envelope{Seq: seq}, nil
	}
	return core.Envelope{Seq: seq, Entry: entry}, nil
}

func encodeRequest(filterKeys []string) ([]string, error) {
	if len(filterKeys) == 0 {
		return []string{requestCommand}, nil
	}
	keys, err := json.Marshal(filterKeys)
	if err != nil {
		return nil, err
	}
	return []string{requestCommand, string(keys)}, nil
}

// decodeRequest parses the frames following the ROUTER identity frame.
func decodeRequest(parts [][]byte) ([]string, error) {
	if len(parts) == 0 || string(parts[0]) != requestCommand {
		return nil, &core.ProtocolError{Op: "serve snapshot", Msg: "unknown request"}
	}
	if len(parts) == 1 || len(parts[1]) == 0 {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal(parts[1], &keys); err != nil {
		return nil, &core.ProtocolError{Op: "serve snapshot", Msg: "bad filter keys", Err: err}
	}
	return keys, nil
}

func decodeReply(parts [][]byte) (transport.RawSnapshot, error) {
	if len(parts) != 2 {
		return transport.RawSnapshot{}, &core.ProtocolError{Op: "request snapshot", Msg: fmt.Sprintf("expected 2 frames, got %d", len(parts))}
	}
	seq, err := core.ParseSeq(parts[0])
	if err != nil {
		return transport.RawSnapshot{}, &core.ProtocolError{Op: "request snapshot", Msg: "bad sequence frame", Err: err}
	}
	return transport.RawSnapshot{Seq: seq, Payload: parts[1]}, nil
}
