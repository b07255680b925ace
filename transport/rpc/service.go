// Package rpc carries the log stream over gRPC: a server-streaming Subscribe
// call for the live feed and a unary Snapshot call. Messages are encoded with
// msgpack; entries themselves travel as JSON objects so that both transports
// deliver identical values.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName = "mimir.v1.LogStream"

	subscribeMethod = "/" + serviceName + "/Subscribe"
	snapshotMethod  = "/" + serviceName + "/Snapshot"

	// snapshotHealthService reports SERVING only when the store keeps history.
	snapshotHealthService = serviceName + ".Snapshot"

	// seqHeader carries the store's sequence number at subscription time.
	seqHeader = "mimir-seq"
)

// SubscribeRequest opens a live stream.
type SubscribeRequest struct {
	// FilterKeys restricts the stream to entries containing every key.
	FilterKeys []string `msgpack:"filter_keys,omitempty"`
}

// Envelope is one live message.
type Envelope struct {
	Seq   uint64 `msgpack:"seq"`
	Entry []byte `msgpack:"entry"`
}

// SnapshotRequest asks for the retained history.
type SnapshotRequest struct {
	FilterKeys []string `msgpack:"filter_keys,omitempty"`
}

// SnapshotResponse holds a JSON array of entries and the sequence number it
// reflects.
type SnapshotResponse struct {
	Seq     uint64 `msgpack:"seq"`
	Entries []byte `msgpack:"entries"`
}

// LogStreamServer is implemented by Server.
type LogStreamServer interface {
	Subscribe(*SubscribeRequest, grpc.ServerStream) error
	Snapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
}

var logStreamDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LogStreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "mimir/v1/logstream",
}

// RegisterLogStreamServer registers srv on s.
func RegisterLogStreamServer(s grpc.ServiceRegistrar, srv LogStreamServer) {
	s.RegisterService(&logStreamDesc, srv)
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogStreamServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: snapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LogStreamServer).Snapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LogStreamServer).Subscribe(in, stream)
}
