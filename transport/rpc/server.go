package rpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/INLOpen/mimir/core"
	"github.com/INLOpen/mimir/logstore"
)

// Server exposes a logstore.Store as the LogStream service.
type Server struct {
	store     *logstore.Store
	server    *grpc.Server
	healthSrv *health.Server
	logger    *slog.Logger
}

var _ LogStreamServer = (*Server)(nil)

// NewServer creates a gRPC server for store. Extra server options are
// appended after the logging interceptors.
func NewServer(store *logstore.Store, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:     store,
		logger:    logger.With("component", "LogStreamServer"),
		healthSrv: health.NewServer(),
	}

	interceptor := &loggingInterceptor{logger: s.logger}
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(interceptor.Unary()),
		grpc.ChainStreamInterceptor(interceptor.Stream()),
	}, opts...)

	s.server = grpc.NewServer(opts...)
	RegisterLogStreamServer(s.server, s)
	grpc_health_v1.RegisterHealthServer(s.server, s.healthSrv)
	s.healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.healthSrv.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
	snapshotStatus := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if s.store.Persistent() {
		snapshotStatus = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.healthSrv.SetServingStatus(snapshotHealthService, snapshotStatus)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("LogStream server listening", "address", lis.Addr().String())
	return s.server.Serve(lis)
}

// Stop ends open streams and stops the server.
func (s *Server) Stop() {
	s.logger.Info("Stopping LogStream server...")
	s.healthSrv.Shutdown()
	s.server.Stop()
	s.logger.Info("LogStream server stopped.")
}

// Subscribe streams every envelope appended after the call was accepted.
// The response header is sent once the subscription is registered, so a
// client that has read the header cannot miss later entries.
func (s *Server) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	sub := s.store.Subscribe(logstore.SubscriptionFilter{Keys: req.FilterKeys})
	defer sub.Close()

	if err := stream.SendHeader(metadata.Pairs(seqHeader, core.FormatSeq(s.store.Seq()))); err != nil {
		return err
	}
	s.logger.Info("Subscriber attached", "subscription_id", sub.ID, "filter_keys", req.FilterKeys)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Subscriber detached", "subscription_id", sub.ID, "dropped", sub.Dropped())
			return nil
		case env, ok := <-sub.Updates:
			if !ok {
				return status.Error(codes.Unavailable, "log store closed")
			}
			payload, err := core.EncodeEntry(env.Entry)
			if err != nil {
				s.logger.Error("Failed to encode entry", "seq_num", env.Seq, "error", err)
				continue
			}
			if err := stream.SendMsg(&Envelope{Seq: env.Seq, Entry: payload}); err != nil {
				s.logger.Warn("Failed to send envelope", "seq_num", env.Seq, "error", err)
				return err
			}
		}
	}
}

// Snapshot returns the retained history.
func (s *Server) Snapshot(ctx context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	if !s.store.Persistent() {
		return nil, status.Error(codes.FailedPrecondition, "log store keeps no history")
	}
	snap := s.store.Snapshot(req.FilterKeys)
	payload, err := core.EncodeEntries(snap.Entries)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode snapshot: %v", err)
	}
	return &SnapshotResponse{Seq: snap.Seq, Entries: payload}, nil
}

type loggingInterceptor struct {
	logger *slog.Logger
}

func (i *loggingInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			i.logger.Warn("Call failed", "method", info.FullMethod, "code", status.Code(err), "error", err)
		} else {
			i.logger.Debug("Call served", "method", info.FullMethod, "elapsed", time.Since(start))
		}
		return resp, err
	}
}

func (i *loggingInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		i.logger.Debug("Stream ended", "method", info.FullMethod, "elapsed", time.Since(start), "error", err)
		return err
	}
}
