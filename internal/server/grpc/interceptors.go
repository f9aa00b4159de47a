package grpcserver

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingUnary logs every admin call with the ledger state it was answered
// under. ledgerHealthy may be nil. Failed calls log at warn level.
func LoggingUnary(log *zap.Logger, ledgerHealthy func() bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			fields = append(fields, zap.String("peer", p.Addr.String()))
		}
		if hc, ok := req.(*healthpb.HealthCheckRequest); ok {
			fields = append(fields, zap.String("service", serviceName(hc.GetService())))
		}
		if ledgerHealthy != nil {
			fields = append(fields, zap.Bool("ledger_read_only", !ledgerHealthy()))
		}

		if code != codes.OK {
			log.Warn("admin rpc", fields...)
		} else {
			log.Debug("admin rpc", fields...)
		}
		return resp, err
	}
}

func serviceName(s string) string {
	if s == "" {
		return "server"
	}
	return s
}

// RecoverUnary turns a panic in a handler into codes.Internal.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer recovered(log, info.FullMethod, &err)
		return next(ctx, req)
	}
}

// RecoverStream is the streaming counterpart of RecoverUnary (health Watch).
func RecoverStream(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) (err error) {
		defer recovered(log, info.FullMethod, &err)
		return next(srv, ss)
	}
}

// recovered must be deferred directly.
func recovered(log *zap.Logger, method string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	log.Error("admin rpc panic",
		zap.String("method", method),
		zap.Any("reason", r),
		zap.ByteString("stack", debug.Stack()),
	)
	*err = status.Error(codes.Internal, "internal")
}
