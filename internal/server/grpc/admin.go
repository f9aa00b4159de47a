// Package grpcserver is the admin gRPC endpoint. It serves the standard
// health protocol, whose status follows the ledger's read-only flag.
package grpcserver

import (
	"net"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// LedgerService is the health service name that tracks the integrity ledger.
const LedgerService = "chat.Ledger"

// HealthSource pushes healthy/read-only transitions, starting with the current state.
type HealthSource interface {
	Subscribe(fn func(healthy bool))
}

// Admin owns the gRPC server and its health registry.
type Admin struct {
	srv     *grpc.Server
	health  *health.Server
	healthy atomic.Bool
	log     *zap.Logger
}

// NewAdmin builds the server. dev enables reflection.
func NewAdmin(src HealthSource, dev bool, logger *zap.Logger) *Admin {
	a := &Admin{health: health.NewServer(), log: logger}
	a.healthy.Store(true)
	a.srv = grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(logger), LoggingUnary(logger, a.healthy.Load)),
		grpc.ChainStreamInterceptor(RecoverStream(logger)),
	)
	healthpb.RegisterHealthServer(a.srv, a.health)
	if dev {
		reflection.Register(a.srv)
	}
	src.Subscribe(a.setLedgerHealthy)
	return a
}

// The process keeps serving reads in read-only mode, so only the ledger
// service goes NOT_SERVING.
func (a *Admin) setLedgerHealthy(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	a.healthy.Store(ok)
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(LedgerService, st)
	a.log.Info("ledger health", zap.String("status", st.String()))
}

// Serve blocks until the listener fails or the server stops.
func (a *Admin) Serve(lis net.Listener) error { return a.srv.Serve(lis) }

// GracefulStop drains in-flight RPCs and marks every service NOT_SERVING.
func (a *Admin) GracefulStop() {
	a.health.Shutdown()
	a.srv.GracefulStop()
}

// Stop closes every connection immediately.
func (a *Admin) Stop() { a.srv.Stop() }
