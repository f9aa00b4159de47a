package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

var checkInfo = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func TestLoggingUnary_RecordsLedgerState(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	healthy := true
	ic := LoggingUnary(zap.New(core), func() bool { return healthy })
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	ok := func(context.Context, any) (any, error) { return "ok", nil }

	resp, err := ic(ctx, &healthpb.HealthCheckRequest{Service: LedgerService}, checkInfo, ok)
	if err != nil || resp.(string) != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	healthy = false
	if _, err := ic(ctx, &healthpb.HealthCheckRequest{}, checkInfo, ok); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("want 2 log entries, got %d", len(entries))
	}
	first, second := entries[0].ContextMap(), entries[1].ContextMap()
	if first["service"] != LedgerService || first["ledger_read_only"] != false || first["peer"] != "127.0.0.1:12345" {
		t.Fatalf("first entry fields: %v", first)
	}
	if second["service"] != "server" || second["ledger_read_only"] != true {
		t.Fatalf("second entry fields: %v", second)
	}
	if entries[0].Level != zapcore.DebugLevel {
		t.Fatalf("successful calls log at debug, got %v", entries[0].Level)
	}
}

func TestLoggingUnary_FailuresWarnAndPassThrough(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingUnary(zap.New(core), nil)

	wantErr := status.Error(codes.NotFound, "unknown service")
	_, err := ic(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"}, checkInfo,
		func(context.Context, any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}

	entries := logs.FilterMessage("admin rpc").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("want one warn entry, got %+v", entries)
	}
	fields := entries[0].ContextMap()
	if fields["code"] != codes.NotFound.String() {
		t.Fatalf("code field: %v", fields["code"])
	}
	if _, ok := fields["ledger_read_only"]; ok {
		t.Fatalf("no health source, no ledger field")
	}
}

func TestRecoverUnary(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/chat.Admin/Panic"}

	_, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) { panic("oh no") })
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}

	resp, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("pass through: %v, %v", resp, err)
	}
}

type fakeStream struct{ grpc.ServerStream }

func TestRecoverStream_CatchesPanic(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	ic := RecoverStream(zap.New(core))
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	err := ic(nil, fakeStream{}, info, func(any, grpc.ServerStream) error { panic("oh no") })
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
	if logs.FilterMessage("admin rpc panic").Len() != 1 {
		t.Fatalf("panic not logged")
	}

	err = ic(nil, fakeStream{}, info, func(any, grpc.ServerStream) error { return nil })
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
