// Command chat-server starts the end-to-end encrypted chat backend: the REST
// API, the websocket channel, and the gRPC admin (health) endpoint.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/config"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/ledger"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/limiter"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/migrate"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/observability"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/qkd"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/realtime"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/repository/postgres"
	grpcserver "github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/server/grpc"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/server/httpapi"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// Unledgered rows handled per reconcile pass.
const reconcileBatch = 100

// main loads configuration, migrates the schema, and serves until SIGINT/SIGTERM.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("adminAddr", cfg.AdminAddr),
		zap.Bool("dev", cfg.Dev),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DSN, int32(cfg.DBMaxConns))
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	messageRepo := postgres.NewMessageRepo(db)
	groupRepo := postgres.NewGroupRepo(db)
	blockRepo := postgres.NewBlockRepo(db)

	metrics := observability.NewMetrics()

	// Ledger
	health := ledger.NewHealth()
	health.Subscribe(metrics.SetLedgerHealthy)
	chain := ledger.NewChain(blockRepo, logger.Named("ledger"), ledger.WithObserver(metrics.RecordBlock))

	// Realtime
	hub := realtime.NewHub(metrics, logger.Named("realtime"))
	sessions := newSessionStore(ctx, cfg, logger)

	// Services
	lim := limiter.NewPG(db.Pool, 15*time.Minute, 5, 15*time.Minute)
	authSvc := service.NewAuthService(userRepo, []byte(cfg.JWTKey), cfg.AccessTTL, lim)
	msgSvc := service.NewMessageService(userRepo, messageRepo, chain, health, hub, metrics, logger.Named("messages"))
	groupSvc := service.NewGroupService(groupRepo, hub, metrics, logger.Named("groups"))
	txSvc := service.NewTransactionService(chain, health)

	kx := realtime.NewKeyExchange(sessions, hub, cfg.QKDBits, metrics, logger.Named("qkd"))
	dispatch := realtime.NewDispatcher(hub, kx, groupSvc, metrics, logger.Named("realtime"))
	checkOrigin := func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || strings.HasSuffix(origin, "://"+r.Host)
	}
	if cfg.Dev {
		checkOrigin = func(*http.Request) bool { return true }
	}
	ws := realtime.NewHandler(authSvc, groupSvc, hub, dispatch, checkOrigin, logger.Named("realtime"))

	// Validate the chain before any listener starts, then revalidate
	// periodically and catch up unledgered rows.
	monitor := ledger.NewMonitor(chain, health, cfg.LedgerCheck, func(ctx context.Context) (int, error) {
		return msgSvc.Reconcile(ctx, reconcileBatch)
	}, logger.Named("ledger"))
	if err := monitor.Start(ctx); err != nil {
		logger.Fatal("ledger", zap.Error(err))
	}
	logger.Info("ledger validated", zap.Bool("healthy", health.Healthy()))

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Auth:           authSvc,
			Messages:       msgSvc,
			Groups:         groupSvc,
			Transactions:   txSvc,
			Health:         health,
			Metrics:        metrics,
			MetricsHandler: metrics.Handler(),
			Realtime:       ws,
			Dev:            cfg.Dev,
			Logger:         logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	admin := grpcserver.NewAdmin(health, cfg.Dev, logger.Named("admin"))
	lis, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		logger.Fatal("listen admin", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening (admin gRPC)", zap.String("addr", cfg.AdminAddr))
		errCh <- admin.Serve(lis)
	}()
	go func() {
		logger.Info("listening (HTTP)", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		admin.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		admin.Stop()
	}

	logger.Info("shutdown complete")
}

// newSessionStore picks Redis when configured so several instances share
// key exchanges; otherwise sessions stay in process memory.
func newSessionStore(ctx context.Context, cfg config.Config, logger *zap.Logger) qkd.Store {
	if cfg.RedisAddr == "" {
		mem := qkd.NewMemoryStore(cfg.QKDTTL)
		go mem.RunSweeper(ctx, cfg.QKDTTL)
		return mem
	}
	opts := &redis.Options{Addr: cfg.RedisAddr}
	if strings.Contains(cfg.RedisAddr, "://") {
		parsed, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			logger.Fatal("redis url", zap.Error(err))
		}
		opts = parsed
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping", zap.Error(err))
	}
	logger.Info("qkd sessions in redis", zap.String("addr", opts.Addr))
	return qkd.NewRedisStore(rdb, cfg.QKDTTL)
}
