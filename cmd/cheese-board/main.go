package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/Cheese-Board/internal/auth"
	"github.com/park285/Cheese-Board/internal/boardimg"
	appcfg "github.com/park285/Cheese-Board/internal/config"
	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/docstore/pgstore"
	"github.com/park285/Cheese-Board/internal/docstore/redisstore"
	"github.com/park285/Cheese-Board/internal/metrics"
	"github.com/park285/Cheese-Board/internal/msgcat"
	"github.com/park285/Cheese-Board/internal/obslog"
	"github.com/park285/Cheese-Board/internal/playws"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.Named("main")

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server_exit", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) error {
	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("message catalog: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var provider auth.Provider
	if cfg.AuthBaseURL != "" {
		provider = auth.NewRESTClient(cfg.AuthBaseURL, cfg.AuthAPIKey)
	} else {
		logger.Warn("auth_disabled", zap.String("reason", "AUTH_BASE_URL not set"))
	}

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.MetricsEnabled {
		recorder = metrics.Prometheus{}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", playws.NewServer(playws.Options{
		Store:          store,
		Slot:           cfg.GameSlot,
		Provider:       provider,
		Verifier:       auth.NewTokenVerifier(cfg.AuthTokenSecret, "cheese-board"),
		Catalog:        catalog,
		Logger:         obslog.Named("playws"),
		Metrics:        recorder,
		PublishTimeout: cfg.PublishTimeout(),
		OriginPatterns: cfg.AllowedOrigins,
	}))
	mux.Handle("/board.png", boardimg.Handler(boardimg.NewRenderer(), obslog.Named("boardimg")))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server_listening", zap.String("addr", cfg.ListenAddr), zap.String("store", cfg.StoreBackend), zap.String("slot", cfg.GameSlot))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("server_shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *appcfg.AppConfig) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case appcfg.BackendRedis:
		s, err := redisstore.New(cfg.RedisURL, redisstore.WithLogger(obslog.Named("redisstore")))
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		return s, nil
	case appcfg.BackendPostgres:
		s, err := pgstore.New(cfg.DatabaseURL, pgstore.WithLogger(obslog.Named("pgstore")))
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.EnsureSchema(sctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return s, nil
	default:
		return docstore.NewMemory(), nil
	}
}
