package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/halaqah/authcore"
	"github.com/halaqah/authcore/directory"
	"github.com/halaqah/authcore/httpapi"
	otelexport "github.com/halaqah/authcore/metrics/export/otel"
	promexport "github.com/halaqah/authcore/metrics/export/prometheus"
	"github.com/halaqah/authcore/middleware"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(envFile)
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")
	return cmd
}

// runtime holds the long-lived dependencies shared by the commands.
type runtime struct {
	engine *authcore.Engine
	redis  *redis.Client
}

func newRuntime(ctx context.Context, cfg serverConfig, logger *slog.Logger) (*runtime, error) {
	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return nil, err
	}

	rt := &runtime{}
	builder := authcore.New().
		WithConfig(engineCfg).
		WithLogger(logger)
	if cfg.AuditLog {
		builder = builder.WithAuditSink(authcore.NewSlogSink(logger.With(slog.String("component", "audit"))))
	}

	if cfg.RedisAddr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rt.redis.Ping(pingCtx).Err(); err != nil {
			_ = rt.redis.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		builder = builder.WithRedis(rt.redis)
	}

	rt.engine, err = builder.Build()
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.engine != nil {
		rt.engine.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}

func serve(ctx context.Context, cfg serverConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()
	engine := rt.engine

	report := engine.SecurityReport()
	logger.Info("security posture",
		slog.Bool("production", report.ProductionMode),
		slog.Bool("distributed_store", report.DistributedStore),
		slog.String("ip_mismatch_policy", report.IPMismatchPolicy),
		slog.String("auth_rate_limit", report.AuthRateLimit))
	for _, w := range report.Warnings {
		logger.Warn("security warning", slog.String("warning", w))
	}

	var auth httpapi.Authenticator = denyAll{}
	if cfg.UsersFile != "" {
		dir, err := directory.Load(cfg.UsersFile)
		if err != nil {
			return err
		}
		logger.Info("user directory loaded", slog.String("path", cfg.UsersFile), slog.Int("users", dir.Len()))
		auth = dir
	} else {
		logger.Warn("USERS_FILE not set; every login will be refused")
	}

	otelMetrics, err := otelexport.NewExporter(otel.GetMeterProvider().Meter("github.com/halaqah/authcore"), engine)
	if err != nil {
		return fmt.Errorf("register otel metrics: %w", err)
	}
	defer otelMetrics.Close()

	gate, err := middleware.Gate(engine, middleware.GateConfig{TrustProxy: cfg.TrustProxy})
	if err != nil {
		return err
	}

	app := http.NewServeMux()
	httpapi.New(engine, auth, httpapi.Options{TrustProxy: cfg.TrustProxy}).Register(app)
	app.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	root := http.NewServeMux()
	root.Handle("GET /metrics", promexport.NewExporter(engine).Handler())
	root.Handle("/", gate(app))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		logger.Info("server starting", slog.String("address", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return engine.RunSweeper(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		return err
	}
	logger.Info("server exited gracefully")
	return nil
}

// denyAll refuses every login when no user directory is configured.
type denyAll struct{}

func (denyAll) Authenticate(context.Context, string, string) (httpapi.Identity, error) {
	return httpapi.Identity{}, httpapi.ErrInvalidCredentials
}
