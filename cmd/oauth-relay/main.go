package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oauthrelay/oauthrelay/pkg/prettylog"
	"github.com/oauthrelay/oauthrelay/pkg/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	godotenv.Load()

	cfg, err := relay.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	setupLogger(cfg)

	opts := []relay.Option{
		relay.WithSessionTTL(cfg.SessionTTL),
		relay.WithAllowedOrigins(cfg.AllowedOrigins),
	}
	if cfg.OriginPolicyPath != "" {
		policy, err := relay.LoadOriginPolicy(cfg.OriginPolicyPath)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, relay.WithOriginPolicy(policy))
	}

	server, err := relay.NewServer(opts...)
	if err != nil {
		log.Fatal(err)
	}

	metricsHandler, err := relay.RegisterMetrics(prometheus.DefaultRegisterer, server.Store())
	if err != nil {
		log.Fatal(err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	server.MountRoutes(e)
	e.GET("/metrics", echo.WrapHandler(metricsHandler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := relay.NewSweeper(server.Store(), cfg.SweepInterval)
	go sweeper.Run(ctx)

	go func() {
		slog.Info("starting relay",
			"addr", cfg.Addr,
			"session_ttl", cfg.SessionTTL,
			"sweep_interval", cfg.SweepInterval,
			"version", relay.Version,
		)
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}

func setupLogger(cfg relay.Config) {
	level := parseLevel(cfg.LogLevel)
	if strings.EqualFold(cfg.Env, "prod") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}
	slog.SetDefault(slog.New(prettylog.NewHandler(level)))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
