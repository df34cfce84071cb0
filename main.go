package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/FahadPatwary/seriousserver/bus"
	"github.com/FahadPatwary/seriousserver/config"
	"github.com/FahadPatwary/seriousserver/hub"
	"github.com/FahadPatwary/seriousserver/metrics"
	"github.com/FahadPatwary/seriousserver/protocol"
	"github.com/FahadPatwary/seriousserver/ratelimit"
	"github.com/FahadPatwary/seriousserver/server"
	ws "github.com/FahadPatwary/seriousserver/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rooms := hub.New(hub.WithStaleAfter(cfg.StateStaleAfter))
	limiter := ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow)
	opts := []protocol.Option{protocol.WithMetrics(m)}

	var redisBus *bus.RedisBus
	if cfg.Redis.Enabled() {
		redisBus, err = bus.NewRedisBus(ctx, bus.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.ChannelPrefix,
		})
		if err != nil {
			slog.Error("redis connect", "error", err)
			os.Exit(1)
		}
		defer redisBus.Close()
		opts = append(opts, protocol.WithPublisher(redisBus))
		slog.Info("cluster fan-out enabled", "redis", cfg.Redis.Addr, "instance", redisBus.Instance())
	}

	handler := protocol.NewHandler(rooms, limiter, opts...)
	if redisBus != nil {
		go redisBus.Run(ctx)
		go redisBus.Subscribe(ctx, handler.DeliverRemote)
	}

	wsServer := ws.NewServer(handler,
		ws.WithMaxMessageSize(cfg.MaxMessageSize),
		ws.WithCheckOrigin(originChecker(cfg.AllowedOrigins)),
	)
	router := server.NewRouter(server.Options{
		WS:             wsServer,
		Stats:          rooms,
		Gatherer:       reg,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	srv := server.NewHTTPServer(cfg.Addr(), router)

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
