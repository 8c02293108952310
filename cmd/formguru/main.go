package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsnet"

	"github.com/squatguru/formguru/internal/config"
	"github.com/squatguru/formguru/internal/detector"
	"github.com/squatguru/formguru/internal/mcp"
	"github.com/squatguru/formguru/internal/metrics"
	"github.com/squatguru/formguru/internal/pipeline"
	"github.com/squatguru/formguru/internal/render"
	"github.com/squatguru/formguru/internal/server"
	"github.com/squatguru/formguru/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	maxUpload := flag.Int64("max-upload-mb", 512, "maximum upload size in MiB")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	log.Info("FormGuru starting", "version", Version)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Run migrations
	dsn := cfg.Database.DSN()
	if err := storage.RunMigrations(dsn, "migrations"); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	// Connect database
	ctx := context.Background()
	db, err := storage.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected")

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("failed to create storage dir", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	// Video pipeline: detector subprocess, optional overlay renderer
	proc := &pipeline.Processor{
		Detector:     detector.Command{Path: cfg.Detector.Command, Args: cfg.Detector.Args},
		ProcessedDir: cfg.Storage.ProcessedDir,
		Log:          log,
	}
	if cfg.Render.Command != "" {
		proc.Renderer = &render.Renderer{Path: cfg.Render.Command, Args: cfg.Render.Args, Log: log}
	} else {
		log.Info("no render command configured, processing writes tracks only")
	}

	// Prometheus registry with pool stats
	promRegistry := metrics.SetupPrometheus(pgxpoolprometheus.NewCollector(
		db.Pool,
		map[string]string{"db_name": cfg.Database.Name},
	))
	metricsManager := metrics.NewManager("formguru", "server", promRegistry)

	// Create server
	srv := server.New(db, proc, server.Options{
		APIKey:         cfg.Auth.APIKey,
		UploadDir:      cfg.Storage.UploadDir,
		ProcessedDir:   cfg.Storage.ProcessedDir,
		BaseURL:        cfg.Server.BaseURL,
		Analysis:       cfg.Options(),
		MaxUploadBytes: *maxUpload << 20,
		Metrics:        metricsManager,
		MetricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	}, log)

	// MCP over streamable HTTP, backed directly by the database
	srv.SetMCP(mcpserver.NewStreamableHTTPServer(mcp.New(db, cfg.Options(), Version, log)))

	// Start server: tsnet or plain HTTP
	var listener net.Listener
	var tsServer *tsnet.Server

	if cfg.Tailscale.Enabled {
		tsServer = &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}
