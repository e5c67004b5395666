package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/king-of-kingdom/tubegrab/internal/api"
	"github.com/king-of-kingdom/tubegrab/internal/config"
	"github.com/king-of-kingdom/tubegrab/internal/janitor"
	"github.com/king-of-kingdom/tubegrab/internal/metadata"
	"github.com/king-of-kingdom/tubegrab/internal/ratelimit"
	"github.com/king-of-kingdom/tubegrab/internal/service"
	"github.com/king-of-kingdom/tubegrab/internal/store"
	"github.com/king-of-kingdom/tubegrab/internal/taskmgr"
	"github.com/king-of-kingdom/tubegrab/internal/ytdlp"
)

const provisionTimeout = 2 * time.Minute

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DownloadDir, 0755); err != nil {
		log.Fatalf("failed to create download directory: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bin := ytdlp.NewBinary(cfg.Tool.Path, cfg.Tool.AutoInstall, logger)
	provisionCtx, cancel := context.WithTimeout(ctx, provisionTimeout)
	if path, err := bin.Resolve(provisionCtx); err != nil {
		logger.Printf("yt-dlp not ready, retrying on first use: %v", err)
	} else if v := bin.Version(); v != "" {
		logger.Printf("using managed yt-dlp %s at %s", v, path)
	} else {
		logger.Printf("using yt-dlp at %s", path)
	}
	cancel()

	tool := ytdlp.NewClient(bin)
	sources := []metadata.Source{tool}
	if cfg.Metadata.YouTubeFallback {
		sources = append(sources, metadata.NewYouTubeSource())
	}
	info := metadata.NewChain(logger, sources...)

	st := store.NewMemoryStore()
	runner := service.NewRunner(service.RunnerConfig{
		DownloadDir:     cfg.Storage.DownloadDir,
		Timeout:         cfg.Tool.Timeout,
		MetadataTimeout: cfg.Tool.MetadataTimeout,
	}, st, tool, info, logger)
	tm := taskmgr.NewTaskManager(st, runner, cfg.Queue.MaxConcurrent, cfg.Queue.MaxPending, logger)

	limiter := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	jan := janitor.New(janitor.Config{
		Dir:          cfg.Storage.DownloadDir,
		Interval:     cfg.Janitor.Interval,
		FileMaxAge:   cfg.Janitor.FileMaxAge,
		JobMaxAge:    cfg.Janitor.JobMaxAge,
		LimiterSlack: cfg.RateLimit.Window,
	}, st, limiter, logger)
	jan.Sweep()
	if err := jan.Start(); err != nil {
		log.Fatalf("janitor: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	api.RegisterHandlers(r, &api.APIHandler{
		Store:            st,
		Queue:            tm,
		Info:             info,
		ToolReady:        tool.Ready,
		Limiter:          limiter,
		Global:           ratelimit.NewGlobal(cfg.RateLimit.GlobalRPS, cfg.RateLimit.GlobalBurst),
		InfoTimeout:      cfg.Tool.MetadataTimeout,
		ProgressInterval: cfg.Server.ProgressInterval,
		DownloadGrace:    cfg.Server.DownloadGrace,
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("Server starting on :%d...", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Jobs first: progress streams end once their job is terminal.
		if err := tm.Shutdown(shutdownCtx); err != nil {
			logger.Printf("queue shutdown: %v", err)
		}
		if err := jan.Stop(shutdownCtx); err != nil {
			logger.Printf("janitor shutdown: %v", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Println("shutdown complete")
}
