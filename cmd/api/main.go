package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"vcall-platform/internal/auth"
	"vcall-platform/internal/config"
	"vcall-platform/internal/httpapi"
	"vcall-platform/internal/media"
	"vcall-platform/internal/notify"
	"vcall-platform/internal/recording"
	"vcall-platform/internal/segment"
	"vcall-platform/internal/session"
	"vcall-platform/internal/signal"
	"vcall-platform/pkg/logger"
	"vcall-platform/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	sessionStore := session.NewSQLStore(db)
	recordingStore := recording.NewSQLStore(db)
	segments := segment.NewStore(cfg.Storage.SegmentsDir)
	merger := media.NewMerger(cfg.FFmpeg.Bin, media.ExecRunner{Timeout: cfg.FFmpeg.Timeout})
	finalizeLock := utils.NewSessionLock(rdb, cfg.FFmpeg.Timeout+time.Minute)
	webhook := notify.NewWebhook(cfg.Notify.WebhookURL, log)

	sessionSvc := session.NewService(sessionStore, cfg.Session)
	recordingSvc := recording.NewService(
		sessionStore, recordingStore, segments, merger,
		finalizeLock, webhook, cfg.Storage, log,
	)

	hub := signal.NewHub(log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Sessions:   sessionSvc,
			Recordings: recordingSvc,
			Segments:   segments,
			Cfg:        cfg,
		},
		authMW:    auth.RequireToken(authManager),
		signaling: signal.Handler(hub, log),
		publicDir: cfg.Storage.PublicDir,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
