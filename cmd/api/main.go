package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yuchenzhao/emolens/backend/internal/config"
	"github.com/yuchenzhao/emolens/backend/internal/handler"
	"github.com/yuchenzhao/emolens/backend/internal/service/classify"
	sessionservice "github.com/yuchenzhao/emolens/backend/internal/service/session"
	"github.com/yuchenzhao/emolens/backend/internal/storage/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize optional persistence
	var store sessionservice.Store
	if cfg.Storage.Enabled() {
		db, err := postgres.Connect(ctx, cfg.Storage.DSN)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to ensure schema: %v", err)
		}
		store = postgres.NewStore(db)
		log.Println("Postgres persistence enabled")
	} else {
		log.Println("DATABASE_URL 未配置，会话仅保存在内存中")
	}

	// Initialize session aggregation engine
	sessionSvc := sessionservice.NewService(sessionservice.Config{
		Window:           cfg.Engine.Window,
		AlertLow:         cfg.Engine.AlertLow,
		AlertHigh:        cfg.Engine.AlertHigh,
		Staleness:        cfg.Engine.Staleness,
		TimelineLimit:    cfg.Engine.TimelineLimit,
		BucketInterval:   cfg.Engine.BucketInterval,
		AnomalyThreshold: cfg.Engine.AnomalyThreshold,
	}, store)

	// Initialize optional frame classifier
	var classifySvc *classify.Service
	if cfg.AI.Enabled() && cfg.AI.ClassifierEnabled {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize frame classifier: %v", err)
			log.Println("continuing without frame classification - 请检查 Ark 模型相关环境变量")
		} else {
			classifySvc = classify.NewService(chatModel, true)
			log.Println("Frame classifier initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过帧分类功能初始化")
	}

	router := handler.NewRouter(sessionSvc, classifySvc)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("EmoLens backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
