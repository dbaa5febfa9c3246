package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/collab-copilot/backend/internal/config"
	"github.com/zhouzirui/collab-copilot/backend/internal/handler"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/ai"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/meeting"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/notify"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/realtime"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/session"
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

	// Session storage: redis when configured, memory otherwise
	var storage session.Storage = session.NewMemoryStorage()
	if cfg.Session.RedisURL != "" {
		redisStorage, err := session.NewRedisStorage(ctx, cfg.Session.RedisURL, cfg.Session.KeyPrefix, cfg.Session.TTL)
		if err != nil {
			log.Printf("warning: failed to connect to redis: %v", err)
			log.Println("continuing with in-memory session storage")
		} else {
			defer redisStorage.Close()
			storage = redisStorage
			log.Println("Redis session storage initialized successfully")
		}
	} else {
		log.Println("REDIS_URL 未配置，使用内存会话存储")
	}

	notices := notify.NewHub()

	remoteOpts := realtime.DefaultRemoteOptions()
	remoteOpts.MaxRetries = cfg.Realtime.MaxRetries
	remoteOpts.RetryDelay = cfg.Realtime.RetryDelay

	manager := realtime.NewManager(realtime.ManagerConfig{
		ServerURL:      cfg.Realtime.ServerURL,
		ConnectTimeout: cfg.Realtime.ConnectTimeout,
		Remote:         remoteOpts,
		LocalMode:      cfg.Realtime.ForceLocal,
	}, realtime.NewLocalChannel(cfg.Realtime.LocalDelay), notices)
	defer manager.Close()

	store := meeting.NewStore(manager, storage, notices, meeting.User{
		ID:   cfg.User.ID,
		Name: cfg.User.Name,
	})
	if err := store.Restore(ctx); err != nil {
		log.Printf("warning: failed to restore meeting state: %v", err)
	}

	// Initialize AI summarizer
	var summarizer *ai.Summarizer
	if cfg.AI.Enabled() {
		summarizer, err = ai.NewSummarizer(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI summarizer: %v", err)
			log.Println("continuing without AI summaries - 请检查 Ark 模型相关环境变量")
			summarizer = nil
		} else {
			log.Println("AI summarizer initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 摘要功能初始化")
	}

	router := handler.NewRouter(store, manager, notices, summarizer)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Printf("CollabCopilot backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
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
