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
	"github.com/zhouzirui/tavern-room/backend/internal/config"
	"github.com/zhouzirui/tavern-room/backend/internal/handler"
	"github.com/zhouzirui/tavern-room/backend/internal/middleware"
	"github.com/zhouzirui/tavern-room/backend/internal/service/ai"
	"github.com/zhouzirui/tavern-room/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/service/identity"
	"github.com/zhouzirui/tavern-room/backend/internal/service/room"
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

	stores, err := openStores(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Printf("warning: failed to close storage: %v", err)
		}
	}()

	// Initialize AI service; without credentials addressed messages get an error reply
	var responder ai.Responder
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, cfg.Chat.ResponderName)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else {
			responder = aiService
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}
	gateway := ai.NewGateway(responder, cfg.Chat.ResponderName, cfg.Chat.ResponderTimeout)

	chatService := chat.NewService(stores.directory, stores.messages, room.NewHub(), gateway, chat.Options{
		DefaultRoom:  cfg.Chat.DefaultRoom,
		StoreTimeout: cfg.Chat.StoreTimeout,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})

	issuer, err := identity.NewIssuer(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
	if err != nil {
		log.Fatalf("failed to initialize session issuer: %v", err)
	}
	auth := middleware.NewAuth(issuer, cfg.Auth.CookieName, cfg.Auth.SecureCookie)

	origins := middleware.NewOriginPolicy(cfg.Server.AllowedOrigins)
	router := handler.NewRouter(chatService, stores.profiles, auth, origins, cfg.Chat.ConnectionBuffer)

	startServer(ctx, cfg.Server, router, chatService)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, chatService *chat.Service) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Tavern room backend listening on %s", addr)
	if err := runServer(ctx, srv, chatService); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server, chatService *chat.Service) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		// 等待仍在进行的自动回复写入并广播
		if err := chatService.Shutdown(shutdownCtx); err != nil {
			log.Printf("warning: pending replies abandoned: %v", err)
		}
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
