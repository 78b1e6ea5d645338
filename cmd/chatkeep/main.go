package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatkeep/chatkeep/internal/chat"
	"github.com/chatkeep/chatkeep/internal/config"
	"github.com/chatkeep/chatkeep/internal/conversation"
	"github.com/chatkeep/chatkeep/internal/history"
	"github.com/chatkeep/chatkeep/internal/llm"
	"github.com/chatkeep/chatkeep/internal/logger"
	"github.com/chatkeep/chatkeep/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	store, err := history.NewStore(history.Driver(cfg.Store.Driver),
		history.WithPath(cfg.Store.Path),
		history.WithDSN(cfg.Store.DSN),
		history.WithRedisAddr(cfg.Store.RedisAddr),
		history.WithRedisPassword(cfg.Store.RedisPassword),
		history.WithRedisDB(cfg.Store.RedisDB),
		history.WithTTL(cfg.Store.TTL),
	)
	if err != nil {
		logger.L.Error("failed to open history store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}

	llmClient := llm.NewClient(cfg.LLM)
	assembler := conversation.NewAssembler(store, cfg.LLM.SystemPrompt)
	orchestrator := chat.New(llmClient, assembler, store, cfg.LLM)

	e := server.New(server.NewHandler(orchestrator, store))

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.L.Info("starting server", "address", addr, "driver", cfg.Store.Driver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.L.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("failed to shut down gracefully", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.L.Error("failed to close history store", "error", err)
	}
	logger.L.Info("stopped")
}
