package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/t-hamamura/market-research-system/internal/config"
	"github.com/t-hamamura/market-research-system/internal/engine"
	"github.com/t-hamamura/market-research-system/internal/llm"
	"github.com/t-hamamura/market-research-system/internal/notion"
	"github.com/t-hamamura/market-research-system/internal/server"
	"github.com/t-hamamura/market-research-system/internal/store"
)

func main() {
	// .env is optional; real deployments inject env vars directly.
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load()

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		log.Fatal("failed to open database", zap.String("path", cfg.Store.Path), zap.Error(err))
	}
	defer st.Close()

	gemini := llm.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Endpoint, log)
	if !gemini.IsConfigured() {
		log.Warn("GEMINI_API_KEY not set; runs will produce fallback content only")
	}

	docs := notion.NewClient(cfg.Notion.APIKey, cfg.Notion.DatabaseID, cfg.Notion.Properties, log)
	if !docs.IsConfigured() {
		log.Warn("Notion not configured; document tracking disabled")
	}

	inv := llm.NewInvoker(llm.InvokerConfig{
		MinInterval:    time.Duration(cfg.Limiter.MinIntervalMS) * time.Millisecond,
		MaxAttempts:    cfg.Limiter.MaxAttempts,
		BaseBackoff:    time.Duration(cfg.Limiter.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Limiter.MaxBackoffMS) * time.Millisecond,
		RetryDelay:     time.Duration(cfg.Limiter.RetryDelayMS) * time.Millisecond,
		MinResponseLen: cfg.Limiter.MinResponseLen,
	}, log)

	eng := engine.New(gemini, docs, inv, st, log, engine.Options{
		GenTimeout:   time.Duration(cfg.Pipeline.StepTimeoutSeconds) * time.Second,
		SuccessDelay: time.Duration(cfg.Pipeline.SuccessDelayMS) * time.Millisecond,
		FailureDelay: time.Duration(cfg.Pipeline.FailureDelayMS) * time.Millisecond,
	})

	srv := server.New(eng, st, gemini, docs, cfg.Server.Port, log)
	log.Info("starting market research service", zap.Int("port", cfg.Server.Port))
	if err := srv.Start(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
