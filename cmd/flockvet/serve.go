package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flockvet/internal/alerts"
	"flockvet/internal/auth"
	"flockvet/internal/core"
	"flockvet/internal/db"
	httpserver "flockvet/internal/http"
	"flockvet/internal/knowledge"
	"flockvet/internal/llm"
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the farmer chat and veterinary dashboard API",
	RunE:  runServe,
}

// migrateCmd applies the database schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the Postgres schema",
	RunE:  runMigrate,
}

// newLLMClient returns nil unless an API key is configured, so callers can
// fall back to local answers.
func newLLMClient() llm.Client {
	if cfg.LLM.APIKey == "" {
		return nil
	}
	return llm.NewOpenAIClient(llm.Config{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		ChatModel:    cfg.LLM.Model,
		SummaryModel: cfg.LLM.SummaryModel,
	})
}

func newChatService(matcher *core.Matcher, client llm.Client) *core.ChatService {
	return core.NewChatService(matcher, core.NewPHService(client, logger), core.ChatConfig{
		ThinkMin:    cfg.Chat.ThinkMin,
		ThinkJitter: cfg.Chat.ThinkJitter,
	}, logger)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	logger.Info("schema migrated")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireServe(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := db.Open(openCtx, cfg.Database.URL)
	if err == nil {
		err = db.Migrate(openCtx, conn)
	}
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	client := newLLMClient()
	if client == nil {
		logger.Warn("OPENAI_API_KEY not set, answering from local rules only")
	}

	matcher := core.NewMatcher(knowledge.Default())
	notifier := db.NewNotifier(conn, cfg.Database.URL, cfg.Database.NotifyChannel, logger)
	hub := alerts.NewHub(logger)

	srv := httpserver.NewServer(httpserver.Deps{
		Store:      db.NewRepository(conn),
		Chat:       newChatService(matcher, client),
		Summarizer: core.NewSummarizer(matcher, client, logger),
		Notifier:   notifier,
		Alerts:     hub,
		Tokens:     auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		MessageCap: cfg.Chat.MessageCap,
		Logger:     logger,
	})
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// End open dashboard streams so Shutdown does not wait on them.
	httpSrv.RegisterOnShutdown(hub.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ids, err := notifier.Listen(gctx)
		if err != nil {
			return err
		}
		return hub.Run(gctx, ids)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	srv.Wait()
	return err
}
