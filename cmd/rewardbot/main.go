// Package main запускает Telegram-бот программы вознаграждений.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/rewardbot/internal/bot"
	"github.com/mmeshcher/rewardbot/internal/config"
	"github.com/mmeshcher/rewardbot/internal/dialog"
	"github.com/mmeshcher/rewardbot/internal/repository"
	"github.com/mmeshcher/rewardbot/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil {
		sugar.Info(".env file not found, using system environment variables")
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	api, err := bot.NewAPI(cfg.BotToken)
	if err != nil {
		sugar.Fatalw("telegram initialization error", "error", err.Error())
	}
	sugar.Infow("bot authorized", "username", api.Self.UserName)

	sender := bot.NewSender(api)
	svc := service.NewService(repo, sender, logger, cfg.AdminID)
	defer svc.Close()

	engine := dialog.NewEngine(svc, logger)
	b := bot.New(api, engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.WebhookURL != "" {
		if err := b.RegisterWebhook(cfg.WebhookURL, cfg.BotToken); err != nil {
			sugar.Fatalw("webhook registration error", "error", err.Error())
		}

		server := &http.Server{
			Addr:    cfg.RunAddress,
			Handler: b.SetupWebhookRouter(ctx, cfg.BotToken),
		}

		// Приём обновлений по webhook
		g.Go(func() error {
			sugar.Infow("starting webhook server", "addr", cfg.RunAddress)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})

		// Graceful shutdown при отмене контекста
		g.Go(func() error {
			<-ctx.Done()
			sugar.Info("shutting down webhook server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown error: %w", err)
			}
			sugar.Info("server stopped gracefully")
			return nil
		})
	} else {
		if err := b.DeleteWebhook(); err != nil {
			sugar.Warnw("delete webhook failed", "error", err.Error())
		}

		// Приём обновлений в режиме long polling
		g.Go(func() error {
			sugar.Info("starting long polling")
			return b.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
