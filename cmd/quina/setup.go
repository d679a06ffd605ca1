package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ArionMiles/quina/pkg/config"
	"github.com/ArionMiles/quina/pkg/telegram"
)

// runSetup registers the Telegram webhook. Re-running it is harmless.
func runSetup(ctx context.Context, logger *slog.Logger) error {
	fmt.Println("=== quina Setup ===")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.TelegramWebhookURL == "" {
		return errors.New("TELEGRAM_WEBHOOK_URL is required\n\n" +
			"Set it to the public https URL of this service followed by /telegram/webhook")
	}

	tg := telegram.New(cfg.TelegramBotToken, &http.Client{Timeout: 30 * time.Second}, logger)

	me, err := tg.Me(ctx)
	if err != nil {
		return fmt.Errorf("checking bot token: %w", err)
	}
	fmt.Printf("Bot: @%s\n", me.UserName)

	changed, err := tg.EnsureWebhook(ctx, cfg.TelegramWebhookURL, cfg.TelegramWebhookSecret)
	if err != nil {
		return fmt.Errorf("registering webhook: %w", err)
	}
	if !changed {
		fmt.Printf("Webhook already registered: %s\n", cfg.TelegramWebhookURL)
		return nil
	}

	fmt.Printf("Webhook registered: %s\n", cfg.TelegramWebhookURL)
	if cfg.TelegramWebhookSecret == "" {
		fmt.Println()
		fmt.Println("Warning: TELEGRAM_WEBHOOK_SECRET is not set; anyone can post updates to the webhook.")
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Point a Gmail watch Pub/Sub push subscription at /pubsub/push")
	fmt.Println("  2. Run 'quina serve'")
	return nil
}
