package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ArionMiles/quina/internal/daemon"
	"github.com/ArionMiles/quina/internal/server"
	"github.com/ArionMiles/quina/pkg/payments"
	"github.com/ArionMiles/quina/pkg/queue"
	gmailreader "github.com/ArionMiles/quina/pkg/reader/gmail"
	"github.com/ArionMiles/quina/pkg/telegram"
	"github.com/ArionMiles/quina/pkg/tracker"
)

// runServe wires every component and serves until ctx is canceled.
func runServe(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		"store", cfg.StoreBackend,
		"state", cfg.StateBackend,
		"provider", cfg.LLMProvider,
		"queue", cfg.AMQPURL != "",
		"allowed_users", len(cfg.AllowedUsers()),
	)

	expenses, err := openTable(ctx, cfg, logger)
	if err != nil {
		return err
	}

	st, err := openState(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	runner, err := newAgent(ctx, cfg, expenses, st.history, logger)
	if err != nil {
		return err
	}

	tg := telegram.New(cfg.TelegramBotToken, &http.Client{Timeout: 30 * time.Second}, logger)
	if cfg.TelegramWebhookURL != "" {
		if _, err := tg.EnsureWebhook(ctx, cfg.TelegramWebhookURL, cfg.TelegramWebhookSecret); err != nil {
			// The webhook may already be registered; keep serving.
			logger.Warn("failed to register telegram webhook", "error", err)
		}
	}

	bot, err := telegram.NewBot(runner, tg, cfg.AllowedUsers(), logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}
	defer bot.Close()

	hc, err := gmailClient(ctx, cfg)
	if err != nil {
		return err
	}
	reader, err := gmailreader.New(ctx, hc, gmailreader.Config{Label: cfg.GmailLabel}, logger.With("component", "gmail_reader"))
	if err != nil {
		return fmt.Errorf("creating gmail reader: %w", err)
	}

	processor, err := payments.New(reader, runner, tg, cfg.TelegramUserID, logger)
	if err != nil {
		return fmt.Errorf("creating payment processor: %w", err)
	}

	var (
		emitter tracker.Emitter = processor
		opts    []daemon.Option
	)
	if cfg.AMQPURL != "" {
		q, err := queue.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.With("component", "queue"))
		if err != nil {
			return err
		}
		defer q.Close()
		emitter = q
		opts = append(opts, daemon.WithConsumer(q, processor.Handle))
	}

	tr, err := tracker.New(st.tracker, reader, emitter, logger)
	if err != nil {
		return fmt.Errorf("creating tracker: %w", err)
	}

	srv := server.New(cfg.Addr(), server.Config{
		WebhookSecret: cfg.TelegramWebhookSecret,
		PubSubToken:   cfg.PubSubAuthToken,
		Version:       version,
		Processed:     st.processed,
	}, bot, tr, logger)

	logger.Info("starting quina", "addr", cfg.Addr(), "version", version)
	return daemon.New(srv, logger, opts...).Run(ctx)
}
