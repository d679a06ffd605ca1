package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/quina/pkg/agent"
	"github.com/ArionMiles/quina/pkg/agent/anthropic"
	"github.com/ArionMiles/quina/pkg/agent/gemini"
	"github.com/ArionMiles/quina/pkg/client"
	"github.com/ArionMiles/quina/pkg/config"
	"github.com/ArionMiles/quina/pkg/expense"
	"github.com/ArionMiles/quina/pkg/search"
	"github.com/ArionMiles/quina/pkg/state/postgres"
	"github.com/ArionMiles/quina/pkg/state/sqlite"
	"github.com/ArionMiles/quina/pkg/table"
	"github.com/ArionMiles/quina/pkg/table/memory"
	sheetstable "github.com/ArionMiles/quina/pkg/table/sheets"
	"github.com/ArionMiles/quina/pkg/tools"
	"github.com/ArionMiles/quina/pkg/tracker"
)

// sheetsClient authorizes as the service account.
func sheetsClient(ctx context.Context, cfg *config.Config) (*http.Client, error) {
	key, err := client.Load(cfg.ServiceAccountJSON, cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("loading service account: %w", err)
	}
	return client.ServiceAccount(ctx, key, sheets.SpreadsheetsScope)
}

// gmailClient authorizes as the mailbox owner.
func gmailClient(ctx context.Context, cfg *config.Config) (*http.Client, error) {
	tok, err := client.Load(cfg.GmailTokenJSON, cfg.GmailTokenFile)
	if err != nil {
		return nil, fmt.Errorf("loading gmail token: %w", err)
	}
	// Only needed for bare tokens without an embedded OAuth client.
	secret, err := client.Load("", cfg.GmailClientSecretFile)
	if err != nil && !errors.Is(err, client.ErrNoCredentials) {
		return nil, fmt.Errorf("loading gmail client secret: %w", err)
	}
	return client.UserToken(ctx, tok, secret, gmail.GmailReadonlyScope)
}

// openTable returns the expense table for the configured store backend.
func openTable(ctx context.Context, cfg *config.Config, logger *slog.Logger) (table.Table, error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("using in-memory expense table; records are lost on exit")
		return memory.New(), nil
	}

	hc, err := sheetsClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	t, err := sheetstable.New(ctx, hc, sheetstable.Config{
		SpreadsheetID: cfg.SheetID,
		SheetName:     cfg.SheetName,
	}, logger.With("component", "sheets"))
	if err != nil {
		return nil, fmt.Errorf("opening sheet: %w", err)
	}
	return t, nil
}

// state bundles the tracker and conversation stores of one backend.
type state struct {
	tracker   tracker.Store
	history   agent.HistoryStore
	processed func(ctx context.Context) (int, error)
	ping      func(ctx context.Context) error
	close     func()
}

func openState(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*state, error) {
	switch cfg.StateBackend {
	case config.StateSQLite:
		s, err := sqlite.New(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite state: %w", err)
		}
		return &state{
			tracker:   s,
			history:   s,
			processed: s.SeenCount,
			ping:      s.Ping,
			close: func() {
				if err := s.Close(); err != nil {
					logger.Warn("failed to close sqlite state", "error", err)
				}
			},
		}, nil
	case config.StatePostgres:
		s, err := postgres.New(ctx, postgres.Config{URL: cfg.DatabaseURL}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres state: %w", err)
		}
		return &state{tracker: s, history: s, processed: s.SeenCount, ping: s.Ping, close: s.Close}, nil
	default:
		s := tracker.NewMemoryStore()
		return &state{
			tracker:   s,
			history:   agent.NewMemoryHistory(),
			processed: s.SeenTotal,
			ping:      func(context.Context) error { return nil },
			close:     func() {},
		}, nil
	}
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.Provider, error) {
	if cfg.LLMProvider == config.ProviderAnthropic {
		return anthropic.New(anthropic.Config{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.LLMModel,
		}, logger.With("component", "anthropic")), nil
	}

	p, err := gemini.New(ctx, gemini.Config{
		APIKey: cfg.GoogleAPIKey,
		Model:  cfg.LLMModel,
	}, logger.With("component", "gemini"))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// newAgent builds the expense agent with every tool registered.
func newAgent(ctx context.Context, cfg *config.Config, t table.Table, history agent.HistoryStore, logger *slog.Logger) (*agent.Runner, error) {
	engine := expense.New(t, logger)
	searcher := search.New(&http.Client{Timeout: 15 * time.Second}, logger)

	reg, err := tools.Default(engine, searcher)
	if err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", cfg.LLMProvider, err)
	}

	return agent.New(provider, reg, history, logger,
		agent.WithInstruction(agent.Instruction(cfg.AgentInstruction)),
	), nil
}
