package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ArionMiles/quina/pkg/client"
	"github.com/ArionMiles/quina/pkg/config"
	gmailreader "github.com/ArionMiles/quina/pkg/reader/gmail"
	"github.com/ArionMiles/quina/pkg/telegram"
)

// runStatus checks configuration, credentials and API connectivity and
// reports whether everything is ready.
func runStatus(ctx context.Context, w io.Writer) bool {
	fmt.Fprintln(w, "=== quina Status ===")
	fmt.Fprintln(w)

	// Connectivity checks log through a quiet logger; results are printed.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	allGood := true

	cfg := checkConfig(w, &allGood)
	if cfg == nil {
		printFinalStatus(w, false)
		return false
	}
	checkCredentials(w, cfg, &allGood)
	checkConnectivity(ctx, w, cfg, quiet, &allGood)

	printFinalStatus(w, allGood)
	return allGood
}

func checkConfig(w io.Writer, allGood *bool) *config.Config {
	if path := os.Getenv(config.FileEnv); path != "" {
		fmt.Fprintf(w, "Config file (%s): ", path)
	} else {
		fmt.Fprint(w, "Config (environment): ")
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(w, "✗ %v\n", err)
		*allGood = false
		return nil
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "✗ %v\n", err)
		*allGood = false
		return cfg
	}
	fmt.Fprintln(w, "✓ Valid")
	fmt.Fprintf(w, "  store=%s state=%s provider=%s queue=%t\n",
		cfg.StoreBackend, cfg.StateBackend, cfg.LLMProvider, cfg.AMQPURL != "")
	return cfg
}

func checkCredentials(w io.Writer, cfg *config.Config, allGood *bool) {
	if cfg.StoreBackend == config.StoreSheets {
		fmt.Fprint(w, "Service account: ")
		if _, err := client.Load(cfg.ServiceAccountJSON, cfg.ServiceAccountFile); err != nil {
			fmt.Fprintf(w, "✗ %v\n", err)
			*allGood = false
		} else {
			fmt.Fprintln(w, "✓ Found")
		}
	}

	fmt.Fprint(w, "Gmail token: ")
	if _, err := client.Load(cfg.GmailTokenJSON, cfg.GmailTokenFile); err != nil {
		fmt.Fprintf(w, "✗ %v\n", err)
		*allGood = false
	} else {
		fmt.Fprintln(w, "✓ Found")
	}
}

func checkConnectivity(ctx context.Context, w io.Writer, cfg *config.Config, logger *slog.Logger, allGood *bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "API Connectivity:")

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	check := func(name string, fn func() (string, error)) {
		fmt.Fprintf(w, "  %s: ", name)
		detail, err := fn()
		if err != nil {
			fmt.Fprintf(w, "✗ %v\n", err)
			*allGood = false
			return
		}
		fmt.Fprintf(w, "✓ %s\n", detail)
	}

	check("Telegram", func() (string, error) {
		if cfg.TelegramBotToken == "" {
			return "", fmt.Errorf("no bot token")
		}
		tg := telegram.New(cfg.TelegramBotToken, &http.Client{Timeout: 15 * time.Second}, logger, telegram.WithRetry(1, 0))
		me, err := tg.Me(ctx)
		if err != nil {
			return "", err
		}
		info, err := tg.WebhookInfo(ctx)
		if err != nil {
			return "", err
		}
		if info.URL == "" {
			return fmt.Sprintf("@%s (no webhook, run 'quina setup')", me.UserName), nil
		}
		return fmt.Sprintf("@%s, webhook %s", me.UserName, info.URL), nil
	})

	check("Expense table", func() (string, error) {
		if _, err := openTable(ctx, cfg, logger); err != nil {
			return "", err
		}
		if cfg.StoreBackend == config.StoreMemory {
			return "in memory", nil
		}
		return fmt.Sprintf("sheet %q", cfg.SheetName), nil
	})

	check("Gmail", func() (string, error) {
		hc, err := gmailClient(ctx, cfg)
		if err != nil {
			return "", err
		}
		r, err := gmailreader.New(ctx, hc, gmailreader.Config{Label: cfg.GmailLabel}, logger)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("label %s", r.QualifyingLabel()), nil
	})

	check("State", func() (string, error) {
		st, err := openState(ctx, cfg, logger)
		if err != nil {
			return "", err
		}
		defer st.close()
		if err := st.ping(ctx); err != nil {
			return "", err
		}
		n, err := st.processed(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s, %d emails processed", cfg.StateBackend, n), nil
	})
}

func printFinalStatus(w io.Writer, allGood bool) {
	fmt.Fprintln(w)
	if allGood {
		fmt.Fprintln(w, "Status: ✓ Ready to run")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Run 'quina serve' to start the assistant.")
		return
	}
	fmt.Fprintln(w, "Status: ✗ Configuration issues detected")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Fix the issues above, then run 'quina status' again.")
}
