// Command emaildump fetches the latest payment emails carrying the qualifying
// label and writes them to an mbox file. The dump is used to collect email
// samples for tests.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"google.golang.org/api/gmail/v1"

	"github.com/ArionMiles/quina/pkg/client"
	"github.com/ArionMiles/quina/pkg/config"
	"github.com/ArionMiles/quina/pkg/logging"
	gmailreader "github.com/ArionMiles/quina/pkg/reader/gmail"
)

const defaultOutput = "testdata/dump/payments.mbox"

func main() {
	_ = godotenv.Load()
	logger := logging.Setup(logging.DefaultConfig())

	var (
		output string
		limit  int64
	)
	cmd := &cobra.Command{
		Use:          "emaildump",
		Short:        "Dump labelled payment emails to an mbox file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), output, limit, logger)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", defaultOutput, "mbox file to write")
	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "number of most recent messages to dump")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("email dump failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, output string, limit int64, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	tok, err := client.Load(cfg.GmailTokenJSON, cfg.GmailTokenFile)
	if err != nil {
		return fmt.Errorf("loading gmail token: %w", err)
	}
	secret, _ := client.Load("", cfg.GmailClientSecretFile)
	hc, err := client.UserToken(ctx, tok, secret, gmail.GmailReadonlyScope)
	if err != nil {
		return fmt.Errorf("creating http client: %w", err)
	}

	reader, err := gmailreader.New(ctx, hc, gmailreader.Config{Label: cfg.GmailLabel}, logger.With("component", "gmail_reader"))
	if err != nil {
		return err
	}

	ids, err := reader.Recent(ctx, limit)
	if err != nil {
		return err
	}

	var msgs [][]byte
	for _, id := range ids {
		raw, err := reader.Raw(ctx, id)
		if err != nil {
			logger.Warn("failed to fetch message", "message_id", id, "error", err)
			continue
		}
		msgs = append(msgs, raw)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	defer f.Close()

	if err := writeMbox(f, msgs); err != nil {
		return err
	}

	logger.Info("email dump complete", "total_dumped", len(msgs), "file", output)
	return f.Close()
}

// writeMbox writes raw RFC 822 messages as one mbox stream.
func writeMbox(w io.Writer, msgs [][]byte) error {
	mw := mbox.NewWriter(w)
	for _, raw := range msgs {
		from, date := envelope(raw)
		entry, err := mw.CreateMessage(from, date)
		if err != nil {
			return fmt.Errorf("creating mbox entry: %w", err)
		}
		if _, err := entry.Write(raw); err != nil {
			return fmt.Errorf("writing mbox entry: %w", err)
		}
	}
	return mw.Close()
}

// envelope returns the sender address and date for the mbox From line.
func envelope(raw []byte) (string, time.Time) {
	from, date := "MAILER-DAEMON", time.Unix(0, 0).UTC()

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return from, date
	}
	if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		from = addr.Address
	}
	if d, err := msg.Header.Date(); err == nil {
		date = d
	}
	return from, date
}
