// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/adiadia/inference-gateway/internal/config"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/adiadia/inference-gateway/internal/logging"
	"github.com/adiadia/inference-gateway/internal/persistence"
	"github.com/google/uuid"
)

const usage = `usage: gatewayctl <command> [flags]

commands:
  migrate                                   apply pending schema migrations
  create-key -name NAME [-email E] [-rate-limit N]
                                            issue a credential and print its secret once
  list-keys                                 list credentials
  delete-key ID                             deactivate a credential
  summary                                   print today's usage summary`

var errUsage = errors.New("invalid usage")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(os.Stderr, cfg.Env, os.Getenv("LOG_LEVEL"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], cfg, os.Stdout, os.Stderr, logger))
}

func run(ctx context.Context, args []string, cfg config.Config, stdout, stderr io.Writer, logger *slog.Logger) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, usage)
		return 2
	}

	cmd, rest := args[0], args[1:]
	if cmd == "migrate" {
		cfg.AutoMigrate = true
	}

	var handler func(context.Context, persistence.Store, []string, io.Writer) error
	switch cmd {
	case "migrate":
		handler = func(context.Context, persistence.Store, []string, io.Writer) error {
			logger.Info("schema up to date", "store", cfg.StoreDriver)
			return nil
		}
	case "create-key":
		handler = createKey
	case "list-keys":
		handler = listKeys
	case "delete-key":
		handler = deleteKey
	case "summary":
		handler = func(ctx context.Context, store persistence.Store, _ []string, out io.Writer) error {
			return summary(ctx, store, cfg.QuotaLocation, out)
		}
	default:
		_, _ = fmt.Fprintln(stderr, usage)
		return 2
	}

	store, closeStore, err := persistence.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store failed", "error", err)
		return 1
	}
	defer closeStore()

	if err := handler(ctx, store, rest, stdout); err != nil {
		if errors.Is(err, errUsage) {
			_, _ = fmt.Fprintf(stderr, "%v\n\n%s\n", err, usage)
			return 2
		}
		logger.Error("command failed", "command", cmd, "error", err)
		return 1
	}
	return 0
}

func createKey(ctx context.Context, store persistence.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-key", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "credential name")
	email := fs.String("email", "", "owner email")
	rateLimit := fs.Int("rate-limit", domain.DefaultRateLimit, "daily request allowance")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if strings.TrimSpace(*name) == "" {
		return fmt.Errorf("%w: -name is required", errUsage)
	}

	created, err := store.CreateCredential(ctx, domain.CreateCredentialParams{
		Name:      *name,
		Email:     *email,
		RateLimit: *rateLimit,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(created)
}

func listKeys(ctx context.Context, store persistence.Store, _ []string, out io.Writer) error {
	creds, err := store.ListCredentials(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tLIMIT\tUSED\tACTIVE\tLAST USED")
	for _, c := range creds {
		lastUsed := "-"
		if c.LastUsed != nil {
			lastUsed = c.LastUsed.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%t\t%s\n",
			c.ID, c.Name, c.SecretPrefix, c.RateLimit, c.DailyUsage, c.Active, lastUsed)
	}
	return tw.Flush()
}

func deleteKey(ctx context.Context, store persistence.Store, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete-key takes exactly one credential id", errUsage)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("%w: invalid credential id %q", errUsage, args[0])
	}
	if err := store.DeleteCredential(ctx, id); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "deactivated %s\n", id)
	return err
}

func summary(ctx context.Context, store persistence.Store, loc *time.Location, out io.Writer) error {
	if loc == nil {
		loc = time.Local
	}
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	s, err := store.UsageSummary(ctx, dayStart)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
