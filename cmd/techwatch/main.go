package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deusflow/techwatch/internal/app"
	"github.com/deusflow/techwatch/internal/config"
	"github.com/deusflow/techwatch/internal/logger"
)

const usage = `usage: techwatch <command> [flags]

commands:
  serve              run the API and the refresh scheduler (default)
  ingest             run one retention sweep and ingestion cycle
  sweep              run the retention sweep only
  digest [-hours N] [-publish]
                     print the digest, optionally publish it to Telegram
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("techwatch failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		fmt.Fprint(os.Stderr, usage)
		return nil
	}
	var opts digestOptions
	switch cmd {
	case "serve", "ingest", "sweep":
	case "digest":
		var err error
		if opts, err = parseDigestFlags(args); err != nil {
			return err
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.Init(cfg.LogLevel, cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.SeedSources(ctx); err != nil {
		return err
	}

	switch cmd {
	case "serve":
		return a.Serve(ctx)

	case "ingest":
		added, err := a.Ingest(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d new articles\n", added)
		return nil

	case "sweep":
		removed, err := a.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d stale articles removed\n", removed)
		return nil

	case "digest":
		sections, err := a.Digest(ctx, opts.window, opts.publish)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sections)
	}
	return nil
}

type digestOptions struct {
	window  time.Duration
	publish bool
}

func parseDigestFlags(args []string) (digestOptions, error) {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	hours := fs.Int("hours", 24, "window in hours")
	publish := fs.Bool("publish", false, "send the digest to Telegram")
	if err := fs.Parse(args); err != nil {
		return digestOptions{}, err
	}
	if *hours <= 0 {
		return digestOptions{}, fmt.Errorf("-hours must be positive")
	}
	return digestOptions{window: time.Duration(*hours) * time.Hour, publish: *publish}, nil
}
