package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maltedev/stall-scraper/internal/app"
	"github.com/maltedev/stall-scraper/internal/config"
	"github.com/maltedev/stall-scraper/internal/logging"
)

const usage = `Usage: catalog [-config file] <command> [flags]

Commands:
  list                 Print the stored catalog as JSON
  clear [-flush-cache] Remove the stored catalog, optionally with cached prices
  stats                Print price cache statistics
`

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Logs go to stderr so list output stays valid JSON.
	logger := logging.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := run(ctx, a, flag.Args(), os.Stdout); err != nil {
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		a.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	switch args[0] {
	case "list":
		products, err := a.Catalog.LoadAll(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(products)

	case "clear":
		fs := flag.NewFlagSet("clear", flag.ContinueOnError)
		flushCache := fs.Bool("flush-cache", false, "Also remove cached prices")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		if err := a.Catalog.Clear(ctx); err != nil {
			return err
		}
		if *flushCache {
			if err := a.Cache.Clear(ctx); err != nil {
				return fmt.Errorf("failed to clear price cache: %w", err)
			}
		}
		fmt.Fprintln(out, "catalog cleared")
		return nil

	case "stats":
		stats, err := a.Cache.Stats(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
