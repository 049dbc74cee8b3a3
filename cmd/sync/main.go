package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatchsync/internal/app"
	"dispatchsync/internal/config"
	"dispatchsync/internal/logging"
	"dispatchsync/internal/models"
	"dispatchsync/internal/ordersync"
)

type options struct {
	configPath string
	mode       string
	from       string
	to         string
	force      bool
	resume     bool
	resumeFrom int
	status     bool
	reset      bool
	syncType   string
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, ordersync.ErrSyncInProgress) {
			log.Printf("sync skipped: %v", err)
			os.Exit(2)
		}
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config file")
	fs.StringVar(&o.mode, "mode", string(models.SyncModeIncremental), "full, incremental or tags")
	fs.StringVar(&o.from, "from", "", "first day (YYYY-MM-DD), default retention floor")
	fs.StringVar(&o.to, "to", "", "last day (YYYY-MM-DD), default today")
	fs.BoolVar(&o.force, "force", false, "take over a lease held by another run")
	fs.BoolVar(&o.resume, "resume", false, "continue the previous full sync over the same range")
	fs.IntVar(&o.resumeFrom, "resume-from-batch", 0, "skip the first n planned batches")
	fs.BoolVar(&o.status, "status", false, "print the stored status and exit")
	fs.BoolVar(&o.reset, "reset", false, "reset a stuck status row and exit")
	fs.StringVar(&o.syncType, "type", models.SyncTypeOrders, "sync type for -status and -reset")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	switch models.SyncMode(o.mode) {
	case models.SyncModeFull, models.SyncModeIncremental, models.SyncModeTags:
	default:
		return o, fmt.Errorf("unknown mode %q", o.mode)
	}
	if o.syncType != models.SyncTypeOrders && o.syncType != models.SyncTypeOrderTags {
		return o, fmt.Errorf("unknown sync type %q", o.syncType)
	}
	if o.resumeFrom < 0 {
		return o, fmt.Errorf("resume-from-batch must not be negative")
	}
	return o, nil
}

func run(args []string, stdout io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	from, err := parseDay(o.from)
	if err != nil {
		return err
	}
	to, err := parseDay(o.to)
	if err != nil {
		return err
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := baseLogger.With().Str("component", "sync-cli").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer (func() { _ = a.Close() })()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	switch {
	case o.reset:
		if err := a.Orchestrator.Reset(ctx, o.syncType); err != nil {
			return err
		}
		fallthrough
	case o.status:
		status, err := a.Orchestrator.Status(ctx, o.syncType)
		if err != nil {
			return err
		}
		return enc.Encode(status)
	}

	start := time.Now()
	var summary models.SyncSummary
	switch models.SyncMode(o.mode) {
	case models.SyncModeFull:
		summary, err = a.Orchestrator.FullSync(ctx, ordersync.FullSyncOptions{
			From:            from,
			To:              to,
			Force:           o.force,
			Resume:          o.resume,
			ResumeFromBatch: o.resumeFrom,
		})
	case models.SyncModeTags:
		summary, err = a.Orchestrator.TagSync(ctx, ordersync.TagSyncOptions{From: from, To: to, Force: o.force})
	default:
		summary, err = a.Orchestrator.IncrementalSync(ctx)
	}
	if err != nil {
		return err
	}

	logger.Info().Str("mode", o.mode).Dur("elapsed", time.Since(start)).Msg("sync finished")
	return enc.Encode(summary)
}

func parseDay(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return &t, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
