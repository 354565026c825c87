// Command reconstruct runs the full web-application reconstruction
// pipeline against one site: fetch, extract every bundle's original
// sources, attribute dependency versions, crawl and capture the live
// site, then emit the reconstructed output tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/use-agent/reconweb/config"
	"github.com/use-agent/reconweb/internal/notify"
	"github.com/use-agent/reconweb/internal/orchestrator"
	"github.com/use-agent/reconweb/internal/progress"
	"github.com/use-agent/reconweb/internal/wal"
)

func main() {
	// ── 1. Parse flags, load configuration ──────────────────────────
	var rootURL string
	var outputDir string
	flag.StringVar(&rootURL, "url", "", "root page URL to reconstruct")
	flag.StringVar(&outputDir, "out", "", "output directory (overrides RECONWEB_OUT)")
	flag.Parse()

	cfg := config.Load()
	if outputDir != "" {
		cfg.Reconstruct.OutputDir = outputDir
	}
	if rootURL == "" {
		fmt.Fprintln(os.Stderr, "reconstruct: -url is required")
		os.Exit(2)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("reconstruct starting", "url", rootURL, "out", cfg.Reconstruct.OutputDir)

	// ── 3. Open durable state (snapshot + WAL) ──────────────────────
	store, err := wal.Open(cfg.Reconstruct.OutputDir, cfg.WAL.CompactThreshold)
	if err != nil {
		slog.Error("failed to open durable state", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if store.Corrupted {
		slog.Warn("WAL tail is corrupted; recovered state reflects only events parsed before the break",
			"atLine", store.CorruptedAtLine, "content", store.CorruptedContent)
	}

	// ── 4. Optional progress HTTP endpoint ───────────────────────────
	if cfg.Progress.Enabled {
		progServer := progress.NewForWALPath(store, walPath(cfg.Reconstruct.OutputDir))
		go func() {
			slog.Info("progress server listening", "addr", cfg.Progress.Addr)
			if err := progServer.Run(cfg.Progress.Addr); err != nil {
				slog.Error("progress server exited", "error", err)
			}
		}()
	}

	// ── 5. Build orchestrator ────────────────────────────────────────
	notifier := notify.New(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret)
	orch := orchestrator.New(cfg, rootURL, cfg.Reconstruct.OutputDir, store, notifier)
	defer orch.Close()

	// ── 6. Run with graceful cancellation on SIGINT/SIGTERM ──────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	if err := orch.Run(ctx); err != nil {
		if compErr := store.Compact(); compErr != nil {
			slog.Warn("failed to compact WAL on shutdown", "error", compErr)
		}
		slog.Error("reconstruction failed", "error", err)
		os.Exit(1)
	}

	if err := store.Compact(); err != nil {
		slog.Warn("failed to compact WAL on completion", "error", err)
	}
	slog.Info("reconstruct finished", "out", cfg.Reconstruct.OutputDir)
}

// walPath mirrors wal.Open's own "state.wal under the output root"
// naming so the progress server tails the file the Store actually
// writes to.
func walPath(outputDir string) string {
	return filepath.Join(outputDir, "state.wal")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
