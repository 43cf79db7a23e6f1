package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/samber/do/v2"
	slogmulti "github.com/samber/slog-multi"
)

func main() {
	// Setup structured logging with multiple handlers using slog-multi
	// Fanout sends logs to multiple handlers simultaneously
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	jsonHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})

	multiHandler := slogmulti.Fanout(textHandler, jsonHandler)
	logger := slog.New(multiHandler)
	slog.SetDefault(logger)

	// Setup dependency injection
	injector, err := SetupDI()
	if err != nil {
		slog.Error("Failed to setup dependency injection", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := ShutdownDI(injector); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	// Get services from DI container
	cfg := do.MustInvoke[*Config](injector)
	sched := do.MustInvoke[*Scheduler](injector)
	notifier := do.MustInvoke[*AdminNotifier](injector)
	archiveServer := do.MustInvoke[*ArchiveServer](injector)
	b := do.MustInvoke[*bot.Bot](injector)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the daily posting timer
	sched.Start()

	// Start the archive HTTP server
	go func() {
		if err := archiveServer.Start(); err != nil {
			slog.Error("Failed to start archive server", "error", err)
			os.Exit(1)
		}
	}()

	// Announce startup to operators
	hour, minute := sched.PostTime()
	notifier.Broadcast(ctx, fmt.Sprintf(
		"🤖 Bot is up and running!\nCurrent posting time: %02d:%02d %s",
		hour, minute, cfg.Timezone))

	slog.Info("Bot started", "port", cfg.HTTPPort, "post_time", cfg.PostTime)
	slog.Info("Press Ctrl+C to stop")

	// Blocks until the context is cancelled
	b.Start(ctx)

	slog.Info("Shutting down...")
}
