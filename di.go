package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/samber/do/v2"
)

// SetupDI initializes the dependency injection container
func SetupDI() (do.Injector, error) {
	injector := do.New()

	// Register Config
	do.Provide(injector, func(i do.Injector) (*Config, error) {
		cfg, err := LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	})

	// Register database connection
	do.Provide(injector, func(i do.Injector) (*sql.DB, error) {
		cfg := do.MustInvoke[*Config](i)
		db, err := OpenDatabase(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	})

	// Register PostStore
	do.Provide(injector, func(i do.Injector) (PostStore, error) {
		db := do.MustInvoke[*sql.DB](i)
		store := NewPostgresStore(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		return store, nil
	})

	// Register SessionState
	do.Provide(injector, func(i do.Injector) (*SessionState, error) {
		return NewSessionState(), nil
	})

	// Register TelegramGateway (the bot is attached later, see below)
	do.Provide(injector, func(i do.Injector) (*TelegramGateway, error) {
		cfg := do.MustInvoke[*Config](i)
		return NewTelegramGateway(cfg), nil
	})

	// Register AdminNotifier
	do.Provide(injector, func(i do.Injector) (*AdminNotifier, error) {
		cfg := do.MustInvoke[*Config](i)
		gateway := do.MustInvoke[*TelegramGateway](i)
		return NewAdminNotifier(gateway, cfg), nil
	})

	// Register Summarizer
	do.Provide(injector, func(i do.Injector) (Summarizer, error) {
		cfg := do.MustInvoke[*Config](i)
		return NewMistralSummarizer(cfg), nil
	})

	// Register ArticleSource
	do.Provide(injector, func(i do.Injector) (ArticleSource, error) {
		cfg := do.MustInvoke[*Config](i)
		loc, err := cfg.Location()
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone: %w", err)
		}
		return NewTechCrunchScraper(cfg, loc), nil
	})

	// Register PostComposer
	do.Provide(injector, func(i do.Injector) (*PostComposer, error) {
		summarizer := do.MustInvoke[Summarizer](i)
		notifier := do.MustInvoke[*AdminNotifier](i)
		return NewPostComposer(summarizer, notifier), nil
	})

	// Register ApprovalWorkflow
	do.Provide(injector, func(i do.Injector) (*ApprovalWorkflow, error) {
		cfg := do.MustInvoke[*Config](i)
		session := do.MustInvoke[*SessionState](i)
		composer := do.MustInvoke[*PostComposer](i)
		source := do.MustInvoke[ArticleSource](i)
		gateway := do.MustInvoke[*TelegramGateway](i)
		store := do.MustInvoke[PostStore](i)
		notifier := do.MustInvoke[*AdminNotifier](i)
		return NewApprovalWorkflow(cfg, session, composer, source, gateway, store, notifier), nil
	})

	// Register Scheduler (fires the workflow's daily composition)
	do.Provide(injector, func(i do.Injector) (*Scheduler, error) {
		cfg := do.MustInvoke[*Config](i)
		workflow := do.MustInvoke[*ApprovalWorkflow](i)

		loc, err := cfg.Location()
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone: %w", err)
		}
		hour, minute, err := ParsePostTime(cfg.PostTime)
		if err != nil {
			return nil, fmt.Errorf("failed to parse post time: %w", err)
		}

		sched := NewScheduler(loc, hour, minute, cfg.AutopostEnabled, workflow.ProposeScheduled)
		workflow.SetScheduler(sched)
		return sched, nil
	})

	// Register FeedService
	do.Provide(injector, func(i do.Injector) (*FeedService, error) {
		store := do.MustInvoke[PostStore](i)
		return NewFeedService(store), nil
	})

	// Register ArchiveServer
	do.Provide(injector, func(i do.Injector) (*ArchiveServer, error) {
		cfg := do.MustInvoke[*Config](i)
		feedService := do.MustInvoke[*FeedService](i)
		server := NewArchiveServer(cfg, feedService)
		server.SetLogger(slog.Default())
		return server, nil
	})

	// Register Bot (needs to be initialized after handlers are ready)
	do.Provide(injector, func(i do.Injector) (*bot.Bot, error) {
		cfg := do.MustInvoke[*Config](i)
		workflow := do.MustInvoke[*ApprovalWorkflow](i)
		gateway := do.MustInvoke[*TelegramGateway](i)

		botHandler := NewBotHandler(cfg, workflow, gateway)

		opts := []bot.Option{
			bot.WithDefaultHandler(botHandler.HandleUpdate),
		}

		b, err := bot.New(cfg.TelegramBotToken, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}

		botHandler.RegisterCommands(b)
		gateway.SetBot(b)

		return b, nil
	})

	return injector, nil
}

// ShutdownDI gracefully shuts down all services
func ShutdownDI(injector do.Injector) error {
	ctx := context.Background()

	if sched, err := do.Invoke[*Scheduler](injector); err == nil && sched != nil {
		sched.Stop()
	}

	if b, err := do.Invoke[*bot.Bot](injector); err == nil && b != nil {
		b.Close(ctx)
	}

	if db, err := do.Invoke[*sql.DB](injector); err == nil && db != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}

	return nil
}
