package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"guidon/internal/analytics"
	"guidon/internal/auth"
	"guidon/internal/canvas"
	"guidon/internal/config"
	"guidon/internal/dispatch"
	"guidon/internal/handlers"
	"guidon/internal/logging"
	"guidon/internal/queue"
	"guidon/internal/results"
	"guidon/internal/scheduler"
	"guidon/internal/server"
	"guidon/internal/storage"
	"guidon/internal/telegram"
	"guidon/internal/verify"
	"guidon/internal/webhook"
	"guidon/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP ingress, worker pools and maintenance jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogLevel, string(cfg.LogFormat))
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func newAuthority(cfg *config.Config, logger *zap.Logger) (auth.Authority, error) {
	if cfg.AuthServiceURL != "" {
		logger.Info("🔐 sessions verified by remote authority", zap.String("url", cfg.AuthServiceURL))
		return auth.NewHTTPAuthority(cfg.AuthServiceURL, 2*time.Second), nil
	}
	repo, err := auth.NewFileRepository(cfg.SessionsFilePath)
	if err != nil {
		return nil, fmt.Errorf("init sessions repo: %w", err)
	}
	svc, err := auth.NewWithRepo(repo, nil)
	if err != nil {
		return nil, fmt.Errorf("init sessions: %w", err)
	}
	logger.Info("🔐 sessions loaded from file", zap.String("path", cfg.SessionsFilePath), zap.Int("count", len(svc.List())))
	return svc, nil
}

func newVerifiers(cfg *config.Config, authority auth.Authority, logger *zap.Logger) (verify.Set, error) {
	set := verify.Set{Web: verify.NewWebVerifier(authority, logger.Named("verify"))}
	if cfg.ChatPublicKey == "" {
		logger.Warn("⚠️ CHAT_PUBLIC_KEY not set, chat channel disabled")
		return set, nil
	}
	cv, err := verify.NewChatVerifier(cfg.ChatPublicKey)
	if err != nil {
		return verify.Set{}, fmt.Errorf("chat verifier: %w", err)
	}
	set.Chat = cv
	return set, nil
}

func newRecorder(cfg *config.Config, logger *zap.Logger) storage.Recorder {
	if cfg.LogFilePath == "" {
		return storage.Discard{}
	}
	fr, err := storage.NewFileRecorder(cfg.LogFilePath)
	if err != nil {
		logger.Warn("failed to init interaction journal", zap.Error(err))
		return storage.Discard{}
	}
	return fr
}

func newBroker(cfg *config.Config, logger *zap.Logger) (*queue.Broker, error) {
	opts := queue.Options{AckDeadline: cfg.QueueAckDeadline, Logger: logger.Named("queue")}
	if cfg.QueueJournalPath != "" {
		j, err := queue.OpenJournal(cfg.QueueJournalPath)
		if err != nil {
			return nil, fmt.Errorf("open queue journal: %w", err)
		}
		opts.Journal = j
	}
	return queue.NewBroker(opts)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	authority, err := newAuthority(cfg, logger)
	if err != nil {
		return err
	}
	verifiers, err := newVerifiers(cfg, authority, logger)
	if err != nil {
		return err
	}

	rec := newRecorder(cfg, logger)
	board := canvas.New(cfg.CanvasSize)
	hs := handlers.Default(handlers.Deps{Registry: reg, Board: board, Recorder: rec})
	if err := reg.Verify(hs.Has, hs.Names()); err != nil {
		return fmt.Errorf("registry and handlers disagree: %w", err)
	}

	broker, err := newBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Warn("queue close failed", zap.Error(err))
		}
	}()
	store := results.NewMemoryStore(cfg.ResultTTL)

	var (
		notifier worker.Notifier
		tg       *telegram.Notifier
	)
	if cfg.TelegramBotToken != "" {
		tg, err = telegram.NewNotifier(cfg.TelegramBotToken, cfg.MessageParseMode, logger.Named("telegram"))
		if err != nil {
			logger.Warn("chat follow-ups disabled", zap.Error(err))
		} else {
			notifier = tg
		}
	}

	d := dispatch.New(verifiers, reg, hs, broker, store, rec, logger.Named("dispatch"), dispatch.Options{
		FastBudget:        cfg.FastBudget,
		PublishRetryDelay: cfg.PublishRetryDelay,
	})
	w := worker.New(worker.Deps{
		Handlers: hs,
		Store:    store,
		Webhook:  webhook.NewSender(cfg.WebhookTimeout),
		Notifier: notifier,
		Recorder: rec,
		Logger:   logger.Named("worker"),
	})
	pool := worker.NewPool(w, broker, reg.Topics(), cfg.WorkersPerTopic)

	sched := scheduler.New(logger.Named("scheduler"))
	if err := sched.Add(scheduler.JobResultSweep, cfg.ResultSweepSpec, scheduler.SweepJob(store, logger)); err != nil {
		return err
	}
	if err := sched.Add(scheduler.JobJournalCompact, cfg.QueueCompactSpec, scheduler.CompactJob(broker, logger)); err != nil {
		return err
	}
	var report scheduler.Report
	if tg != nil && cfg.AdminChatID != 0 {
		report = func(ctx context.Context, st *analytics.DailyStats) error {
			return tg.SendReport(ctx, cfg.AdminChatID, st.GenerateReportSummary())
		}
	}
	if err := sched.Add(scheduler.JobDailyReport, cfg.ReportSpec, scheduler.ReportJob(rec, cfg.JournalRetention, nil, report, logger)); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(cfg.HTTPAddr, server.Deps{
		Dispatcher: d,
		Store:      store,
		Board:      board,
		Sessions:   verifiers.Web,
		Registry:   reg,
		PublicURL:  cfg.PublicURL,
		Logger:     logger.Named("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop(context.Background())
	})
	g.Go(func() error { return pool.Run(gctx) })

	logger.Info("🚀 guidon started",
		zap.String("addr", cfg.HTTPAddr),
		zap.Strings("topics", reg.Topics()),
		zap.Int("workers_per_topic", cfg.WorkersPerTopic))
	err = g.Wait()
	logger.Info("🛑 guidon stopped")
	return err
}
