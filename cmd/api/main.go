package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/bridge"
	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/metrics"
	"voice-agent-platform/internal/notify"
	"voice-agent-platform/internal/realtime"
	"voice-agent-platform/internal/records"
	"voice-agent-platform/internal/reporting"
	"voice-agent-platform/internal/reservations"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/pkg/logger"
	"voice-agent-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 20 * time.Second

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, logger.Options{File: cfg.App.LogFile})
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api stopped", "err", err)
		_ = logger.ShutdownFlush(context.Background(), time.Second)
		os.Exit(1)
	}
	_ = logger.ShutdownFlush(context.Background(), time.Second)
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := records.Migrate(ctx, db); err != nil {
		return err
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		return err
	}
	defer rdb.Close()

	notifier := records.NewRedisNotifier(rdb, log)
	repo := records.WithNotifier(records.NewPostgresRepo(db), notifier, log)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	var sender notify.Sender = notify.LogSender{Log: log}
	if cfg.Email.SendGridAPIKey != "" {
		sender = notify.NewSendGridSender(cfg.Email.SendGridAPIKey, cfg.Email.FromAddress)
	} else {
		log.Warn("SENDGRID_API_KEY not set; confirmation emails are logged only")
	}
	tools := reservations.NewService(repo, sender, log)

	var admission telephony.Admission = telephony.Unlimited{}
	if cfg.Calls.MaxConcurrent > 0 {
		admission = telephony.NewRedisAdmission(rdb, cfg.Calls.MaxConcurrent, cfg.Calls.SlotTTL)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	calls := &bridge.Server{
		Dialer:        bridge.RealtimeDialer(realtime.NewDialer(cfg.Realtime)),
		Conversations: repo,
		Tools:         tools,
		Admission:     admission,
		Realtime:      cfg.Realtime,
		Metrics:       m,
		Log:           log,
		FinalizeWait:  cfg.Calls.FinalizeWait,
		OnTranscript: func(tr bridge.Transcript) {
			m.Utterance(tr.Speaker)
			log.Debug("transcript", "call_sid", tr.CallID, "conversation_id", tr.ConversationID, "speaker", tr.Speaker, "text", tr.Text)
		},
	}

	// closed when the server begins shutting down; ends long-lived event streams
	closing := make(chan struct{})

	deps := routeDeps{
		closing:   closing,
		cfg:       cfg,
		log:       log,
		auth:      authManager,
		repo:      repo,
		notifier:  notifier,
		audit:     auditSvc,
		reporting: reporting.NewService(repo),
		tools:     tools,
		calls:     calls,
		admission: admission,
		sessions:  realtime.NewSessionsClient(cfg.Realtime),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout would cut long-lived media streams and SSE; handlers bound their own writes.
		IdleTimeout: 60 * time.Second,
	}
	// Shutdown does not cancel in-flight request contexts; SSE streams would hold it open.
	srv.RegisterOnShutdown(func() { close(closing) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated", "active_calls", calls.ActiveCalls())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked media-stream sockets are not tracked by http.Server.
		if err := calls.Shutdown(shutdownCtx); err != nil {
			log.Error("call shutdown incomplete", "err", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		tools.Wait()
		return nil
	})
	return g.Wait()
}
