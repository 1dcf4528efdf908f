// Command ledgerd runs the points ledger with its operational endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/points_ledger/internal/config"
	"github.com/R3E-Network/points_ledger/internal/ledger"
	"github.com/R3E-Network/points_ledger/internal/ledger/codec"
	"github.com/R3E-Network/points_ledger/internal/ledger/fraud"
	"github.com/R3E-Network/points_ledger/internal/ledger/metrics"
	"github.com/R3E-Network/points_ledger/internal/ledger/processor"
	"github.com/R3E-Network/points_ledger/internal/ledger/rules"
	"github.com/R3E-Network/points_ledger/internal/logging"
)

func main() {
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logging.NewDefault("ledgerd").Entry().WithError(err).Fatal("Failed to load config")
	}
	logCfg := logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}
	log := logging.New("ledgerd", logCfg)
	log.WithFields(cfg.LogFields()).Info("Starting points ledger")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to load policy")
	}

	collector := metrics.NewCollector("")

	backend, err := openStore(ctx, cfg, collector, logging.New("store", logCfg))
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to open store")
	}
	defer backend.close()

	secret, err := cfg.Secret()
	if err != nil {
		log.Entry().WithError(err).Fatal("Invalid secret")
	}
	txCodec, err := codec.New(secret)
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to create codec")
	}
	validator, err := rules.NewValidator(policy.Limits)
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to create validator")
	}
	engine, err := fraud.NewEngineFromPolicy(policy.Fraud, time.Now)
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to create fraud engine")
	}

	auditLogger, closeAudit, err := openAudit(ctx, cfg, collector, logging.New("audit", logCfg))
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to open audit sinks")
	}
	auditLogger.Start()

	procCfg := processor.DefaultConfig()
	procCfg.ReplayWindow = cfg.ReplayWindow
	procCfg.MaxClockSkew = cfg.MaxClockSkew
	proc, err := processor.New(processor.Deps{
		Verifier: txCodec,
		Store:    backend.store,
		Locker:   backend.locker,
		Gate:     engine,
		Audit:    auditLogger,
		Metrics:  collector,
		Log:      logging.New("processor", logCfg),
	}, procCfg)
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to create processor")
	}

	limiter := ledger.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logging.New("ratelimit", logCfg))
	pointsLedger, err := ledger.New(txCodec, validator, proc, backend.store,
		ledger.WithRateLimiter(limiter),
		ledger.WithMetrics(collector),
		ledger.WithLogger(logging.New("ledger", logCfg)),
	)
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to create ledger")
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.HousekeepingSchedule, housekeeping(engine.History(), limiter, log)); err != nil {
		log.Entry().WithError(err).Fatal("Invalid housekeeping schedule")
	}
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      newRouter(pointsLedger, collector, backend.pinger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.WithFields(map[string]interface{}{"addr": cfg.MetricsAddr}).Info("Ops server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Entry().WithError(err).Fatal("Server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Entry().Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Entry().WithError(err).Warn("Shutdown error")
	}
	<-scheduler.Stop().Done()
	if err := auditLogger.Stop(shutdownCtx); err != nil {
		log.Entry().WithError(err).Error("Audit queue not drained")
	}
	closeAudit()
	log.WithFields(map[string]interface{}{
		"audit_written": auditLogger.Written(),
		"audit_dropped": auditLogger.Dropped(),
	}).Info("Ledger stopped")
}
