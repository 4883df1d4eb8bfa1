package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridsight/gridsight/internal/auth"
	"github.com/gridsight/gridsight/internal/config"
	"github.com/gridsight/gridsight/internal/engine"
	"github.com/gridsight/gridsight/internal/notify"
	"github.com/gridsight/gridsight/internal/server"
	"github.com/gridsight/gridsight/internal/store"
	"github.com/gridsight/gridsight/internal/version"
	"go.uber.org/zap"
)

// runServe starts the dashboard API and the daily summary ticker.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("serve: %v", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		fatalf("serve: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("gridsight server starting", zap.String("version", version.Short()))
	if f := cfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := cfg.GetString("database.path")
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		logger.Fatal("schema version check failed", zap.Error(err))
	}
	logger.Info("database initialized", zap.String("path", dbPath))

	decisionStore, err := engine.NewDecisionStore(ctx, db)
	if err != nil {
		logger.Fatal("failed to initialize decision store", zap.Error(err))
	}

	users, err := auth.NewUserStore(ctx, db)
	if err != nil {
		logger.Fatal("failed to initialize user store", zap.Error(err))
	}
	if err := users.EnsureDefaultUsers(ctx); err != nil {
		logger.Fatal("failed to seed default users", zap.Error(err))
	}

	jwtSecret := cfg.GetString("server.jwt_secret")
	if jwtSecret == "" {
		// Ephemeral secret: tokens will not survive restarts.
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			logger.Fatal("failed to generate JWT secret", zap.Error(err))
		}
		jwtSecret = hex.EncodeToString(b)
		logger.Info("using auto-generated JWT secret (set server.jwt_secret in config to persist sessions across restarts)")
	}
	tokenTTL := cfg.GetDuration("server.token_ttl")
	if tokenTTL == 0 {
		tokenTTL = 12 * time.Hour
	}
	tokens := auth.NewTokenService([]byte(jwtSecret), tokenTTL)

	ncfg := loadNotifyConfig(cfg)
	if ncfg.Email.Enabled {
		// Users who opted into alerts receive the daily summary too.
		recipients, err := users.AlertRecipients(ctx)
		if err != nil {
			logger.Warn("could not load alert recipients", zap.Error(err))
		}
		ncfg.Email.To = mergeRecipients(ncfg.Email.To, recipients)
	}
	notifier := buildNotifier(logger, ncfg)
	if ncfg.Email.Enabled {
		go dailySummaryLoop(ctx, logger, notifier, decisionStore)
	}

	addr := cfg.GetString("server.addr")
	ready := server.ReadinessChecker(func(ctx context.Context) error {
		return db.DB().PingContext(ctx)
	})
	srv := server.New(addr, logger.Named("server"), decisionStore, users, tokens, ready)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()
	logger.Info("gridsight server ready", zap.String("addr", addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}

// dailySummaryLoop emails a daily digest of the most recent run.
func dailySummaryLoop(ctx context.Context, logger *zap.Logger, notifier *notify.Notifier, decisions *engine.DecisionStore) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		run, err := decisions.LatestRun(ctx)
		if err != nil {
			logger.Warn("daily summary: latest run lookup failed", zap.Error(err))
			continue
		}
		if run == nil {
			continue
		}
		summary, err := decisions.Summarize(ctx, run.ID, 0)
		if err != nil {
			logger.Warn("daily summary: aggregation failed", zap.Error(err))
			continue
		}
		if err := notifier.SendDailySummary(ctx, summary.Rows, summary.Alerts, summary.Meters, summary.Critical); err != nil {
			logger.Warn("daily summary: delivery failed", zap.Error(err))
		}
	}
}

func mergeRecipients(configured, opted []string) []string {
	seen := make(map[string]bool, len(configured)+len(opted))
	var out []string
	for _, addr := range append(configured, opted...) {
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}
