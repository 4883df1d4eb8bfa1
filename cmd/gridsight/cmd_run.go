package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gridsight/gridsight/internal/config"
	"github.com/gridsight/gridsight/internal/dataset"
	"github.com/gridsight/gridsight/internal/engine"
	"github.com/gridsight/gridsight/internal/model"
	"github.com/gridsight/gridsight/internal/notify"
	"github.com/gridsight/gridsight/internal/store"
	"github.com/gridsight/gridsight/internal/version"
	"github.com/gridsight/gridsight/pkg/telemetry"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const criticalRisk = 0.7

// runAnalyze executes the decision engine over one telemetry batch.
func runAnalyze(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	dataPath := fs.String("data", "", "telemetry readings CSV (required)")
	modelPath := fs.String("model", "", "model artifact path (default from config)")
	outputPath := fs.String("output", "", "write the decision table CSV here")
	save := fs.Bool("save", true, "persist the run to the database")
	_ = fs.Parse(args)

	if *dataPath == "" {
		fatalf("run: -data is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("run: %v", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		fatalf("run: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	readings, err := dataset.LoadReadings(*dataPath)
	if err != nil {
		fatalf("run: %v", err)
	}

	artifact := *modelPath
	if artifact == "" {
		artifact = cfg.GetString("model.path")
	}
	detector, err := model.Load(artifact)
	switch {
	case errors.Is(err, model.ErrNotFound):
		logger.Warn("model artifact not found, rule-only detection",
			zap.String("path", artifact),
		)
		detector = nil
	case err != nil:
		fatalf("run: %v", err)
	}

	eng := engine.New(logger, detector)
	started := time.Now()
	decisions, err := eng.Analyze(readings)
	if err != nil {
		fatalf("run: %v", err)
	}
	finished := time.Now()

	if *outputPath != "" {
		if err := dataset.WriteDecisions(*outputPath, decisions); err != nil {
			fatalf("run: %v", err)
		}
		logger.Info("decision table written", zap.String("path", *outputPath))
	}

	alerts := 0
	for i := range decisions {
		if decisions[i].Alert {
			alerts++
		}
	}

	if *save {
		run := &engine.Run{
			ID:         uuid.NewString(),
			Rows:       len(decisions),
			Alerts:     alerts,
			ModelUsed:  eng.HasModel(),
			StartedAt:  started,
			FinishedAt: finished,
		}
		if err := persistRun(cfg, run, decisions); err != nil {
			fatalf("run: %v", err)
		}
		logger.Info("run persisted",
			zap.String("run_id", run.ID),
			zap.String("database", cfg.GetString("database.path")),
		)
	}

	notifyCritical(logger, cfg, decisions)
	printRunSummary(decisions, alerts, eng.HasModel())
}

func persistRun(cfg *viper.Viper, run *engine.Run, decisions []telemetry.Decision) error {
	ctx := context.Background()
	db, err := store.New(cfg.GetString("database.path"))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		return err
	}
	decisionStore, err := engine.NewDecisionStore(ctx, db)
	if err != nil {
		return err
	}
	return decisionStore.SaveRun(ctx, run, decisions)
}

// notifyCritical pushes the highest-risk alerts to the configured channels.
// Delivery problems are logged, never fatal to the run.
func notifyCritical(logger *zap.Logger, cfg *viper.Viper, decisions []telemetry.Decision) {
	ncfg := loadNotifyConfig(cfg)
	if !ncfg.Email.Enabled && !ncfg.Webhook.Enabled {
		return
	}
	notifier := buildNotifier(logger, ncfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := range decisions {
		if !decisions[i].Alert || decisions[i].RiskScore < criticalRisk {
			continue
		}
		if err := notifier.SendAlert(ctx, telemetry.PayloadFromDecision(&decisions[i])); err != nil {
			logger.Warn("alert delivery failed",
				zap.String("meter_id", decisions[i].MeterID),
				zap.Error(err),
			)
		}
	}
}

func loadNotifyConfig(cfg *viper.Viper) notify.Config {
	ncfg := notify.DefaultConfig()
	if sub := cfg.Sub("notify"); sub != nil {
		if err := sub.Unmarshal(&ncfg); err != nil {
			fatalf("invalid notify configuration: %v", err)
		}
	}
	return ncfg
}

func buildNotifier(logger *zap.Logger, ncfg notify.Config) *notify.Notifier {
	var sender notify.Sender
	if ncfg.Email.Enabled {
		sender = &notify.SMTPSender{
			Host:     ncfg.Email.Host,
			Port:     ncfg.Email.Port,
			Username: ncfg.Email.Username,
			Password: ncfg.Email.Password,
		}
	}
	return notify.New(logger.Named("notify"), ncfg, sender)
}

func printRunSummary(decisions []telemetry.Decision, alerts int, modelUsed bool) {
	rows := len(decisions)
	pct := 0.0
	if rows > 0 {
		pct = float64(alerts) / float64(rows) * 100
	}
	mode := "model + rules"
	if !modelUsed {
		mode = "rules only"
	}

	fmt.Printf("Analyzed %d readings (%s): %d alerts (%.1f%%)\n", rows, mode, alerts, pct)

	fmt.Println("\nPattern breakdown:")
	counts := engine.CountPatterns(decisions)
	for _, p := range []telemetry.Pattern{
		telemetry.PatternNormal,
		telemetry.PatternTheft,
		telemetry.PatternFault,
		telemetry.PatternTransformerOverload,
		telemetry.PatternAnomaly,
	} {
		if n, ok := counts[p]; ok {
			fmt.Printf("  %-21s %d\n", p, n)
		}
	}

	fmt.Println("\nTop alerts:")
	shown := 0
	for i := range decisions {
		if !decisions[i].Alert {
			continue
		}
		shown++
		fmt.Printf("  %d. %-10s %-21s risk %.2f  %s\n",
			shown, decisions[i].MeterID, decisions[i].Pattern,
			decisions[i].RiskScore, decisions[i].Explanation,
		)
		if shown == 5 {
			break
		}
	}
	if shown == 0 {
		fmt.Println("  none")
	}
}
