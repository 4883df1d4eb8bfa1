package main

import (
	"flag"
	"fmt"

	"github.com/gridsight/gridsight/internal/config"
	"github.com/gridsight/gridsight/internal/dataset"
	"github.com/gridsight/gridsight/internal/iforest"
	"github.com/gridsight/gridsight/internal/model"
	"go.uber.org/zap"
)

// runTrain fits the outlier model on a historical CSV and writes the
// artifact to disk.
func runTrain(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	dataPath := fs.String("data", "", "training readings CSV (required)")
	modelOut := fs.String("model-out", "", "artifact output path (default from config)")
	_ = fs.Parse(args)

	if *dataPath == "" {
		fatalf("train: -data is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("train: %v", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		fatalf("train: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	outPath := *modelOut
	if outPath == "" {
		outPath = cfg.GetString("model.path")
	}

	readings, err := dataset.LoadReadings(*dataPath)
	if err != nil {
		fatalf("train: %v", err)
	}
	logger.Info("training data loaded",
		zap.String("path", *dataPath),
		zap.Int("rows", len(readings)),
	)

	opts := iforest.DefaultOptions()
	if n := cfg.GetInt("model.trees"); n > 0 {
		opts.Trees = n
	}
	if c := cfg.GetFloat64("model.contamination"); c > 0 {
		opts.Contamination = c
	}
	opts.Seed = cfg.GetInt64("model.seed")

	detector, summary, err := model.Train(readings, opts)
	if err != nil {
		fatalf("train: %v", err)
	}
	if err := detector.Save(outPath); err != nil {
		fatalf("train: %v", err)
	}

	logger.Info("model artifact saved", zap.String("path", outPath))
	fmt.Println(summary)
}
