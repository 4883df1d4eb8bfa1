package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gridsight/gridsight/internal/feature"
	"github.com/gridsight/gridsight/internal/model"
	"github.com/gridsight/gridsight/pkg/telemetry"
	"go.uber.org/zap"
)

// ErrNoReadings is returned when a run is invoked on an empty batch.
var ErrNoReadings = errors.New("engine: no readings in batch")

// Engine sequences the full decision pipeline for one batch: outlier
// verdicts, baselines, row classification, the transformer-overload pass, and
// the final alert/sort step. One Engine may run concurrently over independent
// batches; it holds no per-run mutable state.
type Engine struct {
	logger   *zap.Logger
	detector *model.Detector // nil = rule-only detection
}

// New creates an engine. A nil detector is the designed degraded mode: every
// verdict defaults to normal with score zero.
func New(logger *zap.Logger, detector *model.Detector) *Engine {
	return &Engine{logger: logger, detector: detector}
}

// HasModel reports whether an outlier model is loaded.
func (e *Engine) HasModel() bool {
	return e.detector != nil
}

// Analyze runs the whole pipeline and returns the decision table sorted by
// risk descending, ties keeping their original row order. The input slice is
// not modified.
func (e *Engine) Analyze(readings []telemetry.Reading) ([]telemetry.Decision, error) {
	if len(readings) == 0 {
		return nil, ErrNoReadings
	}
	start := time.Now()

	rows := make([]telemetry.Reading, len(readings))
	copy(rows, readings)
	feature.Derive(rows)

	verdicts := make([]telemetry.Verdict, len(rows))
	if e.detector != nil {
		v, err := e.detector.Predict(rows)
		if err != nil {
			return nil, fmt.Errorf("engine: outlier inference: %w", err)
		}
		verdicts = v
	}

	baselines := BuildBaselines(rows)

	decisions := make([]telemetry.Decision, len(rows))
	for i := range rows {
		baseline, err := baselines.Lookup(rows[i].MeterID)
		if err != nil {
			return nil, err
		}
		pattern, risk, explanation := Classify(&rows[i], baseline, verdicts[i])
		decisions[i] = telemetry.Decision{
			Reading:     rows[i],
			Verdict:     verdicts[i],
			Pattern:     pattern,
			RiskScore:   risk,
			Explanation: explanation,
		}
	}

	ApplyOverload(decisions)

	alerts := 0
	for i := range decisions {
		decisions[i].Alert = decisions[i].Pattern != telemetry.PatternNormal
		if decisions[i].Alert {
			alerts++
			alertsByPattern.WithLabelValues(string(decisions[i].Pattern)).Inc()
		}
	}

	sort.SliceStable(decisions, func(a, b int) bool {
		return decisions[a].RiskScore > decisions[b].RiskScore
	})

	readingsProcessed.Add(float64(len(decisions)))
	runDuration.Observe(time.Since(start).Seconds())

	e.logger.Info("batch analyzed",
		zap.Int("rows", len(decisions)),
		zap.Int("alerts", alerts),
		zap.Bool("model", e.detector != nil),
	)
	return decisions, nil
}

// CountPatterns tallies the pattern breakdown of a decision table.
func CountPatterns(decisions []telemetry.Decision) map[telemetry.Pattern]int {
	counts := make(map[telemetry.Pattern]int)
	for i := range decisions {
		counts[decisions[i].Pattern]++
	}
	return counts
}
