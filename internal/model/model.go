// Package model owns the outlier model lifecycle: training on a historical
// batch, persistence as a single JSON artifact, and inference. The model has
// no dependency on the rule classifier; the data contract between them is the
// per-row Verdict.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gridsight/gridsight/internal/feature"
	"github.com/gridsight/gridsight/internal/iforest"
	"github.com/gridsight/gridsight/pkg/telemetry"
)

// ErrNotFound is returned by Load when no artifact exists at the given path.
// The orchestrator treats this one error as the designed fallback to
// rule-only detection; every other load failure propagates.
var ErrNotFound = errors.New("model: artifact not found")

// ErrEmptyTrainingSet is returned by Train when the feature table is empty.
var ErrEmptyTrainingSet = errors.New("model: empty training set")

// Detector bundles the frozen feature transform and the fitted forest. It is
// immutable after training: concurrent Predict calls share no mutable state.
type Detector struct {
	Transform *feature.Transform `json:"transform"`
	Forest    *iforest.Forest    `json:"forest"`
	TrainedAt time.Time          `json:"trained_at"`
}

// Summary reports training diagnostics. It is not consumed downstream.
type Summary struct {
	Rows      int
	Normal    int
	Anomalous int
	ScoreMin  float64
	ScoreMax  float64
}

func (s Summary) String() string {
	pct := func(n int) float64 {
		if s.Rows == 0 {
			return 0
		}
		return float64(n) / float64(s.Rows) * 100
	}
	return fmt.Sprintf(
		"Training complete:\n"+
			"- Total samples: %d\n"+
			"- Normal: %d (%.1f%%)\n"+
			"- Anomalous: %d (%.1f%%)\n"+
			"- Score range: [%.3f, %.3f]",
		s.Rows, s.Normal, pct(s.Normal), s.Anomalous, pct(s.Anomalous),
		s.ScoreMin, s.ScoreMax,
	)
}

// Train fits the scaling/encoding transform and the isolation forest on a
// batch of historical readings. Derivation runs first so training sees the
// same feature schema Predict will rebuild. An empty batch fails fast.
func Train(readings []telemetry.Reading, opts iforest.Options) (*Detector, Summary, error) {
	if len(readings) == 0 {
		return nil, Summary{}, ErrEmptyTrainingSet
	}

	rows := make([]telemetry.Reading, len(readings))
	copy(rows, readings)
	feature.Derive(rows)

	transform, err := feature.FitTransform(rows)
	if err != nil {
		return nil, Summary{}, err
	}
	x, err := transform.ApplyAll(rows)
	if err != nil {
		return nil, Summary{}, err
	}

	forest, err := iforest.Fit(x, opts)
	if err != nil {
		return nil, Summary{}, err
	}

	d := &Detector{
		Transform: transform,
		Forest:    forest,
		TrainedAt: time.Now().UTC(),
	}

	summary := Summary{Rows: len(x)}
	for i, vec := range x {
		score := forest.Score(vec)
		if i == 0 || score < summary.ScoreMin {
			summary.ScoreMin = score
		}
		if i == 0 || score > summary.ScoreMax {
			summary.ScoreMax = score
		}
		if forest.Anomalous(vec) {
			summary.Anomalous++
		} else {
			summary.Normal++
		}
	}

	return d, summary, nil
}

// Predict re-derives features for the given rows, applies the frozen
// transform (never refits), and scores each row. Zero rows yield an empty
// result; a row missing a required feature column fails the whole call.
func (d *Detector) Predict(readings []telemetry.Reading) ([]telemetry.Verdict, error) {
	if len(readings) == 0 {
		return []telemetry.Verdict{}, nil
	}

	rows := make([]telemetry.Reading, len(readings))
	copy(rows, readings)
	feature.Derive(rows)

	x, err := d.Transform.ApplyAll(rows)
	if err != nil {
		return nil, fmt.Errorf("model: transform: %w", err)
	}

	verdicts := make([]telemetry.Verdict, len(x))
	for i, vec := range x {
		verdicts[i] = telemetry.Verdict{
			Anomalous: d.Forest.Anomalous(vec),
			Score:     d.Forest.Score(vec),
		}
	}
	return verdicts, nil
}

// Save writes the detector to path as a single JSON artifact, creating parent
// directories as needed. The artifact is staged in a temporary sibling and
// renamed into place so a crash mid-write never leaves a truncated model.
func (d *Detector) Save(path string) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("model: encode artifact: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("model: create artifact dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("model: stage artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("model: write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("model: close artifact: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("model: chmod artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("model: publish artifact: %w", err)
	}
	return nil
}

// Load restores a detector saved by Save. A missing file maps to ErrNotFound;
// a corrupt or incomplete artifact is an explicit decode error, never a
// partially usable detector.
func Load(path string) (*Detector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("model: read artifact: %w", err)
	}

	var d Detector
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("model: decode artifact %s: %w", path, err)
	}
	if d.Transform == nil || d.Forest == nil || len(d.Forest.Trees) == 0 {
		return nil, fmt.Errorf("model: artifact %s is incomplete", path)
	}
	d.Transform.Rebuild()

	return &d, nil
}
