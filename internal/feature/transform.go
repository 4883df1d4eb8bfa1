package feature

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/gridsight/gridsight/pkg/telemetry"
	"gonum.org/v1/gonum/stat"
)

// ErrEmptyFit is returned when FitTransform is asked to fit on zero rows.
var ErrEmptyFit = errors.New("feature: cannot fit transform on empty input")

// Transform standardizes the numeric feature columns (zero mean, unit
// variance, statistics frozen at fit time) and one-hot encodes meter_id.
// Meters unseen at fit time encode to an all-zero category block; they are
// tolerated, never rejected.
type Transform struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
	// Meters holds the category vocabulary in encoding order.
	Meters []string `json:"meters"`

	meterIndex map[string]int
}

// FitTransform computes per-feature scaling statistics and the meter
// vocabulary from the given rows. Fails on empty input: a scaler fit on zero
// rows is degenerate and must not be produced silently.
func FitTransform(readings []telemetry.Reading) (*Transform, error) {
	if len(readings) == 0 {
		return nil, ErrEmptyFit
	}

	n := len(NumericFeatures)
	t := &Transform{
		Means: make([]float64, n),
		Stds:  make([]float64, n),
	}

	col := make([]float64, len(readings))
	for f := 0; f < n; f++ {
		for i := range readings {
			col[i] = numericValue(&readings[i], f)
		}
		mean, std := stat.MeanStdDev(col, nil)
		if len(readings) < 2 || math.IsNaN(std) || std == 0 {
			std = 1 // constant column: pass through centered only
		}
		t.Means[f] = mean
		t.Stds[f] = std
	}

	seen := make(map[string]struct{})
	for i := range readings {
		id := readings[i].MeterID
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			t.Meters = append(t.Meters, id)
		}
	}
	sort.Strings(t.Meters)
	t.buildIndex()

	return t, nil
}

// Rebuild reconstructs the meter lookup map. Callers must invoke it after
// decoding a persisted transform.
func (t *Transform) Rebuild() {
	t.buildIndex()
}

func (t *Transform) buildIndex() {
	t.meterIndex = make(map[string]int, len(t.Meters))
	for i, m := range t.Meters {
		t.meterIndex[m] = i
	}
}

// Width returns the dimensionality of transformed vectors.
func (t *Transform) Width() int {
	return len(NumericFeatures) + len(t.Meters)
}

// Apply maps one reading to its standardized, encoded feature vector using
// the frozen fit-time statistics.
func (t *Transform) Apply(r *telemetry.Reading) ([]float64, error) {
	if err := checkFeatures(r); err != nil {
		return nil, err
	}

	vec := make([]float64, t.Width())
	for f := range NumericFeatures {
		vec[f] = (numericValue(r, f) - t.Means[f]) / t.Stds[f]
	}
	if i, ok := t.meterIndex[r.MeterID]; ok {
		vec[len(NumericFeatures)+i] = 1
	}
	return vec, nil
}

// ApplyAll transforms a batch of readings.
func (t *Transform) ApplyAll(readings []telemetry.Reading) ([][]float64, error) {
	out := make([][]float64, len(readings))
	for i := range readings {
		vec, err := t.Apply(&readings[i])
		if err != nil {
			return nil, fmt.Errorf("row %d (%s @ %s): %w",
				i, readings[i].MeterID, readings[i].Timestamp.Format("2006-01-02 15:04"), err)
		}
		out[i] = vec
	}
	return out, nil
}

// checkFeatures rejects rows whose required feature columns did not survive
// derivation. NaN is the only representation of a missing numeric feature.
func checkFeatures(r *telemetry.Reading) error {
	for f, name := range NumericFeatures {
		if math.IsNaN(numericValue(r, f)) {
			return fmt.Errorf("feature: missing required column %q", name)
		}
	}
	return nil
}

// numericValue returns the f-th numeric feature of a reading, matching the
// order of NumericFeatures.
func numericValue(r *telemetry.Reading, f int) float64 {
	switch f {
	case 0:
		return r.KWHDenoised
	case 1:
		return r.Power
	case 2:
		return r.RollingAvgPower
	case 3:
		return r.DeviationFromNormal
	case 4:
		return r.Voltage
	case 5:
		return r.Current
	case 6:
		return r.EnergyKWH
	default:
		panic(fmt.Sprintf("feature: index %d out of range", f))
	}
}
