// Package engine implements the hybrid decision engine: per-meter batch
// baselines, the ordered rule classifier, the transformer-overload group
// pass, and the orchestrator that produces the final alert table.
package engine

import (
	"fmt"
	"math"

	"github.com/gridsight/gridsight/pkg/telemetry"
	"gonum.org/v1/gonum/stat"
)

// BaselineSet holds per-meter statistics for one batch. Each run is
// self-baselined: a meter whose batch data is mostly anomalous biases its own
// baseline. That is a known limitation of the design, preserved deliberately;
// no cross-batch state is kept.
type BaselineSet struct {
	byMeter map[string]telemetry.Baseline
}

// BuildBaselines computes mean and standard deviation of voltage, current,
// and power for every meter in the batch.
func BuildBaselines(readings []telemetry.Reading) *BaselineSet {
	groups := make(map[string][]int)
	for i := range readings {
		groups[readings[i].MeterID] = append(groups[readings[i].MeterID], i)
	}

	set := &BaselineSet{byMeter: make(map[string]telemetry.Baseline, len(groups))}
	for meter, idx := range groups {
		voltage := make([]float64, len(idx))
		current := make([]float64, len(idx))
		power := make([]float64, len(idx))
		for i, j := range idx {
			voltage[i] = readings[j].Voltage
			current[i] = readings[j].Current
			power[i] = readings[j].Power
		}

		b := telemetry.Baseline{MeterID: meter, Samples: len(idx)}
		b.VoltageMean, b.VoltageStd = meanStd(voltage)
		b.CurrentMean, b.CurrentStd = meanStd(current)
		b.PowerMean, b.PowerStd = meanStd(power)
		set.byMeter[meter] = b
	}
	return set
}

// Lookup returns the baseline for a meter. Requesting a meter absent from the
// batch is a caller error: statistics over zero rows do not exist.
func (s *BaselineSet) Lookup(meterID string) (telemetry.Baseline, error) {
	b, ok := s.byMeter[meterID]
	if !ok {
		return telemetry.Baseline{}, fmt.Errorf("engine: no readings for meter %q in batch", meterID)
	}
	return b, nil
}

// All returns every baseline in the set.
func (s *BaselineSet) All() []telemetry.Baseline {
	out := make([]telemetry.Baseline, 0, len(s.byMeter))
	for _, b := range s.byMeter {
		out = append(out, b)
	}
	return out
}

// meanStd computes the sample mean and standard deviation, with a defined
// zero for single-sample series.
func meanStd(vals []float64) (float64, float64) {
	mean, std := stat.MeanStdDev(vals, nil)
	if len(vals) < 2 || math.IsNaN(std) {
		std = 0
	}
	return mean, std
}
