// Package feature implements the feature contract consumed by the outlier
// model: derivation of the smoothed/rolling columns from raw readings, and
// the frozen scaling/encoding transform fit at training time.
package feature

import (
	"sort"

	"github.com/gridsight/gridsight/pkg/telemetry"
	"gonum.org/v1/gonum/stat"
)

// Names of the numeric feature columns, in model input order.
var NumericFeatures = []string{
	"kwh_denoised",
	"power",
	"rolling_avg_power",
	"deviation_from_normal",
	"voltage",
	"current",
	"energy_kwh",
}

const (
	denoiseWindow = 3 // centered moving average over interval energy
	rollingWindow = 4 // trailing samples for rolling average power (1h at 15min)
)

// Derive recomputes the derived feature columns in place. Readings are first
// ordered by timestamp within each meter; rolling computations never cross
// meter boundaries. The same derivation runs at training and at inference so
// the two always see an identical feature schema.
func Derive(readings []telemetry.Reading) {
	byMeter := make(map[string][]int)
	for i := range readings {
		byMeter[readings[i].MeterID] = append(byMeter[readings[i].MeterID], i)
	}

	for _, idx := range byMeter {
		sort.SliceStable(idx, func(a, b int) bool {
			return readings[idx[a]].Timestamp.Before(readings[idx[b]].Timestamp)
		})
		deriveMeter(readings, idx)
	}
}

func deriveMeter(readings []telemetry.Reading, idx []int) {
	powers := make([]float64, len(idx))
	for i, j := range idx {
		powers[i] = readings[j].Power
	}
	meanPower := stat.Mean(powers, nil)

	var cumulative float64
	for i, j := range idx {
		r := &readings[j]

		cumulative += r.KWH
		r.EnergyKWH = cumulative

		r.KWHDenoised = centeredMean(readings, idx, i, denoiseWindow)
		r.RollingAvgPower = trailingMeanPower(powers, i, rollingWindow)
		r.DeviationFromNormal = r.Power - meanPower
	}
}

// centeredMean averages interval energy over a window centered on position i,
// clamped at the series edges.
func centeredMean(readings []telemetry.Reading, idx []int, i, window int) float64 {
	half := window / 2
	lo := i - half
	if lo < 0 {
		lo = 0
	}
	hi := i + half
	if hi > len(idx)-1 {
		hi = len(idx) - 1
	}
	var sum float64
	for k := lo; k <= hi; k++ {
		sum += readings[idx[k]].KWH
	}
	return sum / float64(hi-lo+1)
}

// trailingMeanPower averages power over the last window samples up to and
// including position i.
func trailingMeanPower(powers []float64, i, window int) float64 {
	lo := i - window + 1
	if lo < 0 {
		lo = 0
	}
	var sum float64
	for k := lo; k <= i; k++ {
		sum += powers[k]
	}
	return sum / float64(i-lo+1)
}
