package engine

import (
	"fmt"
	"math"

	"github.com/gridsight/gridsight/pkg/telemetry"
)

// Detection thresholds. The rule order below is load-bearing: an electrical
// theft signature outranks a power spike on the same row.
const (
	voltageDropFactor = 0.85 // theft: voltage below this fraction of baseline mean
	highCurrentFactor = 1.30 // theft: current above this multiple of baseline mean
	powerZLimit       = 3.0  // fault: |z-score| of power beyond this
	suppressionRatio  = 0.5  // theft: power below this fraction of rolling average
	epsilon           = 0.001
)

// ruleInput is everything one rule evaluation may consult: the reading, its
// meter's batch baseline, and the (possibly zero-valued) outlier verdict.
type ruleInput struct {
	r        *telemetry.Reading
	baseline telemetry.Baseline
	verdict  telemetry.Verdict
}

// rule is one entry of the ordered classifier chain. Rules are mutually
// exclusive by construction: the first match wins and evaluation stops.
type rule struct {
	name    string
	pattern telemetry.Pattern
	match   func(in ruleInput) bool
	risk    func(in ruleInput) float64
	explain func(in ruleInput) string
}

// flaggedRisk returns the higher risk when the outlier model corroborates
// the rule, the lower otherwise.
func flaggedRisk(flagged, plain float64) func(ruleInput) float64 {
	return func(in ruleInput) float64 {
		if in.verdict.Anomalous {
			return flagged
		}
		return plain
	}
}

// rules is the classifier chain, evaluated top to bottom.
var rules = []rule{
	{
		name:    "theft_electrical_signature",
		pattern: telemetry.PatternTheft,
		match: func(in ruleInput) bool {
			if !in.r.Signals.Has(telemetry.SignalVoltage | telemetry.SignalCurrent) {
				return false
			}
			return in.r.Voltage < voltageDropFactor*in.baseline.VoltageMean &&
				in.r.Current > highCurrentFactor*in.baseline.CurrentMean
		},
		risk: flaggedRisk(0.9, 0.6),
		explain: func(in ruleInput) string {
			return fmt.Sprintf("Voltage drop (%.1fV < %.1fV) with high current (%.1fA > %.1fA)",
				in.r.Voltage, in.baseline.VoltageMean, in.r.Current, in.baseline.CurrentMean)
		},
	},
	{
		name:    "fault_power_spike",
		pattern: telemetry.PatternFault,
		match: func(in ruleInput) bool {
			if !in.r.Signals.Has(telemetry.SignalPower) {
				return false
			}
			return math.Abs(powerZScore(in)) > powerZLimit
		},
		risk: flaggedRisk(0.7, 0.4),
		explain: func(in ruleInput) string {
			return fmt.Sprintf("Power spike detected: %.1fkW (z-score: %.2f)",
				in.r.Power, powerZScore(in))
		},
	},
	{
		name:    "theft_consumption_suppression",
		pattern: telemetry.PatternTheft,
		match: func(in ruleInput) bool {
			if !in.r.Signals.Has(telemetry.SignalPower | telemetry.SignalRollingAvg) {
				return false
			}
			return powerRatio(in) < suppressionRatio
		},
		risk: flaggedRisk(0.8, 0.5),
		explain: func(in ruleInput) string {
			return fmt.Sprintf("Consumption %.0f%% of rolling average (%.1fkW < %.1fkW)",
				powerRatio(in)*100, in.r.Power, in.r.RollingAvgPower)
		},
	},
	{
		name:    "unexplained_anomaly",
		pattern: telemetry.PatternAnomaly,
		match: func(in ruleInput) bool {
			return in.verdict.Anomalous
		},
		risk: func(ruleInput) float64 { return 0.5 },
		explain: func(in ruleInput) string {
			return fmt.Sprintf("Outlier model flagged reading (score: %.3f)", in.verdict.Score)
		},
	},
}

// powerZScore standardizes the row's power against its meter baseline, with
// the standard deviation floored to keep the division defined.
func powerZScore(in ruleInput) float64 {
	return (in.r.Power - in.baseline.PowerMean) / math.Max(in.baseline.PowerStd, epsilon)
}

// powerRatio relates current power to the row's rolling average, floored the
// same way.
func powerRatio(in ruleInput) float64 {
	return in.r.Power / math.Max(in.r.RollingAvgPower, epsilon)
}

// Classify assigns the single most applicable pattern to one reading. Exactly
// one pattern results: the first matching rule, or normal with zero risk.
func Classify(r *telemetry.Reading, baseline telemetry.Baseline, verdict telemetry.Verdict) (telemetry.Pattern, float64, string) {
	in := ruleInput{r: r, baseline: baseline, verdict: verdict}
	for _, rule := range rules {
		if rule.match(in) {
			return rule.pattern, rule.risk(in), rule.explain(in)
		}
	}
	return telemetry.PatternNormal, 0.0, "Normal operation"
}
