package engine

import (
	"fmt"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
)

// Transformer overload parameters.
const (
	overloadPowerFactor = 1.2 // a meter counts as high-load above this multiple of its own mean power
	overloadFraction    = 0.7 // override when more than this fraction of a group is high-load
	overloadRisk        = 0.85
)

type overloadKey struct {
	transformerID string
	timestamp     time.Time
}

// ApplyOverload runs the group-level second pass. For every (transformer,
// timestamp) group whose high-load fraction exceeds the threshold, each row's
// pattern, risk, and explanation are overwritten unconditionally: grid-level
// stress outranks any single meter's local explanation. Rows without a
// transformer pass through untouched. The pass is idempotent because the
// high-load test reads only power values, never prior decisions.
func ApplyOverload(decisions []telemetry.Decision) {
	// Grouped mean power per meter, independent of the classifier baselines.
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i := range decisions {
		sums[decisions[i].MeterID] += decisions[i].Power
		counts[decisions[i].MeterID]++
	}
	meanPower := func(meterID string) float64 {
		return sums[meterID] / float64(counts[meterID])
	}

	groups := make(map[overloadKey][]int)
	for i := range decisions {
		if decisions[i].TransformerID == "" {
			continue
		}
		k := overloadKey{decisions[i].TransformerID, decisions[i].Timestamp}
		groups[k] = append(groups[k], i)
	}

	for _, idx := range groups {
		high := 0
		for _, i := range idx {
			if decisions[i].Power > overloadPowerFactor*meanPower(decisions[i].MeterID) {
				high++
			}
		}
		frac := float64(high) / float64(len(idx))
		if frac <= overloadFraction {
			continue
		}
		explanation := fmt.Sprintf("Transformer overload: %.0f%% of meters at high load", frac*100)
		for _, i := range idx {
			decisions[i].Pattern = telemetry.PatternTransformerOverload
			decisions[i].RiskScore = overloadRisk
			decisions[i].Explanation = explanation
		}
	}
}
