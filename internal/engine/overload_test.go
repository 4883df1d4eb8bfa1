package engine

import (
	"testing"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
)

// overloadBatch builds one transformer group at a single timestamp where
// three of four meters run at double their own mean power. Each meter also
// has a second, low-power reading so its grouped mean stays at the low value.
func overloadBatch() []telemetry.Decision {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(30 * time.Minute)

	mk := func(meter string, ts time.Time, power float64) telemetry.Decision {
		return telemetry.Decision{
			Reading: telemetry.Reading{
				MeterID:       meter,
				Timestamp:     ts,
				TransformerID: "TRF-01",
				Signals:       telemetry.SignalPower,
				Power:         power,
			},
			Pattern:     telemetry.PatternNormal,
			Explanation: "Normal operation",
		}
	}

	return []telemetry.Decision{
		// Grouped timestamp under test: three meters spiking, one steady.
		mk("M1", t0, 4.0),
		mk("M2", t0, 4.2),
		mk("M3", t0, 3.8),
		mk("M4", t0, 2.0),
		// Second timestamp keeps every meter's own mean low.
		mk("M1", t1, 1.0),
		mk("M2", t1, 1.0),
		mk("M3", t1, 1.0),
		mk("M4", t1, 2.0),
	}
}

func TestApplyOverload(t *testing.T) {
	decisions := overloadBatch()
	ApplyOverload(decisions)

	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	overridden := 0
	for i := range decisions {
		if !decisions[i].Timestamp.Equal(t0) {
			if decisions[i].Pattern == telemetry.PatternTransformerOverload {
				t.Errorf("row %d at other timestamp was overridden", i)
			}
			continue
		}
		if decisions[i].Pattern != telemetry.PatternTransformerOverload {
			t.Errorf("row %d pattern = %q, want transformer_overload", i, decisions[i].Pattern)
			continue
		}
		overridden++
		if decisions[i].RiskScore != overloadRisk {
			t.Errorf("row %d risk = %v, want %v", i, decisions[i].RiskScore, overloadRisk)
		}
	}
	// 3 of 4 high-load (75% > 70%): the whole group is overridden,
	// including the meter that was not spiking.
	if overridden != 4 {
		t.Errorf("overridden rows = %d, want 4", overridden)
	}
}

func TestApplyOverload_Idempotent(t *testing.T) {
	once := overloadBatch()
	ApplyOverload(once)

	twice := overloadBatch()
	ApplyOverload(twice)
	ApplyOverload(twice)

	for i := range once {
		if once[i].Pattern != twice[i].Pattern ||
			once[i].RiskScore != twice[i].RiskScore ||
			once[i].Explanation != twice[i].Explanation {
			t.Errorf("row %d diverged after second pass: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestApplyOverload_BelowThreshold(t *testing.T) {
	decisions := overloadBatch()
	// Pull one spiking meter back down: 2 of 4 high-load is under the bar.
	decisions[2].Power = 1.0

	ApplyOverload(decisions)
	for i := range decisions {
		if decisions[i].Pattern == telemetry.PatternTransformerOverload {
			t.Errorf("row %d overridden with only half the group at high load", i)
		}
	}
}

func TestApplyOverload_NoTransformerID(t *testing.T) {
	decisions := overloadBatch()
	for i := range decisions {
		decisions[i].TransformerID = ""
	}

	ApplyOverload(decisions)
	for i := range decisions {
		if decisions[i].Pattern != telemetry.PatternNormal {
			t.Errorf("ungrouped row %d was modified: %q", i, decisions[i].Pattern)
		}
	}
}
