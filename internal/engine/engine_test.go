package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
	"go.uber.org/zap"
)

// scenarioBatch builds two meters with mostly steady telemetry: M1 ends on
// an electrical theft signature (voltage sag with excess current), M2 ends
// on a power spike far outside its spread.
func scenarioBatch() []telemetry.Reading {
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var readings []telemetry.Reading

	for i := 0; i < 20; i++ {
		ts := t0.Add(time.Duration(i) * 30 * time.Minute)

		m1 := telemetry.Reading{
			MeterID: "M1", Timestamp: ts, Signals: allSignals,
			Voltage: 230, Current: 10, Power: 2.3, KWH: 1.15,
		}
		m2 := telemetry.Reading{
			MeterID: "M2", Timestamp: ts, Signals: allSignals,
			Voltage: 230, Current: 10, Power: 2.0, KWH: 1.0,
		}

		if i == 19 {
			m1.Voltage, m1.Current = 190, 14
			m2.Power = 10.0
		}
		readings = append(readings, m1, m2)
	}
	return readings
}

func TestEngine_Analyze_RuleOnly(t *testing.T) {
	eng := New(zap.NewNop(), nil)
	if eng.HasModel() {
		t.Fatal("HasModel() = true for nil detector")
	}

	decisions, err := eng.Analyze(scenarioBatch())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(decisions) != 40 {
		t.Fatalf("got %d decisions, want 40", len(decisions))
	}

	// Risk-descending order.
	for i := 1; i < len(decisions); i++ {
		if decisions[i].RiskScore > decisions[i-1].RiskScore {
			t.Fatalf("decisions not sorted by risk at index %d", i)
		}
	}

	// The theft signature carries the highest risk without a model (0.6),
	// the power spike fault comes second (0.4).
	top := decisions[0]
	if top.MeterID != "M1" || top.Pattern != telemetry.PatternTheft {
		t.Errorf("top decision = %s/%s, want M1/theft", top.MeterID, top.Pattern)
	}
	if top.RiskScore != 0.6 {
		t.Errorf("top risk = %v, want 0.6", top.RiskScore)
	}
	second := decisions[1]
	if second.MeterID != "M2" || second.Pattern != telemetry.PatternFault {
		t.Errorf("second decision = %s/%s, want M2/fault", second.MeterID, second.Pattern)
	}

	alerts := 0
	for i := range decisions {
		wantAlert := decisions[i].Pattern != telemetry.PatternNormal
		if decisions[i].Alert != wantAlert {
			t.Errorf("row %d alert = %v for pattern %q", i, decisions[i].Alert, decisions[i].Pattern)
		}
		if decisions[i].Alert {
			alerts++
		}
	}
	if alerts != 2 {
		t.Errorf("alerts = %d, want 2", alerts)
	}

	counts := CountPatterns(decisions)
	if counts[telemetry.PatternNormal] != 38 {
		t.Errorf("normal count = %d, want 38", counts[telemetry.PatternNormal])
	}
	if counts[telemetry.PatternTheft] != 1 || counts[telemetry.PatternFault] != 1 {
		t.Errorf("pattern counts = %v", counts)
	}
}

func TestEngine_Analyze_EmptyBatch(t *testing.T) {
	eng := New(zap.NewNop(), nil)
	if _, err := eng.Analyze(nil); !errors.Is(err, ErrNoReadings) {
		t.Fatalf("err = %v, want ErrNoReadings", err)
	}
}

func TestEngine_Analyze_DoesNotMutateInput(t *testing.T) {
	readings := scenarioBatch()
	power := readings[0].Power
	rolling := readings[0].RollingAvgPower

	eng := New(zap.NewNop(), nil)
	if _, err := eng.Analyze(readings); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if readings[0].Power != power || readings[0].RollingAvgPower != rolling {
		t.Error("input batch was modified")
	}
}
