package feature

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/gridsight/gridsight/pkg/telemetry"
)

func fitRows() []telemetry.Reading {
	return []telemetry.Reading{
		{MeterID: "M2", Voltage: 220, Current: 8, Power: 2.0, KWHDenoised: 1.0, RollingAvgPower: 2.0, DeviationFromNormal: -1.0, EnergyKWH: 1.0},
		{MeterID: "M1", Voltage: 240, Current: 12, Power: 4.0, KWHDenoised: 2.0, RollingAvgPower: 4.0, DeviationFromNormal: 1.0, EnergyKWH: 2.0},
	}
}

func TestFitTransform_EmptyInput(t *testing.T) {
	if _, err := FitTransform(nil); !errors.Is(err, ErrEmptyFit) {
		t.Fatalf("err = %v, want ErrEmptyFit", err)
	}
}

func TestFitTransform_Standardizes(t *testing.T) {
	tr, err := FitTransform(fitRows())
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	// Vocabulary is sorted regardless of first-seen order.
	if len(tr.Meters) != 2 || tr.Meters[0] != "M1" || tr.Meters[1] != "M2" {
		t.Fatalf("Meters = %v, want [M1 M2]", tr.Meters)
	}
	if tr.Width() != len(NumericFeatures)+2 {
		t.Fatalf("Width() = %d, want %d", tr.Width(), len(NumericFeatures)+2)
	}

	rows := fitRows()
	vec, err := tr.Apply(&rows[0])
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Two symmetric samples standardize to -1/sqrt(2) and +1/sqrt(2)
	// under the sample standard deviation.
	want := -1 / math.Sqrt2
	for f := range NumericFeatures {
		if math.Abs(vec[f]-want) > 1e-9 {
			t.Errorf("feature %d = %v, want %v", f, vec[f], want)
		}
	}
	// One-hot block: M2 is the second category.
	if vec[len(NumericFeatures)] != 0 || vec[len(NumericFeatures)+1] != 1 {
		t.Errorf("one-hot block = %v", vec[len(NumericFeatures):])
	}
}

func TestTransform_ConstantColumnPassesThrough(t *testing.T) {
	rows := []telemetry.Reading{
		{MeterID: "M1", Voltage: 230, Power: 2.0},
		{MeterID: "M1", Voltage: 230, Power: 4.0},
	}
	tr, err := FitTransform(rows)
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	vec, err := tr.Apply(&rows[0])
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Voltage is constant: centered value is exactly zero, no 0/0.
	if vec[4] != 0 {
		t.Errorf("constant voltage feature = %v, want 0", vec[4])
	}
}

func TestTransform_UnseenMeterEncodesToZeros(t *testing.T) {
	tr, err := FitTransform(fitRows())
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	r := telemetry.Reading{MeterID: "M99", Voltage: 230, Current: 10, Power: 3.0}
	vec, err := tr.Apply(&r)
	if err != nil {
		t.Fatalf("Apply unseen meter: %v", err)
	}
	for i := len(NumericFeatures); i < len(vec); i++ {
		if vec[i] != 0 {
			t.Errorf("one-hot slot %d = %v, want 0 for unseen meter", i, vec[i])
		}
	}
}

func TestTransform_MissingFeatureRejected(t *testing.T) {
	tr, err := FitTransform(fitRows())
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	r := telemetry.Reading{MeterID: "M1", Power: math.NaN()}
	if _, err := tr.Apply(&r); err == nil {
		t.Fatal("expected error for NaN feature")
	}

	if _, err := tr.ApplyAll([]telemetry.Reading{r}); err == nil {
		t.Fatal("expected batch error for NaN feature")
	}
}

func TestTransform_RebuildAfterDecode(t *testing.T) {
	tr, err := FitTransform(fitRows())
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	blob, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Transform
	if err := json.Unmarshal(blob, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded.Rebuild()

	rows := fitRows()
	a, err := tr.Apply(&rows[0])
	if err != nil {
		t.Fatalf("Apply original: %v", err)
	}
	b, err := decoded.Apply(&rows[0])
	if err != nil {
		t.Fatalf("Apply decoded: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vector diverged at %d: %v vs %v", i, a[i], b[i])
		}
	}
}
