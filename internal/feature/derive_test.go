package feature

import (
	"math"
	"testing"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
)

func ts(minute int) time.Time {
	return time.Date(2024, 6, 1, 0, minute, 0, 0, time.UTC)
}

func TestDerive_CumulativeEnergy(t *testing.T) {
	readings := []telemetry.Reading{
		{MeterID: "M1", Timestamp: ts(0), KWH: 1.0},
		{MeterID: "M1", Timestamp: ts(15), KWH: 0.5},
		{MeterID: "M1", Timestamp: ts(30), KWH: 2.0},
		{MeterID: "M2", Timestamp: ts(0), KWH: 3.0},
	}
	Derive(readings)

	want := []float64{1.0, 1.5, 3.5, 3.0}
	for i, w := range want {
		if math.Abs(readings[i].EnergyKWH-w) > 1e-9 {
			t.Errorf("row %d EnergyKWH = %v, want %v", i, readings[i].EnergyKWH, w)
		}
	}
}

func TestDerive_OutOfOrderTimestamps(t *testing.T) {
	// Rows arrive shuffled; cumulative energy must follow time order.
	readings := []telemetry.Reading{
		{MeterID: "M1", Timestamp: ts(30), KWH: 2.0},
		{MeterID: "M1", Timestamp: ts(0), KWH: 1.0},
		{MeterID: "M1", Timestamp: ts(15), KWH: 0.5},
	}
	Derive(readings)

	// readings[0] is the latest sample, so it carries the full total.
	if math.Abs(readings[0].EnergyKWH-3.5) > 1e-9 {
		t.Errorf("latest row EnergyKWH = %v, want 3.5", readings[0].EnergyKWH)
	}
	if math.Abs(readings[1].EnergyKWH-1.0) > 1e-9 {
		t.Errorf("earliest row EnergyKWH = %v, want 1.0", readings[1].EnergyKWH)
	}
}

func TestDerive_RollingAvgPower(t *testing.T) {
	readings := []telemetry.Reading{
		{MeterID: "M1", Timestamp: ts(0), Power: 1.0},
		{MeterID: "M1", Timestamp: ts(15), Power: 2.0},
		{MeterID: "M1", Timestamp: ts(30), Power: 3.0},
		{MeterID: "M1", Timestamp: ts(45), Power: 4.0},
		{MeterID: "M1", Timestamp: ts(60), Power: 5.0},
	}
	Derive(readings)

	// Trailing mean over the last four samples, clamped at the start.
	want := []float64{1.0, 1.5, 2.0, 2.5, 3.5}
	for i, w := range want {
		if math.Abs(readings[i].RollingAvgPower-w) > 1e-9 {
			t.Errorf("row %d RollingAvgPower = %v, want %v", i, readings[i].RollingAvgPower, w)
		}
	}
}

func TestDerive_DeviationFromMeterMean(t *testing.T) {
	readings := []telemetry.Reading{
		{MeterID: "M1", Timestamp: ts(0), Power: 1.0},
		{MeterID: "M1", Timestamp: ts(15), Power: 3.0},
		{MeterID: "M2", Timestamp: ts(0), Power: 10.0},
	}
	Derive(readings)

	if math.Abs(readings[0].DeviationFromNormal-(-1.0)) > 1e-9 {
		t.Errorf("M1 row 0 deviation = %v, want -1", readings[0].DeviationFromNormal)
	}
	if math.Abs(readings[1].DeviationFromNormal-1.0) > 1e-9 {
		t.Errorf("M1 row 1 deviation = %v, want 1", readings[1].DeviationFromNormal)
	}
	// Deviation never crosses meter boundaries.
	if readings[2].DeviationFromNormal != 0 {
		t.Errorf("M2 deviation = %v, want 0", readings[2].DeviationFromNormal)
	}
}

func TestDerive_DenoisedEnergy(t *testing.T) {
	readings := []telemetry.Reading{
		{MeterID: "M1", Timestamp: ts(0), KWH: 1.0},
		{MeterID: "M1", Timestamp: ts(15), KWH: 4.0},
		{MeterID: "M1", Timestamp: ts(30), KWH: 1.0},
	}
	Derive(readings)

	// Centered window of three, clamped at the edges.
	want := []float64{2.5, 2.0, 2.5}
	for i, w := range want {
		if math.Abs(readings[i].KWHDenoised-w) > 1e-9 {
			t.Errorf("row %d KWHDenoised = %v, want %v", i, readings[i].KWHDenoised, w)
		}
	}
}
