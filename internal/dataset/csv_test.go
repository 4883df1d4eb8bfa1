package dataset

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "readings.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadReadings_FullColumns(t *testing.T) {
	path := writeTemp(t, strings.Join([]string{
		"meter_id,timestamp,transformer_id,voltage,current,power,kwh",
		"M2,2024-06-01T00:30:00Z,TRF-01,231.5,10.2,2.36,1.18",
		"M1,2024-06-01T00:00:00Z,TRF-01,229.8,9.9,2.28,1.14",
	}, "\n") + "\n")

	readings, err := LoadReadings(path)
	if err != nil {
		t.Fatalf("LoadReadings: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2", len(readings))
	}

	// Sorted by timestamp: M1 first.
	if readings[0].MeterID != "M1" || readings[1].MeterID != "M2" {
		t.Errorf("order = [%s %s], want [M1 M2]", readings[0].MeterID, readings[1].MeterID)
	}
	r := readings[0]
	if r.TransformerID != "TRF-01" || r.Voltage != 229.8 || r.Current != 9.9 || r.Power != 2.28 || r.KWH != 1.14 {
		t.Errorf("parsed reading = %+v", r)
	}

	want := telemetry.SignalVoltage | telemetry.SignalCurrent |
		telemetry.SignalPower | telemetry.SignalRollingAvg
	if r.Signals != want {
		t.Errorf("signals = %b, want %b", r.Signals, want)
	}
}

func TestLoadReadings_PartialColumns(t *testing.T) {
	path := writeTemp(t, strings.Join([]string{
		"meter_id,timestamp,power",
		"M1,2024-06-01 00:00:00,2.3",
	}, "\n") + "\n")

	readings, err := LoadReadings(path)
	if err != nil {
		t.Fatalf("LoadReadings: %v", err)
	}

	r := readings[0]
	if r.Signals.Has(telemetry.SignalVoltage) || r.Signals.Has(telemetry.SignalCurrent) {
		t.Errorf("signals %b claim columns the file lacks", r.Signals)
	}
	if !r.Signals.Has(telemetry.SignalPower) || !r.Signals.Has(telemetry.SignalRollingAvg) {
		t.Errorf("power signals missing: %b", r.Signals)
	}
	if r.TransformerID != "" {
		t.Errorf("transformer_id = %q, want empty", r.TransformerID)
	}
}

func TestLoadReadings_TimestampLayouts(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"rfc3339", "2024-06-01T12:30:00Z"},
		{"space seconds", "2024-06-01 12:30:00"},
		{"t no zone", "2024-06-01T12:30:00"},
		{"space minutes", "2024-06-01 12:30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "meter_id,timestamp\nM1,"+tt.value+"\n")
			readings, err := LoadReadings(path)
			if err != nil {
				t.Fatalf("LoadReadings: %v", err)
			}
			want := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
			if !readings[0].Timestamp.Equal(want) {
				t.Errorf("timestamp = %v, want %v", readings[0].Timestamp, want)
			}
		})
	}
}

func TestLoadReadings_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"empty file", "", ErrEmpty},
		{"header only", "meter_id,timestamp\n", ErrEmpty},
		{"missing meter_id", "timestamp,power\n2024-06-01T00:00:00Z,2.0\n", nil},
		{"bad timestamp", "meter_id,timestamp\nM1,yesterday\n", nil},
		{"bad float", "meter_id,timestamp,power\nM1,2024-06-01T00:00:00Z,abc\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.content)
			_, err := LoadReadings(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDecisions_PreservesOrder(t *testing.T) {
	decisions := []telemetry.Decision{
		{
			Reading: telemetry.Reading{
				MeterID:   "M1",
				Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
				Voltage:   190, Current: 14, Power: 2.3, KWH: 1.15,
			},
			Pattern: telemetry.PatternTheft, RiskScore: 0.9,
			Explanation: "Voltage drop (190.0V < 195.5V) with high current (14.0A > 13.0A)",
			Alert:       true,
		},
		{
			Reading: telemetry.Reading{
				MeterID:   "M2",
				Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
				Voltage:   230, Current: 10, Power: 2.0, KWH: 1.0,
			},
			Pattern: telemetry.PatternNormal, RiskScore: 0,
			Explanation: "Normal operation",
		},
	}

	path := filepath.Join(t.TempDir(), "decisions.csv")
	if err := WriteDecisions(path, decisions); err != nil {
		t.Fatalf("WriteDecisions: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "meter_id" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "M1" || rows[1][7] != "theft" || rows[1][10] != "true" {
		t.Errorf("first row = %v", rows[1])
	}
	if rows[2][0] != "M2" || rows[2][7] != "normal" || rows[2][10] != "false" {
		t.Errorf("second row = %v", rows[2])
	}
}

func TestWriteDecisions_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifacts", "out", "decisions.csv")

	if err := WriteDecisions(path, nil); err != nil {
		t.Fatalf("WriteDecisions: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestWriteDecisions_NoPartialFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory at the target path makes the final rename fail.
	path := filepath.Join(dir, "decisions.csv")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	if err := WriteDecisions(path, nil); err == nil {
		t.Fatal("expected error when the target path is a directory")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "decisions.csv" {
			t.Errorf("stray staging file left behind: %s", e.Name())
		}
	}
}
