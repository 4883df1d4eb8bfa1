// Package dataset reads batches of smart-meter readings from CSV exports and
// writes decision tables back out. The on-disk contract is a plain tabular
// file: one row per (meter_id, timestamp), sorted by timestamp on load.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
)

// ErrEmpty is returned when the input file contains a header but no rows.
var ErrEmpty = errors.New("dataset: no readings in file")

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// LoadReadings parses a readings CSV. Required columns: meter_id, timestamp.
// voltage, current, power, kwh, and transformer_id are optional; the signal
// flags on each reading record which of them the file actually carried.
func LoadReadings(path string) ([]telemetry.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	readings, err := parseReadings(f)
	if err != nil {
		return nil, fmt.Errorf("dataset: parse %s: %w", path, err)
	}
	return readings, nil
}

func parseReadings(r io.Reader) ([]telemetry.Reading, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"meter_id", "timestamp"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var signals telemetry.Signal
	if _, ok := col["voltage"]; ok {
		signals |= telemetry.SignalVoltage
	}
	if _, ok := col["current"]; ok {
		signals |= telemetry.SignalCurrent
	}
	if _, ok := col["power"]; ok {
		signals |= telemetry.SignalPower | telemetry.SignalRollingAvg
	}

	var readings []telemetry.Reading
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		reading := telemetry.Reading{
			MeterID: record[col["meter_id"]],
			Signals: signals,
		}
		reading.Timestamp, err = parseTimestamp(record[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if i, ok := col["transformer_id"]; ok {
			reading.TransformerID = record[i]
		}
		for _, field := range []struct {
			name string
			dst  *float64
		}{
			{"voltage", &reading.Voltage},
			{"current", &reading.Current},
			{"power", &reading.Power},
			{"kwh", &reading.KWH},
		} {
			i, ok := col[field.name]
			if !ok || record[i] == "" {
				continue
			}
			v, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %s: %w", line, field.name, err)
			}
			*field.dst = v
		}

		readings = append(readings, reading)
	}

	if len(readings) == 0 {
		return nil, ErrEmpty
	}

	sort.SliceStable(readings, func(a, b int) bool {
		return readings[a].Timestamp.Before(readings[b].Timestamp)
	})
	return readings, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// WriteDecisions writes the decision table to path, preserving row order
// (risk descending as produced by the engine). Parent directories are created
// as needed. The file is staged in a temporary sibling and renamed into place
// so a failed run never leaves a partial output behind.
func WriteDecisions(path string, decisions []telemetry.Decision) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("dataset: create output dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".decisions-*.csv")
	if err != nil {
		return fmt.Errorf("dataset: stage output: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	header := []string{
		"meter_id", "timestamp", "transformer_id",
		"voltage", "current", "power", "kwh",
		"pattern", "risk_score", "explanation", "alert",
	}
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("dataset: write header: %w", err)
	}
	for i := range decisions {
		d := &decisions[i]
		record := []string{
			d.MeterID,
			d.Timestamp.Format(time.RFC3339),
			d.TransformerID,
			formatFloat(d.Voltage),
			formatFloat(d.Current),
			formatFloat(d.Power),
			formatFloat(d.KWH),
			string(d.Pattern),
			strconv.FormatFloat(d.RiskScore, 'f', 2, 64),
			d.Explanation,
			strconv.FormatBool(d.Alert),
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return fmt.Errorf("dataset: write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("dataset: flush output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dataset: close output: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("dataset: publish output: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
