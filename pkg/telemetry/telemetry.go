// Package telemetry provides the public data types shared by the GridSight
// decision engine, its storage layer, and its reporting surfaces.
package telemetry

import "time"

// Pattern is the named fault category assigned to a reading.
type Pattern string

const (
	PatternNormal              Pattern = "normal"
	PatternTheft               Pattern = "theft"
	PatternFault               Pattern = "fault"
	PatternTransformerOverload Pattern = "transformer_overload"
	PatternAnomaly             Pattern = "anomaly"
)

// Signal flags which measurements a reading actually carries. Rows from
// partial exports may lack voltage or current; the classifier switches on
// these flags instead of guessing from zero values.
type Signal uint8

const (
	SignalVoltage Signal = 1 << iota
	SignalCurrent
	SignalPower
	SignalRollingAvg
)

// Has reports whether all given signals are present.
func (s Signal) Has(flags Signal) bool {
	return s&flags == flags
}

// Reading is one meter's measurement at one timestamp, enriched with the
// derived feature columns produced by preprocessing.
type Reading struct {
	MeterID       string    `json:"meter_id"`
	Timestamp     time.Time `json:"timestamp"`
	TransformerID string    `json:"transformer_id,omitempty"` // empty = not grouped
	Signals       Signal    `json:"-"`

	Voltage float64 `json:"voltage"` // V
	Current float64 `json:"current"` // A
	Power   float64 `json:"power"`   // kW
	KWH     float64 `json:"kwh"`     // interval energy, kWh

	// Derived features.
	KWHDenoised         float64 `json:"kwh_denoised"`
	RollingAvgPower     float64 `json:"rolling_avg_power"`
	DeviationFromNormal float64 `json:"deviation_from_normal"`
	EnergyKWH           float64 `json:"energy_kwh"` // cumulative per meter
}

// Verdict is the outlier model's per-reading output. The zero value is the
// documented no-model default: a normal label with score 0.
type Verdict struct {
	Anomalous bool    `json:"anomalous"`
	Score     float64 `json:"score"` // lower = more anomalous
}

// Baseline holds per-meter mean and standard deviation of the three raw
// electrical signals, computed over a single batch. Baselines are never
// persisted across batches.
type Baseline struct {
	MeterID     string  `json:"meter_id"`
	Samples     int     `json:"samples"`
	VoltageMean float64 `json:"voltage_mean"`
	VoltageStd  float64 `json:"voltage_std"`
	CurrentMean float64 `json:"current_mean"`
	CurrentStd  float64 `json:"current_std"`
	PowerMean   float64 `json:"power_mean"`
	PowerStd    float64 `json:"power_std"`
}

// Decision is the engine's output unit: the reading joined with the pattern
// verdict, risk score, and human-readable explanation.
type Decision struct {
	Reading

	Verdict     Verdict `json:"verdict"`
	Pattern     Pattern `json:"pattern"`
	RiskScore   float64 `json:"risk_score"` // [0, 1]
	Explanation string  `json:"explanation"`
	Alert       bool    `json:"alert"` // pattern != normal
}

// AlertPayload is the flat record handed to the notification channel. Pointer
// fields distinguish "value absent" from a measured zero; the formatter
// renders absent fields as a placeholder rather than failing the send.
type AlertPayload struct {
	MeterID     string    `json:"meter_id"`
	Pattern     Pattern   `json:"pattern"`
	Timestamp   time.Time `json:"timestamp"`
	RiskScore   float64   `json:"risk_score"`
	Power       *float64  `json:"power,omitempty"`
	Voltage     *float64  `json:"voltage,omitempty"`
	Current     *float64  `json:"current,omitempty"`
	Explanation string    `json:"explanation"`
}

// PayloadFromDecision builds the notification payload for an alerting row.
func PayloadFromDecision(d *Decision) AlertPayload {
	p := AlertPayload{
		MeterID:     d.MeterID,
		Pattern:     d.Pattern,
		Timestamp:   d.Timestamp,
		RiskScore:   d.RiskScore,
		Explanation: d.Explanation,
	}
	if d.Signals.Has(SignalPower) {
		v := d.Power
		p.Power = &v
	}
	if d.Signals.Has(SignalVoltage) {
		v := d.Voltage
		p.Voltage = &v
	}
	if d.Signals.Has(SignalCurrent) {
		v := d.Current
		p.Current = &v
	}
	return p
}
