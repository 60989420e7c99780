package domain

import "time"

// DataKey identifies a semantic category of historical telemetry.
type DataKey string

const (
	KeyIndoorTemp      DataKey = "indoor_temp"
	KeyTargetTemp      DataKey = "target_temp"
	KeyHeatingState    DataKey = "heating_state"
	KeyIndoorHumidity  DataKey = "indoor_humidity"
	KeyOutdoorHumidity DataKey = "outdoor_humidity"
	KeyOutdoorTemp     DataKey = "outdoor_temp"
	KeyCloudCoverage   DataKey = "cloud_coverage"
	KeyHeatingEnergy   DataKey = "heating_energy_kwh"
	KeyHeatingRuntime  DataKey = "heating_runtime_seconds"
	KeyTariffPrice     DataKey = "tariff_price_eur_per_kwh"
	KeyHeatingSlope    DataKey = "heating_slope"
)

// AllDataKeys lists every telemetry category the extraction pipeline may fetch.
var AllDataKeys = []DataKey{
	KeyIndoorTemp, KeyTargetTemp, KeyHeatingState,
	KeyIndoorHumidity, KeyOutdoorHumidity, KeyOutdoorTemp, KeyCloudCoverage,
	KeyHeatingEnergy, KeyHeatingRuntime, KeyTariffPrice,
}

// HVACMode is the operating mode reported by a climate device.
type HVACMode string

const (
	ModeOff      HVACMode = "off"
	ModeHeat     HVACMode = "heat"
	ModeHeatCool HVACMode = "heat_cool"
	ModeAuto     HVACMode = "auto"
	ModeCool     HVACMode = "cool"
)

// AllowsHeating reports whether the mode permits the system to heat.
func (m HVACMode) AllowsHeating() bool {
	switch m {
	case ModeHeat, ModeHeatCool, ModeAuto:
		return true
	default:
		return false
	}
}

// HVACAction is the instantaneous activity reported by a climate device.
type HVACAction string

const (
	ActionIdle       HVACAction = "idle"
	ActionHeating    HVACAction = "heating"
	ActionPreheating HVACAction = "preheating"
	ActionCooling    HVACAction = "cooling"
	ActionOff        HVACAction = "off"
)

// IsHeating reports whether the device is actually producing heat.
func (a HVACAction) IsHeating() bool {
	switch a {
	case ActionHeating, ActionPreheating:
		return true
	default:
		return false
	}
}

// ClimateState carries the typed climate attributes of a heating-state sample.
// It is resolved once at ingestion; samples from non-climate sources leave it nil.
type ClimateState struct {
	Mode   HVACMode
	Action HVACAction
}

// Value is a telemetry sample value: either a number or a raw state string.
type Value struct {
	Number  float64
	State   string
	Numeric bool
}

// NumberValue wraps a numeric sample.
func NumberValue(n float64) Value { return Value{Number: n, Numeric: true} }

// StateValue wraps a textual state sample.
func StateValue(s string) Value { return Value{State: s} }

// BoolValue maps a boolean sample onto the conventional on/off states.
func BoolValue(b bool) Value {
	if b {
		return Value{State: "on"}
	}
	return Value{State: "off"}
}

// Truthy reports whether the value indicates an "on" condition. Used as the
// fallback when a heating-state sample comes from a plain switch or binary
// sensor instead of a climate device.
func (v Value) Truthy() bool {
	if v.Numeric {
		return v.Number != 0
	}
	switch v.State {
	case "on", "true", "1", "heat", "heating":
		return true
	}
	return false
}

// HistoricalMeasurement is a single timestamped telemetry sample.
// Immutable once produced by an adapter.
type HistoricalMeasurement struct {
	Timestamp time.Time
	Value     Value
	Climate   *ClimateState
	SourceID  string
}

// HistoricalDataSet groups raw measurements by semantic key. Lists are not
// required to be pre-sorted; consumers sort by timestamp before use.
type HistoricalDataSet struct {
	Data map[DataKey][]HistoricalMeasurement
}

// NewHistoricalDataSet returns an empty dataset ready for merging.
func NewHistoricalDataSet() HistoricalDataSet {
	return HistoricalDataSet{Data: make(map[DataKey][]HistoricalMeasurement)}
}

// Merge appends all series from other into the receiver.
func (ds HistoricalDataSet) Merge(other HistoricalDataSet) {
	for key, series := range other.Data {
		ds.Data[key] = append(ds.Data[key], series...)
	}
}

// Series returns the measurements recorded under key, or nil.
func (ds HistoricalDataSet) Series(key DataKey) []HistoricalMeasurement {
	return ds.Data[key]
}
