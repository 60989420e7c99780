package domain

import (
	"fmt"
	"time"
)

// EnvironmentState is a snapshot of the conditions that influence a heating
// decision. Optional fields are nil when the corresponding sensor is not
// configured or unavailable.
type EnvironmentState struct {
	Timestamp          time.Time `json:"timestamp"`
	IndoorTemperature  float64   `json:"indoor_temperature"`
	IndoorHumidity     *float64  `json:"indoor_humidity,omitempty"`
	OutdoorTemperature *float64  `json:"outdoor_temp,omitempty"`
	OutdoorHumidity    *float64  `json:"outdoor_humidity,omitempty"`
	CloudCoverage      *float64  `json:"cloud_coverage,omitempty"`
}

// Validate checks that percentage fields, when present, lie in [0,100].
func (e EnvironmentState) Validate() error {
	if err := checkPercent("indoor_humidity", e.IndoorHumidity); err != nil {
		return err
	}
	if err := checkPercent("outdoor_humidity", e.OutdoorHumidity); err != nil {
		return err
	}
	return checkPercent("cloud_coverage", e.CloudCoverage)
}

func checkPercent(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > 100 {
		return &InvalidRangeError{Field: field, Reason: fmt.Sprintf("must be in [0,100], got %.1f", *v)}
	}
	return nil
}
