package domain

import (
	"fmt"
	"time"
)

// TariffPeriodDetail breaks a heating cycle down over one price-stable interval.
type TariffPeriodDetail struct {
	PriceEURPerKWh         float64 `json:"price_eur_per_kwh"`
	EnergyKWh              float64 `json:"energy_kwh"`
	HeatingDurationMinutes float64 `json:"heating_duration_minutes"`
	CostEuro               float64 `json:"cost_euro"`
}

// HeatingCycle is a contiguous interval during which the system heated toward
// a target. Created only by cycle extraction from a closed start/end pair and
// never mutated afterwards.
type HeatingCycle struct {
	DeviceID      string               `json:"device_id"`
	StartTime     time.Time            `json:"start_time"`
	EndTime       time.Time            `json:"end_time"`
	StartTemp     float64              `json:"start_temp"`
	EndTemp       float64              `json:"end_temp"`
	TargetTemp    float64              `json:"target_temp"`
	TariffDetails []TariffPeriodDetail `json:"tariff_details,omitempty"`
}

// NewHeatingCycle validates the start/end ordering before construction.
func NewHeatingCycle(deviceID string, start, end time.Time, startTemp, endTemp, targetTemp float64, tariff []TariffPeriodDetail) (HeatingCycle, error) {
	if !start.Before(end) {
		return HeatingCycle{}, &InvalidRangeError{Field: "cycle", Reason: fmt.Sprintf("start %s must be before end %s", start, end)}
	}
	return HeatingCycle{
		DeviceID:      deviceID,
		StartTime:     start,
		EndTime:       end,
		StartTemp:     startTemp,
		EndTemp:       endTemp,
		TargetTemp:    targetTemp,
		TariffDetails: tariff,
	}, nil
}

// AvgHeatingSlope is the average temperature rise in °C/hour over the cycle.
func (c HeatingCycle) AvgHeatingSlope() float64 {
	hours := c.EndTime.Sub(c.StartTime).Hours()
	if hours == 0 {
		return 0
	}
	return (c.EndTemp - c.StartTemp) / hours
}

// DurationMinutes is the wall-clock length of the cycle.
func (c HeatingCycle) DurationMinutes() float64 {
	return c.EndTime.Sub(c.StartTime).Minutes()
}

// TempDelta is the remaining gap between target and reached temperature.
func (c HeatingCycle) TempDelta() float64 {
	return c.TargetTemp - c.EndTemp
}

// TotalEnergyKWh sums energy over the tariff breakdown.
func (c HeatingCycle) TotalEnergyKWh() float64 {
	var total float64
	for _, d := range c.TariffDetails {
		total += d.EnergyKWh
	}
	return total
}

// TotalCostEuro sums cost over the tariff breakdown.
func (c HeatingCycle) TotalCostEuro() float64 {
	var total float64
	for _, d := range c.TariffDetails {
		total += d.CostEuro
	}
	return total
}

// TotalHeatingMinutes sums actual burner on-time over the tariff breakdown.
func (c HeatingCycle) TotalHeatingMinutes() float64 {
	var total float64
	for _, d := range c.TariffDetails {
		total += d.HeatingDurationMinutes
	}
	return total
}

// CachedCycles is a device's cycle cache snapshot: previously extracted cycles
// plus the end of the last history search, enabling incremental extraction.
type CachedCycles struct {
	DeviceID       string
	Cycles         []HeatingCycle
	LastSearchTime time.Time
	RetentionDays  int
}

// CyclesSince returns the cached cycles starting at or after start.
func (c CachedCycles) CyclesSince(start time.Time) []HeatingCycle {
	var out []HeatingCycle
	for _, cy := range c.Cycles {
		if !cy.StartTime.Before(start) {
			out = append(out, cy)
		}
	}
	return out
}

// CyclesWithinRetention returns the cached cycles newer than the retention
// window measured back from reference.
func (c CachedCycles) CyclesWithinRetention(reference time.Time) []HeatingCycle {
	cutoff := reference.AddDate(0, 0, -c.RetentionDays)
	return c.CyclesSince(cutoff)
}
