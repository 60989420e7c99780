package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeatingCycle_RejectsInvertedRange(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	_, err := NewHeatingCycle("d", now, now, 18, 19, 20, nil)
	var rangeErr *InvalidRangeError
	require.ErrorAs(t, err, &rangeErr)

	_, err = NewHeatingCycle("d", now, now.Add(-time.Hour), 18, 19, 20, nil)
	require.ErrorAs(t, err, &rangeErr)
}

func TestHeatingCycle_DerivedProperties(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	c, err := NewHeatingCycle("d", now, now.Add(90*time.Minute), 18.0, 19.5, 21.0, []TariffPeriodDetail{
		{PriceEURPerKWh: 0.2, EnergyKWh: 1.0, HeatingDurationMinutes: 45, CostEuro: 0.2},
		{PriceEURPerKWh: 0.4, EnergyKWh: 0.5, HeatingDurationMinutes: 45, CostEuro: 0.2},
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, c.AvgHeatingSlope(), 0.001)
	assert.InDelta(t, 90.0, c.DurationMinutes(), 0.001)
	assert.InDelta(t, 1.5, c.TempDelta(), 0.001)
	assert.InDelta(t, 1.5, c.TotalEnergyKWh(), 0.001)
	assert.InDelta(t, 0.4, c.TotalCostEuro(), 0.001)
	assert.InDelta(t, 90.0, c.TotalHeatingMinutes(), 0.001)
}

func TestValueTruthy(t *testing.T) {
	assert.True(t, StateValue("on").Truthy())
	assert.True(t, StateValue("heating").Truthy())
	assert.True(t, NumberValue(1).Truthy())
	assert.True(t, BoolValue(true).Truthy())

	assert.False(t, StateValue("off").Truthy())
	assert.False(t, StateValue("").Truthy())
	assert.False(t, NumberValue(0).Truthy())
	assert.False(t, BoolValue(false).Truthy())
}

func TestHVACStates(t *testing.T) {
	assert.True(t, ModeHeat.AllowsHeating())
	assert.True(t, ModeHeatCool.AllowsHeating())
	assert.True(t, ModeAuto.AllowsHeating())
	assert.False(t, ModeOff.AllowsHeating())
	assert.False(t, ModeCool.AllowsHeating())

	assert.True(t, ActionHeating.IsHeating())
	assert.True(t, ActionPreheating.IsHeating())
	assert.False(t, ActionIdle.IsHeating())
	assert.False(t, ActionCooling.IsHeating())
}

func TestNewScheduledTimeslot_RequiresID(t *testing.T) {
	_, err := NewScheduledTimeslot(time.Now(), 21.0, "", "scheduler.x")
	var rangeErr *InvalidRangeError
	require.ErrorAs(t, err, &rangeErr)

	slot, err := NewScheduledTimeslot(time.Now(), 21.0, "slot-1", "scheduler.x")
	require.NoError(t, err)
	assert.Equal(t, "slot-1", slot.TimeslotID)
}

func TestNewPredictionResult_Invariants(t *testing.T) {
	now := time.Now()
	var rangeErr *InvalidRangeError

	_, err := NewPredictionResult(now, -1, 0.5, 2.0)
	require.ErrorAs(t, err, &rangeErr)

	_, err = NewPredictionResult(now, 10, 1.5, 2.0)
	require.ErrorAs(t, err, &rangeErr)

	// Positive confidence demands a positive slope.
	_, err = NewPredictionResult(now, 10, 0.5, 0)
	require.ErrorAs(t, err, &rangeErr)

	// Zero confidence with a non-positive slope is the valid degenerate case.
	r, err := NewPredictionResult(now, 0, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, r.ConfidenceLevel)
}

func TestEnvironmentStateValidate(t *testing.T) {
	bad := 130.0
	env := EnvironmentState{IndoorTemperature: 20, OutdoorHumidity: &bad}
	var rangeErr *InvalidRangeError
	require.ErrorAs(t, env.Validate(), &rangeErr)

	ok := 55.0
	env = EnvironmentState{IndoorTemperature: 20, OutdoorHumidity: &ok}
	assert.NoError(t, env.Validate())
}

func TestCachedCycles_Retention(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	old, err := NewHeatingCycle("d", now.AddDate(0, 0, -40), now.AddDate(0, 0, -40).Add(time.Hour), 18, 20, 21, nil)
	require.NoError(t, err)
	recent, err := NewHeatingCycle("d", now.Add(-time.Hour), now.Add(-30*time.Minute), 18, 19, 21, nil)
	require.NoError(t, err)

	cached := CachedCycles{DeviceID: "d", Cycles: []HeatingCycle{old, recent}, RetentionDays: 30}
	kept := cached.CyclesWithinRetention(now)
	require.Len(t, kept, 1)
	assert.Equal(t, recent.StartTime, kept[0].StartTime)
}
