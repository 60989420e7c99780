package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatpilot/backend/internal/domain"
)

func climateSample(ts time.Time, mode domain.HVACMode, action domain.HVACAction) domain.HistoricalMeasurement {
	return domain.HistoricalMeasurement{
		Timestamp: ts,
		Value:     domain.StateValue(string(mode)),
		Climate:   &domain.ClimateState{Mode: mode, Action: action},
	}
}

func numberSample(ts time.Time, v float64) domain.HistoricalMeasurement {
	return domain.HistoricalMeasurement{Timestamp: ts, Value: domain.NumberValue(v)}
}

func TestExtractHeatingCycles_SingleCycle(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{TempDeltaThreshold: 0.5})

	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionIdle),
		climateSample(base.Add(5*time.Minute), domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(15*time.Minute), domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(25*time.Minute), domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(40*time.Minute), domain.ModeHeat, domain.ActionHeating),
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 19.0),
		numberSample(base.Add(5*time.Minute), 19.0),
		numberSample(base.Add(15*time.Minute), 19.2),
		numberSample(base.Add(25*time.Minute), 19.4),
		numberSample(base.Add(40*time.Minute), 19.6),
	}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 20.0),
	}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	c := cycles[0]
	assert.Equal(t, 19.0, c.StartTemp)
	assert.Equal(t, 19.6, c.EndTemp)
	assert.Equal(t, 20.0, c.TargetTemp)
	assert.Equal(t, base.Add(5*time.Minute), c.StartTime)
	assert.Equal(t, base.Add(40*time.Minute), c.EndTime)
	assert.InDelta(t, 35.0, c.DurationMinutes(), 0.001)
	assert.InDelta(t, 0.6/(35.0/60.0), c.AvgHeatingSlope(), 0.001)
}

func TestExtractHeatingCycles_MissingCriticalData(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{numberSample(base, 19.0)}
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionHeating),
	}

	_, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(time.Hour), 0)
	var missing *domain.MissingDataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, domain.KeyTargetTemp, missing.Key)
}

func TestExtractHeatingCycles_ModeDisabledEndsCycle(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(20*time.Minute), domain.ModeOff, domain.ActionOff),
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 18.0),
		numberSample(base.Add(20*time.Minute), 18.4),
	}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 21.0)}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, 18.4, cycles[0].EndTemp)
	assert.InDelta(t, 20.0, cycles[0].DurationMinutes(), 0.001)
}

func TestExtractHeatingCycles_SyntheticCloseAtRangeEnd(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	end := base.Add(30 * time.Minute)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionHeating),
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 18.0),
		numberSample(base.Add(25*time.Minute), 18.9),
	}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 21.0)}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, end, 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, end, cycles[0].EndTime)
	assert.Equal(t, 18.9, cycles[0].EndTemp)
}

func TestExtractHeatingCycles_DurationGate(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	// Cycle of 3 minutes, below the 5 minute floor.
	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(3*time.Minute), domain.ModeOff, domain.ActionOff),
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{numberSample(base, 18.0)}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 21.0)}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(10*time.Minute), 0)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestExtractHeatingCycles_NoOverlap(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(30*time.Minute), domain.ModeOff, domain.ActionOff),
		climateSample(base.Add(60*time.Minute), domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(90*time.Minute), domain.ModeOff, domain.ActionOff),
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 18.0),
		numberSample(base.Add(30*time.Minute), 18.5),
		numberSample(base.Add(60*time.Minute), 18.2),
		numberSample(base.Add(90*time.Minute), 18.8),
	}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 21.0)}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	for i := 0; i+1 < len(cycles); i++ {
		assert.False(t, cycles[i].EndTime.After(cycles[i+1].StartTime))
	}
}

func TestExtractHeatingCycles_Splitting(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	// 100 minute cycle, split into 30 minute sub-cycles.
	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(100*time.Minute), domain.ModeOff, domain.ActionOff),
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 18.0),
		numberSample(base.Add(100*time.Minute), 20.0),
	}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 22.0)}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(2*time.Hour), 30)
	require.NoError(t, err)
	require.Len(t, cycles, 4) // 3 full sub-cycles plus a 10 minute remainder

	var total float64
	for _, c := range cycles {
		total += c.DurationMinutes()
		assert.Empty(t, c.TariffDetails)
		assert.Equal(t, 22.0, c.TargetTemp)
	}
	assert.InDelta(t, 100.0, total, 0.001)

	// Boundary temperatures interpolate linearly and chain across sub-cycles.
	assert.Equal(t, 18.0, cycles[0].StartTemp)
	assert.InDelta(t, 18.6, cycles[0].EndTemp, 0.001)
	assert.InDelta(t, cycles[0].EndTemp, cycles[1].StartTemp, 0.001)
	assert.Equal(t, 20.0, cycles[len(cycles)-1].EndTemp)
}

func TestExtractHeatingCycles_EnergyAndTariff(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(60*time.Minute), domain.ModeOff, domain.ActionOff),
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 18.0),
		numberSample(base.Add(60*time.Minute), 19.5),
	}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 21.0)}
	ds.Data[domain.KeyHeatingEnergy] = []domain.HistoricalMeasurement{
		numberSample(base, 100.0),
		numberSample(base.Add(30*time.Minute), 101.0),
		numberSample(base.Add(60*time.Minute), 102.5),
	}
	// Price changes halfway through the cycle.
	ds.Data[domain.KeyTariffPrice] = []domain.HistoricalMeasurement{
		numberSample(base, 0.20),
		numberSample(base.Add(30*time.Minute), 0.40),
	}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	c := cycles[0]
	require.Len(t, c.TariffDetails, 2)
	assert.InDelta(t, 2.5, c.TotalEnergyKWh(), 0.001)
	assert.InDelta(t, 1.0, c.TariffDetails[0].EnergyKWh, 0.001)
	assert.InDelta(t, 0.20, c.TariffDetails[0].PriceEURPerKWh, 0.001)
	assert.InDelta(t, 1.5, c.TariffDetails[1].EnergyKWh, 0.001)
	assert.InDelta(t, 0.40, c.TariffDetails[1].PriceEURPerKWh, 0.001)
	assert.InDelta(t, 1.0*0.20+1.5*0.40, c.TotalCostEuro(), 0.001)
}

func TestExtractHeatingCycles_MeterResetYieldsZeroEnergy(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(30*time.Minute), domain.ModeOff, domain.ActionOff),
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 18.0),
		numberSample(base.Add(30*time.Minute), 18.8),
	}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 21.0)}
	ds.Data[domain.KeyHeatingEnergy] = []domain.HistoricalMeasurement{
		numberSample(base, 500.0),
		numberSample(base.Add(30*time.Minute), 2.0), // meter reset
	}
	ds.Data[domain.KeyTariffPrice] = []domain.HistoricalMeasurement{numberSample(base, 0.25)}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Zero(t, cycles[0].TotalEnergyKWh())
}

func TestExtractHeatingCycles_EnergyWithoutTariffKeepsBreakdownEmpty(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base, domain.ModeHeat, domain.ActionHeating),
		climateSample(base.Add(30*time.Minute), domain.ModeOff, domain.ActionOff),
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 18.0),
		numberSample(base.Add(30*time.Minute), 18.8),
	}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 21.0)}
	ds.Data[domain.KeyHeatingEnergy] = []domain.HistoricalMeasurement{
		numberSample(base, 100.0),
		numberSample(base.Add(30*time.Minute), 101.5),
	}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	// Without a pricing feed there is nothing to attribute cost to.
	assert.Empty(t, cycles[0].TariffDetails)
	assert.Zero(t, cycles[0].TotalEnergyKWh())
	assert.Zero(t, cycles[0].TotalCostEuro())
}

func TestExtractHeatingCycles_TruthyFallbackWithoutClimate(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{})

	// A plain switch entity: "on"/"off" states, no climate attributes.
	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		{Timestamp: base, Value: domain.StateValue("on")},
		{Timestamp: base.Add(20 * time.Minute), Value: domain.StateValue("off")},
	}
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{
		numberSample(base, 18.0),
		numberSample(base.Add(20*time.Minute), 18.5),
	}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 21.0)}

	cycles, err := svc.ExtractHeatingCycles("switch_1", ds, base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, 18.0, cycles[0].StartTemp)
	assert.Equal(t, 18.5, cycles[0].EndTemp)
}

func TestExtractHeatingCycles_MaxLookbackSkipsStaleTemps(t *testing.T) {
	base := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	svc := NewHeatingCycleService(CycleExtractionConfig{MaxLookback: 10 * time.Minute})

	ds := domain.NewHistoricalDataSet()
	ds.Data[domain.KeyHeatingState] = []domain.HistoricalMeasurement{
		climateSample(base.Add(2*time.Hour), domain.ModeHeat, domain.ActionHeating),
	}
	// Only a reading from two hours before the heating sample.
	ds.Data[domain.KeyIndoorTemp] = []domain.HistoricalMeasurement{numberSample(base, 18.0)}
	ds.Data[domain.KeyTargetTemp] = []domain.HistoricalMeasurement{numberSample(base, 21.0)}

	cycles, err := svc.ExtractHeatingCycles("thermostat_1", ds, base, base.Add(3*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}
