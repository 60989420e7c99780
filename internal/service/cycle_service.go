package service

import (
	"log"
	"sort"
	"time"

	"github.com/heatpilot/backend/internal/domain"
	"github.com/heatpilot/backend/pkg/utils"
)

// CycleExtractionConfig tunes cycle detection. Zero values fall back to the
// documented defaults via Normalize.
type CycleExtractionConfig struct {
	// TempDeltaThreshold is the target-minus-indoor gap in °C above which a
	// heating sample can open a cycle.
	TempDeltaThreshold float64

	// SplitDurationMinutes cuts long cycles into equal sub-cycles of this
	// length. 0 disables splitting.
	SplitDurationMinutes int

	MinCycleDurationMinutes int
	MaxCycleDurationMinutes int

	// MaxLookback bounds how far back the last-known-value temperature lookup
	// may reach. 0 means unbounded.
	MaxLookback time.Duration
}

const (
	defaultTempDeltaThreshold = 0.2
	defaultMinCycleMinutes    = 5
	defaultMaxCycleMinutes    = 300

	// syntheticCloseTemp stands in for the indoor temperature when a cycle is
	// closed at the search boundary and no reading exists at all.
	syntheticCloseTemp = 20.0
)

// Normalize fills unset fields with defaults.
func (c CycleExtractionConfig) Normalize() CycleExtractionConfig {
	if c.TempDeltaThreshold == 0 {
		c.TempDeltaThreshold = defaultTempDeltaThreshold
	}
	if c.MinCycleDurationMinutes == 0 {
		c.MinCycleDurationMinutes = defaultMinCycleMinutes
	}
	if c.MaxCycleDurationMinutes == 0 {
		c.MaxCycleDurationMinutes = defaultMaxCycleMinutes
	}
	return c
}

// HeatingCycleService segments raw telemetry into discrete heating cycles with
// per-tariff-period energy and cost breakdowns. Pure and deterministic over
// its inputs; all state lives in the config.
type HeatingCycleService struct {
	cfg CycleExtractionConfig
}

// NewHeatingCycleService creates a cycle extraction service.
func NewHeatingCycleService(cfg CycleExtractionConfig) *HeatingCycleService {
	return &HeatingCycleService{cfg: cfg.Normalize()}
}

// ExtractHeatingCycles walks the heating-state series of dataset within
// [start, end] and returns the closed, duration-filtered cycles in order.
// splitOverride, when positive, overrides the configured split duration.
//
// Returns MissingDataError when indoor temp, target temp, or heating state is
// absent or empty.
func (s *HeatingCycleService) ExtractHeatingCycles(
	deviceID string,
	dataset domain.HistoricalDataSet,
	start, end time.Time,
	splitOverride int,
) ([]domain.HeatingCycle, error) {
	if err := validateCriticalData(dataset); err != nil {
		return nil, err
	}

	splitMinutes := s.cfg.SplitDurationMinutes
	if splitOverride > 0 {
		splitMinutes = splitOverride
	}

	states := sortedByTime(dataset.Series(domain.KeyHeatingState))

	var (
		cycleStart      *time.Time
		cycleStartTemp  float64
		cycleTargetTemp float64
		cycles          []domain.HeatingCycle
	)

	for _, m := range states {
		modeOn, actionActive := heatingFlags(m)

		indoor := s.valueAt(dataset.Series(domain.KeyIndoorTemp), m.Timestamp)
		target := s.valueAt(dataset.Series(domain.KeyTargetTemp), m.Timestamp)
		if indoor == nil || target == nil {
			continue
		}

		if cycleStart == nil {
			if modeOn && actionActive && *target-*indoor > s.cfg.TempDeltaThreshold {
				ts := m.Timestamp
				cycleStart = &ts
				cycleStartTemp = *indoor
				cycleTargetTemp = *target
			}
			continue
		}

		if ended, reason := s.cycleEnded(modeOn, *indoor, *target); ended {
			log.Printf("cycle for %s ended at %s (%s)", deviceID, m.Timestamp.Format(time.RFC3339), reason)
			created := s.buildCycles(deviceID, *cycleStart, m.Timestamp, cycleStartTemp, *indoor, cycleTargetTemp, dataset, splitMinutes)
			cycles = append(cycles, created...)
			cycleStart = nil
		}
	}

	// A cycle still open at the search boundary closes synthetically there.
	if cycleStart != nil {
		endTemp := syntheticCloseTemp
		if v := s.valueAt(dataset.Series(domain.KeyIndoorTemp), end); v != nil {
			endTemp = *v
		}
		created := s.buildCycles(deviceID, *cycleStart, end, cycleStartTemp, endTemp, cycleTargetTemp, dataset, splitMinutes)
		cycles = append(cycles, created...)
	}

	return cycles, nil
}

func validateCriticalData(dataset domain.HistoricalDataSet) error {
	for _, key := range []domain.DataKey{domain.KeyIndoorTemp, domain.KeyTargetTemp, domain.KeyHeatingState} {
		if len(dataset.Series(key)) == 0 {
			return &domain.MissingDataError{Key: key}
		}
	}
	return nil
}

// heatingFlags derives the two booleans that drive cycle detection: whether
// the system is allowed to heat and whether it is actually producing heat.
// Samples from non-climate sources fall back to value truthiness.
func heatingFlags(m domain.HistoricalMeasurement) (modeOn, actionActive bool) {
	if m.Climate != nil {
		return m.Climate.Mode.AllowsHeating(), m.Climate.Action.IsHeating()
	}
	t := m.Value.Truthy()
	return t, t
}

func (s *HeatingCycleService) cycleEnded(modeOn bool, indoor, target float64) (bool, string) {
	if !modeOn {
		return true, "mode_disabled"
	}
	if indoor >= target-s.cfg.TempDeltaThreshold {
		return true, "target_reached_or_within_threshold"
	}
	return false, ""
}

// buildCycles turns a closed [start, end] interval into zero or more cycles:
// none if the duration gate rejects it, one plain cycle, or the split
// sub-cycles when splitting applies.
func (s *HeatingCycleService) buildCycles(
	deviceID string,
	start, end time.Time,
	startTemp, endTemp, targetTemp float64,
	dataset domain.HistoricalDataSet,
	splitMinutes int,
) []domain.HeatingCycle {
	durationMinutes := end.Sub(start).Minutes()
	if durationMinutes < float64(s.cfg.MinCycleDurationMinutes) || durationMinutes > float64(s.cfg.MaxCycleDurationMinutes) {
		return nil
	}

	if splitMinutes > 0 && durationMinutes > float64(splitMinutes) {
		return s.splitCycle(deviceID, start, end, startTemp, endTemp, targetTemp, splitMinutes)
	}

	_, tariff := s.tariffBreakdown(dataset, start, end)
	cycle, err := domain.NewHeatingCycle(deviceID, start, end, startTemp, endTemp, targetTemp, tariff)
	if err != nil {
		return nil
	}
	return []domain.HeatingCycle{cycle}
}

// splitCycle cuts a long cycle into equal sub-cycles with linearly
// interpolated boundary temperatures, plus a remainder. Tariff detail is left
// empty on sub-cycles: they are training augmentation records, not accounting.
func (s *HeatingCycleService) splitCycle(
	deviceID string,
	start, end time.Time,
	startTemp, endTemp, targetTemp float64,
	splitMinutes int,
) []domain.HeatingCycle {
	durationMinutes := end.Sub(start).Minutes()
	if durationMinutes == 0 {
		return nil
	}
	numSub := int(durationMinutes / float64(splitMinutes))
	remainder := durationMinutes - float64(numSub)*float64(splitMinutes)

	var out []domain.HeatingCycle
	subStart := start
	subStartTemp := startTemp
	for i := 0; i < numSub; i++ {
		subEnd := subStart.Add(time.Duration(splitMinutes) * time.Minute)
		frac := subEnd.Sub(start).Minutes() / durationMinutes
		subEndTemp := utils.Lerp(startTemp, endTemp, frac)

		cycle, err := domain.NewHeatingCycle(deviceID, subStart, subEnd, subStartTemp, subEndTemp, targetTemp, nil)
		if err == nil {
			out = append(out, cycle)
		}
		subStart = subEnd
		subStartTemp = subEndTemp
	}

	if remainder > 0 {
		remEnd := subStart.Add(time.Duration(remainder * float64(time.Minute)))
		cycle, err := domain.NewHeatingCycle(deviceID, subStart, remEnd, subStartTemp, endTemp, targetTemp, nil)
		if err == nil {
			out = append(out, cycle)
		}
	}
	return out
}

// energyKWh reads the cumulative meter difference over [start, end], clamped
// at zero so meter resets never produce negative energy.
func (s *HeatingCycleService) energyKWh(dataset domain.HistoricalDataSet, start, end time.Time) float64 {
	series := dataset.Series(domain.KeyHeatingEnergy)
	if len(series) == 0 {
		return 0
	}
	a := s.valueAt(series, start)
	b := s.valueAt(series, end)
	if a == nil || b == nil {
		return 0
	}
	if *b < *a {
		return 0
	}
	return *b - *a
}

// runtimeMinutes sums the instantaneous on-time samples inside [start, end].
// The runtime key is not cumulative; each sample is the on-duration observed
// at that snapshot. Falls back to the wall-clock duration when absent.
func (s *HeatingCycleService) runtimeMinutes(dataset domain.HistoricalDataSet, start, end time.Time) float64 {
	fallback := end.Sub(start).Minutes()
	series := dataset.Series(domain.KeyHeatingRuntime)
	if len(series) == 0 {
		return fallback
	}
	var totalSeconds float64
	for _, m := range series {
		if m.Timestamp.Before(start) || m.Timestamp.After(end) {
			continue
		}
		if !m.Value.Numeric {
			log.Printf("skipping non-numeric runtime sample at %s", m.Timestamp.Format(time.RFC3339))
			continue
		}
		totalSeconds += m.Value.Number
	}
	if totalSeconds <= 0 {
		return fallback
	}
	return totalSeconds / 60.0
}

// tariffBreakdown segments [start, end] at every tariff price change and
// attributes energy, runtime, and cost to each segment. Empty when the tariff
// or energy series is absent.
func (s *HeatingCycleService) tariffBreakdown(dataset domain.HistoricalDataSet, start, end time.Time) (float64, []domain.TariffPeriodDetail) {
	tariffSeries := sortedByTime(dataset.Series(domain.KeyTariffPrice))
	energySeries := dataset.Series(domain.KeyHeatingEnergy)
	if len(energySeries) == 0 {
		return 0, nil
	}
	if len(tariffSeries) == 0 {
		return 0, nil
	}

	startPrice := 0.0
	if p := s.valueAt(tariffSeries, start); p != nil {
		startPrice = *p
	}

	boundaries := []time.Time{start}
	prevPrice := startPrice
	for _, m := range tariffSeries {
		if !m.Timestamp.After(start) {
			continue
		}
		if m.Timestamp.After(end) {
			break
		}
		if !m.Value.Numeric {
			log.Printf("skipping non-numeric tariff sample at %s", m.Timestamp.Format(time.RFC3339))
			continue
		}
		if m.Value.Number != prevPrice {
			boundaries = append(boundaries, m.Timestamp)
			prevPrice = m.Value.Number
		}
	}
	boundaries = append(boundaries, end)

	var (
		totalCost float64
		details   []domain.TariffPeriodDetail
	)
	for i := 0; i+1 < len(boundaries); i++ {
		a, b := boundaries[i], boundaries[i+1]

		segEnergy := s.energyKWh(dataset, a, b)
		price := 0.0
		if p := s.valueAt(tariffSeries, a); p != nil {
			price = *p
		}
		cost := segEnergy * price

		details = append(details, domain.TariffPeriodDetail{
			PriceEURPerKWh:         price,
			EnergyKWh:              segEnergy,
			HeatingDurationMinutes: s.segmentRuntimeMinutes(dataset, a, b),
			CostEuro:               cost,
		})
		totalCost += cost
	}
	return totalCost, details
}

// segmentRuntimeMinutes sums on-time samples in the half-open [a, b), with
// wall-clock fallback, mirroring runtimeMinutes over a tariff segment.
func (s *HeatingCycleService) segmentRuntimeMinutes(dataset domain.HistoricalDataSet, a, b time.Time) float64 {
	fallback := b.Sub(a).Minutes()
	series := dataset.Series(domain.KeyHeatingRuntime)
	if len(series) == 0 {
		return fallback
	}
	var totalSeconds float64
	for _, m := range series {
		if m.Timestamp.Before(a) || !m.Timestamp.Before(b) {
			continue
		}
		if !m.Value.Numeric {
			continue
		}
		totalSeconds += m.Value.Number
	}
	if totalSeconds <= 0 {
		return fallback
	}
	return totalSeconds / 60.0
}

// valueAt returns the numeric value of the most recent sample at or before t,
// honoring the configured lookback bound. Nil when no usable sample exists.
func (s *HeatingCycleService) valueAt(series []domain.HistoricalMeasurement, t time.Time) *float64 {
	var closest *domain.HistoricalMeasurement
	for i := range series {
		m := &series[i]
		if m.Timestamp.After(t) {
			continue
		}
		if s.cfg.MaxLookback > 0 && t.Sub(m.Timestamp) > s.cfg.MaxLookback {
			continue
		}
		if closest == nil || m.Timestamp.After(closest.Timestamp) {
			closest = m
		}
	}
	if closest == nil {
		return nil
	}
	if !closest.Value.Numeric {
		log.Printf("could not read numeric value from sample at %s", closest.Timestamp.Format(time.RFC3339))
		return nil
	}
	v := closest.Value.Number
	return &v
}

func sortedByTime(series []domain.HistoricalMeasurement) []domain.HistoricalMeasurement {
	out := make([]domain.HistoricalMeasurement, len(series))
	copy(out, series)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
