package service

import (
	"sort"

	"github.com/heatpilot/backend/internal/domain"
)

// DefaultLearnedSlope is re-exported for the callers of this package.
const DefaultLearnedSlope = domain.DefaultLearnedSlope

// LearnedSlopeService aggregates per-cycle heating slopes into a single
// learned rate, globally or restricted to cycles active at an hour of day.
type LearnedSlopeService struct{}

func NewLearnedSlopeService() *LearnedSlopeService {
	return &LearnedSlopeService{}
}

// CalculateGlobalLHS is the arithmetic mean of the average heating slope
// across all cycles. Returns the conservative default when no cycles exist.
func (s *LearnedSlopeService) CalculateGlobalLHS(cycles []domain.HeatingCycle) float64 {
	if len(cycles) == 0 {
		return DefaultLearnedSlope
	}
	var sum float64
	for _, c := range cycles {
		sum += c.AvgHeatingSlope()
	}
	return sum / float64(len(cycles))
}

// CalculateContextualLHS averages only the cycles that were actively heating
// at targetHour. A cycle ending on a later calendar day than it started
// crosses midnight and matches hours on either side of it. Falls back to the
// global average when no cycle is active at that hour or the filtered average
// is not positive.
func (s *LearnedSlopeService) CalculateContextualLHS(cycles []domain.HeatingCycle, targetHour int) (float64, error) {
	if targetHour < 0 || targetHour > 23 {
		return 0, &domain.InvalidRangeError{Field: "target_hour", Reason: "must be within 0..23"}
	}

	targetMinute := targetHour * 60
	var matched []domain.HeatingCycle
	for _, c := range cycles {
		startMinute := c.StartTime.Hour()*60 + c.StartTime.Minute()
		endMinute := c.EndTime.Hour()*60 + c.EndTime.Minute()
		sy, sd := c.StartTime.Year(), c.StartTime.YearDay()
		ey, ed := c.EndTime.Year(), c.EndTime.YearDay()

		var active bool
		if sy == ey && sd == ed {
			active = startMinute <= targetMinute && targetMinute < endMinute
		} else {
			// Crosses midnight.
			active = targetMinute >= startMinute || targetMinute < endMinute
		}
		if active {
			matched = append(matched, c)
		}
	}

	if len(matched) == 0 {
		return s.CalculateGlobalLHS(cycles), nil
	}
	var sum float64
	for _, c := range matched {
		sum += c.AvgHeatingSlope()
	}
	avg := sum / float64(len(matched))
	if avg <= 0 {
		return s.CalculateGlobalLHS(cycles), nil
	}
	return avg, nil
}

// CalculateSimpleAverage is the plain arithmetic mean, kept for diagnostics
// alongside the robust statistic. The conservative default for an empty input.
func (s *LearnedSlopeService) CalculateSimpleAverage(values []float64) float64 {
	if len(values) == 0 {
		return DefaultLearnedSlope
	}
	return mean(values)
}

// RobustAverage is a 10% two-sided trimmed mean over a raw slope history.
// Fewer than 4 samples use a simple mean; if trimming would consume
// everything, the median wins. At least one sample is trimmed from each side.
func RobustAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < 4 {
		return mean(values)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	trim := len(sorted) / 10
	if trim < 1 {
		trim = 1
	}
	if 2*trim >= len(sorted) {
		return median(sorted)
	}
	return mean(sorted[trim : len(sorted)-trim])
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// median expects values to be sorted.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
